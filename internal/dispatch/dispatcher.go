package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"spider_go/internal/infra"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Unit is one piece of work for an instrument.
type Unit func(ctx context.Context) error

// Options configures a Dispatcher.
type Options struct {
	Workers   int // W: upper bound on worker queues
	QueueSize int // Q: capacity of each queue
	Logger    *slog.Logger
	Metrics   *infra.Metrics
}

type queue struct {
	id int
	ch chan Unit
}

// Dispatcher runs units on a bounded pool of FIFO worker queues. A key is
// bound to one queue the first time it is seen and stays there, so units of
// the same key run one at a time in submission order.
type Dispatcher struct {
	workers   int
	queueSize int
	logger    *slog.Logger
	metrics   *infra.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues []*queue
	assign map[string]*queue
	next   int // round-robin index once the pool is full
}

// New creates a dispatcher. Workers run until ctx is done or Close is called.
func New(ctx context.Context, opt Options) *Dispatcher {
	if opt.Workers < 1 {
		opt.Workers = 1
	}
	if opt.QueueSize < 1 {
		opt.QueueSize = 1
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		workers:   opt.Workers,
		queueSize: opt.QueueSize,
		logger:    opt.Logger.With(slog.String("module", "dispatch")),
		metrics:   opt.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make([]*queue, 0, opt.Workers),
		assign:    make(map[string]*queue),
	}
}

// Dispatch enqueues u on the queue bound to key. It blocks while that queue
// is full and returns early only when ctx ends or the dispatcher is closed.
func (d *Dispatcher) Dispatch(ctx context.Context, key string, u Unit) error {
	q, err := d.bind(key)
	if err != nil {
		return err
	}
	select {
	case q.ch <- u:
		d.metrics.SetQueueDepth(q.id, len(q.ch))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrClosed
	}
}

func (d *Dispatcher) bind(key string) (*queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if q, ok := d.assign[key]; ok {
		return q, nil
	}

	var q *queue
	if len(d.queues) < d.workers {
		q = &queue{id: len(d.queues), ch: make(chan Unit, d.queueSize)}
		d.queues = append(d.queues, q)
		d.wg.Add(1)
		go d.work(q)
		d.metrics.SetQueues(len(d.queues))
	} else {
		q = d.queues[d.next]
		d.next = (d.next + 1) % len(d.queues)
	}
	d.assign[key] = q
	return q, nil
}

func (d *Dispatcher) work(q *queue) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case u := <-q.ch:
			d.run(q, u)
		}
	}
}

func (d *Dispatcher) run(q *queue, u Unit) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordUnitFailure()
			d.logger.Error("unit panicked", slog.Int("queue", q.id), slog.Any("panic", r))
		}
	}()
	if err := u(d.ctx); err != nil {
		d.metrics.RecordUnitFailure()
		d.logger.Error("unit failed", slog.Int("queue", q.id), slog.Any("error", err))
	}
}

// QueueCount returns how many worker queues exist.
func (d *Dispatcher) QueueCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// QueueOf returns the queue a key is bound to.
func (d *Dispatcher) QueueOf(key string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.assign[key]
	if !ok {
		return 0, false
	}
	return q.id, true
}

// Depths returns the backlog of every queue, indexed by queue id.
func (d *Dispatcher) Depths() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.queues))
	for i, q := range d.queues {
		out[i] = len(q.ch)
		d.metrics.SetQueueDepth(i, out[i])
	}
	return out
}

// Close stops the workers and waits for the running units to return.
// Units still queued are dropped.
func (d *Dispatcher) Close() {
	// Under mu so no bind can start a worker once Wait begins.
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("dispatcher(queues=%d/%d, size=%d)", d.QueueCount(), d.workers, d.queueSize)
}
