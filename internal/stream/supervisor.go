package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"spider_go/internal/domain"
	"spider_go/internal/infra"
)

// State of the supervised connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	SettingUp
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case SettingUp:
		return "setting_up"
	case Streaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Handler is the exchange-specific side of a connection.
type Handler interface {
	// Endpoint resolves the URL to dial.
	Endpoint(ctx context.Context) (string, error)
	// OnConnect runs on the receive goroutine before any frame is read.
	OnConnect(sess *Session)
	// Setup authenticates and subscribes. It runs concurrently with the
	// receive loop and must return when ctx ends.
	Setup(ctx context.Context, sess *Session) error
	// HandleFrame decodes and applies one frame. An error drops the frame only.
	HandleFrame(ctx context.Context, sess *Session, frame []byte) error
}

// Options tunes a Supervisor.
type Options struct {
	StaleThreshold   time.Duration
	WatchdogPeriod   time.Duration
	WatchdogCooldown time.Duration
	ReconnectBackoff time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 disables keep-alive pings
	PingMessage      []byte

	Logger  *slog.Logger
	Metrics *infra.Metrics
	Gate    *infra.RateGate // throttles failure logs
}

// Supervisor keeps one connection alive forever: connect, set up, read,
// and start over after a fixed backoff whenever the connection fails or
// goes silent.
type Supervisor struct {
	handler Handler
	dialer  Dialer
	opt     Options
	logger  *slog.Logger
	metrics *infra.Metrics
	gate    *infra.RateGate

	state         atomic.Int32
	nextToken     atomic.Uint64
	live          atomic.Uint64 // token of the live session, 0 when none
	lastMessageAt atomic.Int64  // unix nanos

	mu          sync.Mutex
	killToken   uint64
	killSession context.CancelCauseFunc
	cancelSetup context.CancelFunc
}

// NewSupervisor creates a supervisor. Run starts it.
func NewSupervisor(handler Handler, dialer Dialer, opt Options) *Supervisor {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Gate == nil {
		opt.Gate = infra.NewRateGate(100, 0.2)
	}
	if opt.StaleThreshold <= 0 {
		opt.StaleThreshold = 50 * time.Second
	}
	if opt.WatchdogPeriod <= 0 {
		opt.WatchdogPeriod = opt.StaleThreshold
	}
	if opt.PingInterval > 0 && len(opt.PingMessage) == 0 {
		opt.PingMessage = []byte("ping")
	}
	return &Supervisor{
		handler: handler,
		dialer:  dialer,
		opt:     opt,
		logger:  opt.Logger.With(slog.String("module", "stream")),
		metrics: opt.Metrics,
		gate:    opt.Gate,
	}
}

// Token returns the identity of the most recent connection (0 before the first).
func (s *Supervisor) Token() uint64 { return s.nextToken.Load() }

// State returns the current connection state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// LastMessageAt returns when the last frame was processed.
func (s *Supervisor) LastMessageAt() time.Time {
	return time.Unix(0, s.lastMessageAt.Load())
}

// Reconnect tears down the live connection. Run dials again after the backoff.
func (s *Supervisor) Reconnect(cause error) bool {
	return s.kill(s.live.Load(), cause)
}

// Run supervises the connection until ctx ends. It never returns on
// connectivity failures.
func (s *Supervisor) Run(ctx context.Context) error {
	go s.watchdog(ctx)
	for {
		err := s.runSession(ctx)
		s.setState(Disconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.metrics.RecordReconnect()
		if s.gate.Allow() {
			s.logger.Warn("⚠️ stream session ended, reconnecting",
				slog.Any("error", err),
				slog.Duration("backoff", s.opt.ReconnectBackoff),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opt.ReconnectBackoff):
		}
	}
}

func (s *Supervisor) runSession(ctx context.Context) error {
	s.setState(Connecting)

	url, err := s.handler.Endpoint(ctx)
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return domain.NewNetworkError("connect", err)
	}

	sessCtx, kill := context.WithCancelCause(ctx)
	token := s.nextToken.Add(1)
	sess := newSession(sessCtx, s, token, conn)

	s.mu.Lock()
	s.killToken, s.killSession = token, kill
	s.live.Store(token)
	s.mu.Unlock()
	s.touch()

	var wg sync.WaitGroup
	defer func() {
		s.kill(token, context.Canceled)
		conn.Close()
		wg.Wait()
	}()

	s.logger.Info("✅ stream connected", slog.String("url", url), slog.Uint64("token", token))

	s.handler.OnConnect(sess)
	s.setState(SettingUp)

	setupCtx := s.replaceSetup(sessCtx)
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.setup(setupCtx, sess)
	}()
	go func() {
		defer wg.Done()
		// Closing the conn unblocks ReadMessage.
		<-sessCtx.Done()
		conn.Close()
	}()
	if s.opt.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ping(sessCtx, sess)
		}()
	}
	return s.receive(sessCtx, sess)
}

// replaceSetup cancels a still pending setup of an earlier connection and
// derives the context for the next one.
func (s *Supervisor) replaceSetup(parent context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelSetup != nil {
		s.cancelSetup()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancelSetup = cancel
	return ctx
}

func (s *Supervisor) setup(ctx context.Context, sess *Session) {
	err := s.handler.Setup(ctx, sess)
	if err == nil {
		if !sess.Stale() {
			s.setState(Streaming)
		}
		return
	}
	if ctx.Err() != nil || sess.Stale() {
		return
	}

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		s.metrics.RecordAuthFailure()
	}
	s.logger.Error("❌ stream setup failed", slog.Any("error", err), slog.Uint64("token", sess.token))
	s.kill(sess.token, fmt.Errorf("setup: %w", err))
}

func (s *Supervisor) receive(ctx context.Context, sess *Session) error {
	for {
		_, frame, err := sess.conn.ReadMessage()
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return domain.NewNetworkError("read", err)
		}
		s.metrics.RecordFrame()
		sess.offer(frame)

		if err := s.handler.HandleFrame(ctx, sess, frame); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			s.metrics.RecordDecodeFailure("frame")
			if s.gate.Allow() {
				s.logger.Warn("frame dropped", slog.Any("error", err), slog.Int("size", len(frame)))
			}
			continue
		}
		s.touch()
	}
}

// watchdog lives as long as Run and follows whichever session is live.
// After a kill it sleeps the cooldown before checking again.
func (s *Supervisor) watchdog(ctx context.Context) {
	ticker := time.NewTicker(s.opt.WatchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		token := s.live.Load()
		if token == 0 {
			continue
		}

		silence := time.Since(s.LastMessageAt())
		if silence <= s.opt.StaleThreshold {
			continue
		}

		stale := &domain.StaleError{Silence: silence, Threshold: s.opt.StaleThreshold}
		if !s.kill(token, stale) {
			continue
		}
		s.metrics.RecordStaleKill()
		s.logger.Warn("⏱️ stream stale, forcing reconnect",
			slog.Duration("silence", silence),
			slog.Uint64("token", token),
			slog.Duration("cooldown", s.opt.WatchdogCooldown),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opt.WatchdogCooldown):
		}
	}
}

func (s *Supervisor) ping(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(s.opt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.Stale() {
				return
			}
			if err := sess.SendRaw(s.opt.PingMessage); err != nil {
				return
			}
		}
	}
}

// kill ends the session holding token. It returns false when that session
// is already gone.
func (s *Supervisor) kill(token uint64, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == 0 || s.killToken != token || !s.live.CompareAndSwap(token, 0) {
		return false
	}
	s.killSession(cause)
	return true
}

func (s *Supervisor) touch() {
	s.lastMessageAt.Store(time.Now().UnixNano())
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))
}
