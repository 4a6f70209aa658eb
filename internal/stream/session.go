package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"spider_go/internal/domain"

	"github.com/gorilla/websocket"
)

// ErrReplyTimeout is returned by SendAndWait when no matching frame arrives in time.
var ErrReplyTimeout = errors.New("reply timeout")

// Waiter inspects inbound frames on behalf of SendAndWait. It returns
// done=true once the awaited reply was seen, with err set on a negative reply.
type Waiter func(frame []byte) (done bool, err error)

type pending struct {
	match  Waiter
	result chan error
}

// Session is one live connection. Its token identifies the connection: once
// the supervisor moves to another connection the session reports Stale and
// background work holding it must stop.
type Session struct {
	token        uint64
	sup          *Supervisor
	conn         Conn
	ctx          context.Context
	writeTimeout time.Duration

	writeMu sync.Mutex

	waitMu  sync.Mutex
	waiters map[uint64]*pending
	nextID  uint64
}

func newSession(ctx context.Context, sup *Supervisor, token uint64, conn Conn) *Session {
	return &Session{
		token:        token,
		sup:          sup,
		conn:         conn,
		ctx:          ctx,
		writeTimeout: sup.opt.WriteTimeout,
		waiters:      make(map[uint64]*pending),
	}
}

// Token returns the connection identity.
func (s *Session) Token() uint64 { return s.token }

// Stale reports whether this session is no longer the live connection.
func (s *Session) Stale() bool { return s.sup.live.Load() != s.token }

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// Send writes v as a JSON text frame.
func (s *Session) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(b)
}

// SendRaw writes a text frame. A write failure ends the session so the
// supervisor reconnects.
func (s *Session) SendRaw(b []byte) error {
	if s.Stale() {
		return domain.ErrStaleConnection
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		nerr := domain.NewNetworkError("write", err)
		s.sup.kill(s.token, nerr)
		return nerr
	}
	return nil
}

// SendAndWait sends v and blocks until match accepts an inbound frame, the
// timeout passes or ctx ends.
func (s *Session) SendAndWait(ctx context.Context, v any, match Waiter, timeout time.Duration) error {
	id, p := s.register(match)
	defer s.unregister(id)

	if err := s.Send(v); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-p.result:
		return err
	case <-timer.C:
		return ErrReplyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) register(match Waiter) (uint64, *pending) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	s.nextID++
	p := &pending{match: match, result: make(chan error, 1)}
	s.waiters[s.nextID] = p
	return s.nextID, p
}

func (s *Session) unregister(id uint64) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	delete(s.waiters, id)
}

// offer shows a frame to every pending waiter. The frame still goes to the handler.
func (s *Session) offer(frame []byte) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	for id, p := range s.waiters {
		done, err := p.match(frame)
		if !done {
			continue
		}
		p.result <- err
		delete(s.waiters, id)
	}
}
