package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/qm4/kbchat/internal/sse"
)

const maxErrorBody = 4096

// State is the liveness of a Session. It only moves from StateActive to
// one of the terminal states, once.
type State int32

const (
	StateActive State = iota
	StateCompleted
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Session is one streaming call.
type Session struct {
	id       string
	state    atomic.Int32
	err      atomic.Pointer[Error]
	sawDone  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	handlers Handlers
	logger   *slog.Logger
}

func newSession(id string, cancel context.CancelFunc, h Handlers, l *slog.Logger) *Session {
	return &Session{
		id:       id,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: h,
		logger:   l,
	}
}

// ID returns the session id sent as X-Request-Id.
func (s *Session) ID() string { return s.id }

// State returns the current liveness state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the read loop has exited and the body is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session has ended and returns its final state.
func (s *Session) Wait() State {
	<-s.done
	return s.State()
}

// Err returns the transport error that ended the session, if any.
func (s *Session) Err() error {
	if e := s.err.Load(); e != nil {
		return e
	}
	return nil
}

// Completed reports whether the terminal "done" message was received.
// A body that ends without it leaves the session completed with this false.
func (s *Session) Completed() bool { return s.sawDone.Load() }

// Cancel aborts the session. It is safe to call more than once, from any
// goroutine, including from inside a handler. No handler starts after the
// first call, and OnError is never called for the abort.
func (s *Session) Cancel() {
	if s.transition(StateCancelled) {
		s.logger.Debug("stream cancelled")
	}
	s.cancel()
}

func (s *Session) transition(to State) bool {
	return s.state.CompareAndSwap(int32(StateActive), int32(to))
}

func (s *Session) active() bool {
	return s.State() == StateActive
}

func (s *Session) run(ctx context.Context, c *Client, req *http.Request, reqErr *Error) {
	defer close(s.done)
	defer s.cancel()

	if reqErr != nil {
		s.fail(ctx, reqErr)
		return
	}

	s.logger.Debug("opening stream", "url", req.URL.String())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		s.fail(ctx, newConnectionError(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.fail(ctx, newStatusError(resp.StatusCode, body))
		return
	}

	asm := sse.NewAssembler(sse.DecoderFor(resp.Header.Get("Content-Type")))
	for frame, err := range asm.Frames(resp.Body) {
		if err != nil {
			s.fail(ctx, newReadError(err))
			return
		}
		if !s.dispatch(frame) {
			return
		}
	}

	if rest := asm.Remainder(); rest != "" {
		if !c.emitTrailing {
			s.logger.Debug("dropping unterminated trailing frame", "bytes", len(rest))
		} else if !s.dispatch(rest) {
			return
		}
	}

	if s.transition(StateCompleted) {
		s.logger.Warn("stream ended without done message")
	}
}

// dispatch handles one frame and reports whether reading should go on.
func (s *Session) dispatch(frame string) bool {
	if !s.active() {
		return false
	}

	msg, ok, err := sse.ParseFrame(frame)
	if err != nil {
		s.logger.Warn("skipping malformed frame", "error", err)
		return true
	}
	if !ok {
		return true
	}

	if h := s.handlers.OnMessage; h != nil {
		s.invoke("message", func() { h(msg) })
	}

	if msg.IsDone() {
		if !s.transition(StateCompleted) {
			return false
		}
		s.sawDone.Store(true)
		s.logger.Debug("stream completed")
		if h := s.handlers.OnComplete; h != nil {
			s.invoke("complete", func() { h(msg) })
		}
		return false
	}

	return s.active()
}

// fail ends the session with err unless the context was cancelled, in which
// case the failure is the abort itself and is not reported.
func (s *Session) fail(ctx context.Context, err *Error) {
	if ctx.Err() != nil {
		if s.transition(StateCancelled) {
			s.logger.Debug("stream aborted", "cause", context.Cause(ctx))
		}
		return
	}
	if !s.transition(StateErrored) {
		return
	}

	s.err.Store(err)
	s.logger.Error("stream failed", "error", err, "status", err.StatusCode)
	if h := s.handlers.OnError; h != nil {
		s.invoke("error", func() { h(err) })
	}
}

func (s *Session) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "handler", name, "panic", r)
		}
	}()
	fn()
}
