package vocals

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Session owns one open duplex stream. One goroutine may Write while another
// Reads; Finish must only be called once the reader has stopped.
type Session struct {
	id      string
	service Service
	stream  Stream
	logger  *VocalsLogger

	state   atomic.Int32
	reading atomic.Bool

	// writeMu serializes Send against CloseSend on the same stream.
	writeMu       sync.Mutex
	req           Request
	seq           int64
	writeErr      error
	halfCloseOnce sync.Once
	halfCloseErr  error

	mu         sync.Mutex
	recvErr    error
	last       *Response
	abortCause error
	abortOnce  sync.Once

	finishOnce sync.Once
	outcome    *Outcome
}

// SessionOption configures Open.
type SessionOption func(*Session)

// WithSessionLogger sets the logger used by the session.
func WithSessionLogger(logger *VocalsLogger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open establishes a stream for cfg.Service and sends cfg as its first
// message. Any failure is reported as a connection error.
func Open(ctx context.Context, t Transport, cfg StreamConfig, opts ...SessionOption) (*Session, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	s := &Session{
		id:      cfg.SessionID,
		service: cfg.Service,
		logger:  GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("Session").WithField("session_id", s.id)
	s.state.Store(int32(SessionCreated))

	stream, err := t.OpenStream(ctx, cfg.Service)
	if err != nil {
		return nil, NewConnectionError("failed to open stream", err).AddDetail("service", string(cfg.Service))
	}
	s.stream = stream

	s.req.Config = &cfg
	if err := stream.Send(&s.req); err != nil {
		_ = stream.Close()
		return nil, NewConnectionError("failed to send stream config", err).AddDetail("service", string(cfg.Service))
	}
	s.req.reset()

	s.state.Store(int32(SessionStreaming))
	s.logger.LogSessionEvent("opened", SessionStreaming, map[string]interface{}{
		"service": string(cfg.Service),
		"model":   cfg.Model,
	})
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Service() Service {
	return s.service
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Write sends one chunk. It returns false once the stream is no longer
// writable; callers must not write again after that.
func (s *Session) Write(chunk CaptureChunk) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeErr != nil || s.State() != SessionStreaming {
		return false
	}

	data := chunk.Data
	if chunk.Size > 0 && chunk.Size < len(data) {
		data = data[:chunk.Size]
	}

	s.req.reset()
	s.seq++
	s.req.Seq = s.seq
	switch chunk.Kind {
	case ChunkImage:
		s.req.Image = data
	case ChunkText:
		s.req.Text = string(data)
	default:
		s.req.Audio = data
	}

	if err := s.stream.Send(&s.req); err != nil {
		s.writeErr = err
		s.logger.WithError(err).Debugf("write %d failed, stream no longer writable", s.seq)
		return false
	}
	return true
}

// Read blocks for the next response. io.EOF means the server ended the
// stream cleanly; any other error also ends the stream and its status is
// reported by Finish.
func (s *Session) Read() (ResponseEvent, error) {
	if !s.reading.CompareAndSwap(false, true) {
		return nil, NewVocalsError("concurrent Read on session", ErrCodeSessionState)
	}
	defer s.reading.Store(false)

	if s.State() == SessionFinished {
		return nil, io.EOF
	}
	if err := s.endErr(); err != nil {
		return nil, sessionReadErr(err)
	}

	resp, err := s.stream.Recv()
	if err != nil {
		s.setRecvErr(err)
		return nil, sessionReadErr(err)
	}

	s.mu.Lock()
	s.last = resp
	s.mu.Unlock()
	return DecodeResponse(s.service, resp), nil
}

// LastResponse returns the most recently read response.
func (s *Session) LastResponse() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// HalfClose signals that no more writes follow. Only the first call reaches
// the transport; later calls return the first call's result.
func (s *Session) HalfClose() error {
	s.halfCloseOnce.Do(func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		s.halfCloseErr = s.stream.CloseSend()
		if s.state.CompareAndSwap(int32(SessionStreaming), int32(SessionHalfClosed)) {
			s.logger.LogSessionEvent("half_closed", SessionHalfClosed, map[string]interface{}{
				"requests": s.seq,
			})
		}
	})
	return s.halfCloseErr
}

// Abort tears down the transport, unblocking any pending Read or Write.
// cause becomes the session's outcome.
func (s *Session) Abort(cause error) {
	s.abortOnce.Do(func() {
		s.mu.Lock()
		s.abortCause = cause
		s.mu.Unlock()
		s.logger.WithError(cause).Warn("aborting stream")
		_ = s.stream.Close()
	})
}

// Finish half-closes the stream if needed, drains responses nobody read,
// waits for the server to end the stream and returns its Outcome.
func (s *Session) Finish(ctx context.Context) (*Outcome, error) {
	if s.reading.Load() {
		return nil, NewVocalsError("Finish called while a Read is in flight", ErrCodeSessionState)
	}

	s.finishOnce.Do(func() {
		if err := s.HalfClose(); err != nil {
			s.logger.WithError(err).Debug("half-close failed")
		}

		if s.endErr() == nil {
			s.drain(ctx)
		}

		s.mu.Lock()
		cause := s.abortCause
		if cause == nil {
			cause = s.recvErr
		}
		s.mu.Unlock()

		s.outcome = outcomeFromError(cause)
		_ = s.stream.Close()
		s.state.Store(int32(SessionFinished))
		s.logger.LogSessionEvent("finished", SessionFinished, map[string]interface{}{
			"outcome": s.outcome.String(),
		})
	})
	return s.outcome, nil
}

func (s *Session) drain(ctx context.Context) {
	done := make(chan int)
	go func() {
		n := 0
		for {
			if _, err := s.stream.Recv(); err != nil {
				s.setRecvErr(err)
				done <- n
				return
			}
			n++
		}
	}()

	var drained int
	select {
	case drained = <-done:
	case <-ctx.Done():
		s.Abort(ctx.Err())
		drained = <-done
	}
	if drained > 0 {
		s.logger.Debugf("discarded %d unread responses", drained)
	}
}

func (s *Session) endErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvErr
}

func (s *Session) setRecvErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recvErr == nil {
		s.recvErr = err
	}
}

func sessionReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}
