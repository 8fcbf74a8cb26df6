package vocals

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
)

const defaultFinishTimeout = 10 * time.Second

// ControllerConfig bounds one streaming session.
type ControllerConfig struct {
	Stream StreamConfig

	// MaxChunks stops writes after this many chunks. Zero means unbounded.
	MaxChunks int
	// MaxDuration stops writes once this much PCM16 audio has been sent.
	// Needs Stream.SampleRate.
	MaxDuration time.Duration
	// RequireCompletion makes a stream that ends without a CompleteEvent
	// fail with ErrQuotaExhausted.
	RequireCompletion bool

	// Deadline bounds the whole session, IdleTimeout the gap between
	// responses. Either expiring aborts the stream with ErrTimeout.
	Deadline    time.Duration
	IdleTimeout time.Duration

	// FinishTimeout bounds the final drain after both loops stopped.
	FinishTimeout time.Duration
}

// Controller drives a Session: one goroutine pumps capture chunks into it,
// another dispatches its responses, and it reports the final outcome.
type Controller struct {
	transport Transport
	cfg       ControllerConfig
	logger    *VocalsLogger
	metrics   *Metrics
}

type ControllerOption func(*Controller)

func WithLogger(logger *VocalsLogger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) {
		c.metrics = m
	}
}

func NewController(transport Transport, cfg ControllerConfig, opts ...ControllerOption) *Controller {
	c := &Controller{
		transport: transport,
		cfg:       cfg,
		logger:    GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("Controller")
	return c
}

// Run streams source through a new session and dispatches every response
// to handler, in server order. The source is closed before Run returns.
func (c *Controller) Run(ctx context.Context, source CaptureSource, handler EventHandler) (*RunResult, error) {
	defer func() {
		if err := source.Close(); err != nil {
			c.logger.WithError(err).Warn("failed to release capture source")
		}
	}()

	service := c.cfg.Stream.Service
	start := time.Now()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if c.cfg.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Deadline)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	sess, err := Open(runCtx, c.transport, c.cfg.Stream, WithSessionLogger(c.logger))
	if err != nil {
		c.metrics.sessionFailed(service, ErrCodeConnectionFailed)
		return nil, err
	}
	c.metrics.sessionStarted(service)

	stopWatch := context.AfterFunc(runCtx, func() { sess.Abort(runCtx.Err()) })

	var idleFired atomic.Bool
	var idle *time.Timer
	if c.cfg.IdleTimeout > 0 {
		idle = time.AfterFunc(c.cfg.IdleTimeout, func() {
			idleFired.Store(true)
			sess.Abort(context.DeadlineExceeded)
			cancel()
		})
	}

	var terminal atomic.Bool
	writeCtx, stopWrites := context.WithCancel(runCtx)
	defer stopWrites()
	markTerminal := func() {
		if terminal.CompareAndSwap(false, true) {
			stopWrites()
		}
	}

	res := &RunResult{SessionID: sess.ID(), Service: service}
	var (
		captureErr error
		final      *CompleteEvent
		inband     *ErrorEvent
	)

	var g errgroup.Group
	g.Go(func() error {
		captureErr = c.writeLoop(writeCtx, sess, source, res, &terminal)
		if err := sess.HalfClose(); err != nil {
			c.logger.WithError(err).Debug("half-close failed")
		}
		return nil
	})
	g.Go(func() error {
		for {
			ev, err := sess.Read()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.WithError(err).Debug("read loop ended")
				}
				markTerminal()
				return nil
			}
			if idle != nil {
				idle.Reset(c.cfg.IdleTimeout)
			}
			res.EventsRead++
			c.metrics.eventReceived(service, ev)
			c.logger.LogResponseEvent(ev)

			stop := false
			if handler != nil {
				stop = handler(ev)
			}
			switch e := ev.(type) {
			case *CompleteEvent:
				if final == nil {
					final = e
				}
				stop = true
			case *ErrorEvent:
				if inband == nil {
					inband = e
				}
				stop = true
			case *PartialEvent:
			}
			if stop {
				markTerminal()
			}
		}
	})
	_ = g.Wait()

	stopWatch()
	if idle != nil {
		idle.Stop()
	}

	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), c.finishTimeout())
	defer cancelFinish()
	outcome, err := sess.Finish(finishCtx)
	if err != nil {
		return nil, err
	}

	res.Outcome = outcome
	res.Final = final
	res.Duration = time.Since(start)

	runErr := c.classify(ctx, runCtx, idleFired.Load(), captureErr, inband, res)
	label := "ok"
	if runErr != nil {
		var vErr *VocalsError
		if errors.As(runErr, &vErr) {
			label = vErr.Code
		} else {
			label = ErrCodeUnknown
		}
	}
	c.metrics.sessionFinished(service, label, res)
	c.logger.LogResult(res)
	return res, runErr
}

func (c *Controller) writeLoop(ctx context.Context, sess *Session, source CaptureSource, res *RunResult, terminal *atomic.Bool) error {
	for {
		if terminal.Load() {
			return nil
		}
		if c.quotaReached(res) {
			res.QuotaReached = true
			c.logger.Debugf("quota reached after %d chunks", res.ChunksSent)
			return nil
		}

		chunk, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return asCaptureError(err)
		}
		// The session may have ended while the source was blocked.
		if terminal.Load() || ctx.Err() != nil {
			return nil
		}

		if !sess.Write(chunk) {
			return nil
		}
		res.ChunksSent++
		res.BytesSent += int64(len(chunk.Data))
		c.metrics.chunkSent(c.cfg.Stream.Service, len(chunk.Data))
	}
}

func (c *Controller) quotaReached(res *RunResult) bool {
	if c.cfg.MaxChunks > 0 && res.ChunksSent >= c.cfg.MaxChunks {
		return true
	}
	if c.cfg.MaxDuration > 0 && c.cfg.Stream.SampleRate > 0 {
		channels := c.cfg.Stream.Channels
		if channels <= 0 {
			channels = 1
		}
		bytesPerSecond := float64(c.cfg.Stream.SampleRate * channels * 2)
		sent := time.Duration(float64(res.BytesSent) / bytesPerSecond * float64(time.Second))
		return sent >= c.cfg.MaxDuration
	}
	return false
}

// classify picks the single error Run reports. Timeouts and caller
// cancellation win over everything they caused.
func (c *Controller) classify(ctx, runCtx context.Context, idleFired bool, captureErr error, inband *ErrorEvent, res *RunResult) error {
	switch {
	case idleFired:
		return NewTimeoutError("no response within idle timeout", context.DeadlineExceeded).
			AddDetail("idle_timeout", c.cfg.IdleTimeout.String())
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewTimeoutError("session deadline exceeded", ctx.Err())
		}
		return NewConnectionError("session cancelled", ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return NewTimeoutError("session deadline exceeded", runCtx.Err()).
			AddDetail("deadline", c.cfg.Deadline.String())
	case captureErr != nil:
		return captureErr
	case !res.Outcome.OK():
		if res.Outcome.Code == codes.Unavailable {
			return NewConnectionError("stream broke", nil).
				AddDetail("status_code", int(res.Outcome.Code)).
				AddDetail("status", res.Outcome.Message)
		}
		return NewProtocolError(res.Outcome)
	case inband != nil:
		return NewVocalsError(inband.Message, ErrCodeProtocol).AddDetail("server_code", inband.Code)
	case c.cfg.RequireCompletion && res.Final == nil:
		return NewQuotaExhaustedError(res.ChunksSent)
	}
	return nil
}

func (c *Controller) finishTimeout() time.Duration {
	if c.cfg.FinishTimeout > 0 {
		return c.cfg.FinishTimeout
	}
	return defaultFinishTimeout
}

func asCaptureError(err error) error {
	if IsErrorCode(err, ErrCodeCapture) {
		return err
	}
	return NewCaptureError("capture source failed", 0, err.Error(), err)
}
