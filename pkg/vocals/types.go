package vocals

import (
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
)

// Result types for error handling
type Result[T any] struct {
	Data    T
	Error   *VocalsError
	Success bool
}

func Ok[T any](data T) Result[T] {
	return Result[T]{Data: data, Success: true}
}

func Err[T any](err *VocalsError) Result[T] {
	return Result[T]{Error: err, Success: false}
}

// ValidatedApiKey is an API key that passed ValidateApiKeyFormat
type ValidatedApiKey string

// SessionState enum
type SessionState int32

const (
	SessionCreated SessionState = iota
	SessionStreaming
	SessionHalfClosed
	SessionFinished
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionStreaming:
		return "streaming"
	case SessionHalfClosed:
		return "half_closed"
	case SessionFinished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Service selects the inference RPC a session talks to.
type Service string

const (
	ServiceTranscribe   Service = "transcribe"
	ServiceEnroll       Service = "enroll"
	ServiceAuthenticate Service = "authenticate"
	ServiceLiveness     Service = "liveness"
	ServiceSynthesize   Service = "synthesize"
	ServiceChat         Service = "chat"
)

// ChunkKind enum
type ChunkKind string

const (
	ChunkAudio ChunkKind = "audio"
	ChunkImage ChunkKind = "image"
	ChunkText  ChunkKind = "text"
)

// CaptureChunk is one fixed-size unit of sensor data. Data must not be
// modified after the chunk is handed to a Session.
type CaptureChunk struct {
	Data []byte
	Size int
	Kind ChunkKind
	Seq  int64
}

// Outcome is the final status of a stream.
type Outcome struct {
	Code    codes.Code
	Message string
}

func (o *Outcome) OK() bool {
	return o != nil && o.Code == codes.OK
}

func (o *Outcome) String() string {
	if o == nil {
		return "<none>"
	}
	if o.Message == "" {
		return o.Code.String()
	}
	return fmt.Sprintf("%s: %s", o.Code, o.Message)
}

// RunResult is what a Controller reports once a session has finished.
type RunResult struct {
	SessionID    string
	Service      Service
	Outcome      *Outcome
	Final        *CompleteEvent
	ChunksSent   int
	BytesSent    int64
	EventsRead   int
	QuotaReached bool
	Duration     time.Duration
}

// Succeeded reports whether the stream ended OK and, when a terminal event
// was observed, whether it carried success.
func (r *RunResult) Succeeded() bool {
	if r == nil || !r.Outcome.OK() {
		return false
	}
	if r.Final != nil {
		return r.Final.Success
	}
	return true
}

// Handler types
type EventHandler func(ResponseEvent) (stop bool)
type ErrorHandler func(*VocalsError)
