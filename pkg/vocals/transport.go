package vocals

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Transport opens duplex streams to the inference service.
type Transport interface {
	OpenStream(ctx context.Context, service Service) (Stream, error)
	Close() error
}

// Stream is one bidirectional exchange. It supports one concurrent sender
// and one concurrent receiver. Recv returns io.EOF when the server ended the
// stream with an OK status, and a status error otherwise.
type Stream interface {
	Send(*Request) error
	Recv() (*Response, error)
	CloseSend() error
	// Close tears the stream down; blocked Send/Recv calls return.
	Close() error
}

// TokenProvider supplies the bearer token sent when a stream is opened.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a fixed token.
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

// outcomeFromError maps the error that ended a stream to its Outcome.
func outcomeFromError(err error) *Outcome {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return &Outcome{Code: codes.OK}
	case errors.Is(err, context.Canceled):
		return &Outcome{Code: codes.Canceled, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &Outcome{Code: codes.DeadlineExceeded, Message: err.Error()}
	}
	if st, ok := status.FromError(err); ok {
		return &Outcome{Code: st.Code(), Message: st.Message()}
	}
	return &Outcome{Code: codes.Unknown, Message: err.Error()}
}
