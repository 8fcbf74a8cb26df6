package vocals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StreamStatus is the last frame the server sends on a WebSocket stream.
// Code uses the gRPC status code numbering.
type StreamStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// ServerFrame is a server → client WebSocket frame: either a Response or,
// once, the final Status.
type ServerFrame struct {
	Response
	Status *StreamStatus `json:"status,omitempty"`
}

// WebSocketOptions configures NewWebSocketTransport.
type WebSocketOptions struct {
	Tokens               TokenProvider
	Headers              map[string]string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HandshakeTimeout     time.Duration
	Logger               *VocalsLogger
}

// WebSocketTransport opens one WebSocket connection per session at
// <endpoint>/<service>.
type WebSocketTransport struct {
	endpoint string
	opts     WebSocketOptions
	dialer   *websocket.Dialer
	logger   *VocalsLogger
}

func NewWebSocketTransport(endpoint string, opts WebSocketOptions) *WebSocketTransport {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 1
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &WebSocketTransport{
		endpoint: strings.TrimRight(endpoint, "/"),
		opts:     opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.WithComponent("WebSocketTransport").WithField("endpoint", endpoint),
	}
}

func (t *WebSocketTransport) OpenStream(ctx context.Context, service Service) (Stream, error) {
	header := make(http.Header)
	if t.opts.Tokens != nil {
		token, err := t.opts.Tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range t.opts.Headers {
		header.Set(k, v)
	}

	url := t.endpoint + "/" + string(service)
	var lastErr error
	for attempt := 1; attempt <= t.opts.MaxReconnectAttempts; attempt++ {
		conn, resp, err := t.dialer.DialContext(ctx, url, header)
		if err == nil {
			return &wsStream{conn: conn}, nil
		}
		lastErr = err
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, NewAuthError(fmt.Sprintf("handshake rejected with HTTP %d", resp.StatusCode))
		}
		if attempt == t.opts.MaxReconnectAttempts {
			break
		}

		t.logger.WithError(err).Debugf("connection attempt %d failed, retrying in %s", attempt, t.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.opts.ReconnectDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", t.opts.MaxReconnectAttempts, lastErr)
}

func (t *WebSocketTransport) Close() error {
	return nil
}

type wsStream struct {
	conn *websocket.Conn

	writeMu    sync.Mutex
	halfClosed bool

	closed atomic.Bool
	done   bool
}

func (s *wsStream) Send(req *Request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.halfClosed {
		return errors.New("send after half-close")
	}
	return s.conn.WriteJSON(req)
}

func (s *wsStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.halfClosed {
		return nil
	}
	s.halfClosed = true
	return s.conn.WriteJSON(&Request{EndOfStream: true})
}

// Recv is only called from one goroutine, so done needs no lock.
func (s *wsStream) Recv() (*Response, error) {
	if s.done {
		return nil, status.Error(codes.FailedPrecondition, "stream already ended")
	}

	var frame ServerFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		s.done = true
		return nil, s.readError(err)
	}

	if st := frame.Status; st != nil {
		s.done = true
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if codes.Code(st.Code) == codes.OK {
			return nil, io.EOF
		}
		return nil, status.Error(codes.Code(st.Code), st.Message)
	}
	resp := frame.Response
	return &resp, nil
}

func (s *wsStream) readError(err error) error {
	if s.closed.Load() {
		return status.Error(codes.Canceled, "stream closed")
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return status.Errorf(codes.Internal, "malformed frame: %v", err)
	}
	return status.Errorf(codes.Unavailable, "connection ended without status: %v", err)
}

func (s *wsStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		return s.conn.Close()
	}
	return nil
}
