package vocals

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsServer upgrades every request and hands the connection to handle.
func wsServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoTranscripts answers every chunk with a transcript and ends OK after
// end_of_stream.
func echoTranscripts(conn *websocket.Conn, _ *http.Request) {
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		switch {
		case req.EndOfStream:
			_ = conn.WriteJSON(ServerFrame{Status: &StreamStatus{Code: int(codes.OK)}})
			_, _, _ = conn.ReadMessage()
			return
		case req.Config != nil:
		default:
			_ = conn.WriteJSON(ServerFrame{Response: Response{
				Seq:        req.Seq,
				Transcript: &TranscriptResult{Text: fmt.Sprintf("chunk %d: %d bytes", req.Seq, len(req.Audio))},
			}})
		}
	}
}

func TestWebSocketTransport_StreamsThroughController(t *testing.T) {
	headers := make(chan http.Header, 1)
	paths := make(chan string, 1)
	srv := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header
		paths <- r.URL.Path
		echoTranscripts(conn, r)
	})

	transport := NewWebSocketTransport(wsURL(srv)+"/v1/stream/", WebSocketOptions{
		Tokens:  StaticToken("tok-123"),
		Headers: map[string]string{"X-Client": "vocals-go"},
		Logger:  NewNopLogger(),
	})
	defer transport.Close()

	var texts []string
	handler := CreateTranscriptionHandler(func(text string, _ bool) { texts = append(texts, text) })
	ctrl := NewController(transport, transcribeConfig(), WithLogger(NewNopLogger()))

	res, err := ctrl.Run(context.Background(), NewSliceSource(audioChunks(3, 64)...), handler)
	require.NoError(t, err)

	assert.True(t, res.Outcome.OK())
	assert.Equal(t, []string{"chunk 1: 64 bytes", "chunk 2: 64 bytes", "chunk 3: 64 bytes"}, texts)

	h := <-headers
	assert.Equal(t, "Bearer tok-123", h.Get("Authorization"))
	assert.Equal(t, "vocals-go", h.Get("X-Client"))
	assert.Equal(t, "/v1/stream/transcribe", <-paths)
}

func TestWebSocketTransport_NonOKStatus(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(ServerFrame{Status: &StreamStatus{Code: int(codes.Unauthenticated), Message: "token expired"}})
		_, _, _ = conn.ReadMessage()
	})

	ctrl := NewController(NewWebSocketTransport(wsURL(srv), WebSocketOptions{Logger: NewNopLogger()}),
		transcribeConfig(), WithLogger(NewNopLogger()))
	_, err := ctrl.Run(context.Background(), NewSliceSource(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "failed with (16): token expired", FailureLine(err))
}

func TestWebSocketTransport_DropWithoutStatusIsUnavailable(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var req Request
		_ = conn.ReadJSON(&req)
	})

	transport := NewWebSocketTransport(wsURL(srv), WebSocketOptions{Logger: NewNopLogger()})
	stream, err := transport.OpenStream(context.Background(), ServiceTranscribe)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(&Request{Config: &StreamConfig{Service: ServiceTranscribe}}))
	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = stream.Recv()
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestWebSocketTransport_MalformedFrameIsInternal(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_, _, _ = conn.ReadMessage()
	})

	stream, err := NewWebSocketTransport(wsURL(srv), WebSocketOptions{Logger: NewNopLogger()}).
		OpenStream(context.Background(), ServiceChat)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestWebSocketTransport_CloseUnblocksRecv(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
	})

	stream, err := NewWebSocketTransport(wsURL(srv), WebSocketOptions{Logger: NewNopLogger()}).
		OpenStream(context.Background(), ServiceTranscribe)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())

	select {
	case err := <-errCh:
		assert.Equal(t, codes.Canceled, status.Code(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestWebSocketTransport_SendAfterHalfClose(t *testing.T) {
	received := make(chan Request, 4)
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			received <- req
		}
	})

	stream, err := NewWebSocketTransport(wsURL(srv), WebSocketOptions{Logger: NewNopLogger()}).
		OpenStream(context.Background(), ServiceTranscribe)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.CloseSend())
	require.NoError(t, stream.CloseSend())
	assert.Error(t, stream.Send(&Request{Seq: 1}))

	req := <-received
	assert.True(t, req.EndOfStream)
	select {
	case extra := <-received:
		t.Fatalf("unexpected frame after end_of_stream: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketTransport_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewWebSocketTransport(wsURL(srv), WebSocketOptions{
		Tokens:               StaticToken("expired"),
		MaxReconnectAttempts: 3,
		Logger:               NewNopLogger(),
	}).OpenStream(context.Background(), ServiceEnroll)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeAuthFailed))
	assert.True(t, IsCriticalError(err))
}

func TestWebSocketTransport_RetriesHandshake(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	stream, err := NewWebSocketTransport(wsURL(srv), WebSocketOptions{
		MaxReconnectAttempts: 3,
		ReconnectDelay:       10 * time.Millisecond,
		Logger:               NewNopLogger(),
	}).OpenStream(context.Background(), ServiceTranscribe)
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestWebSocketTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWebSocketTransport(wsURL(srv), WebSocketOptions{
		MaxReconnectAttempts: 2,
		ReconnectDelay:       time.Millisecond,
		Logger:               NewNopLogger(),
	}).OpenStream(context.Background(), ServiceTranscribe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect after 2 attempts")
	assert.Equal(t, int32(2), attempts.Load())
}

func TestWebSocketTransport_TokenFailure(t *testing.T) {
	_, err := NewWebSocketTransport("ws://127.0.0.1:1", WebSocketOptions{
		Tokens: failingTokens{},
		Logger: NewNopLogger(),
	}).OpenStream(context.Background(), ServiceTranscribe)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type failingTokens struct{}

func (failingTokens) AccessToken(context.Context) (string, error) {
	return "", io.ErrUnexpectedEOF
}
