package vocals

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// inferenceServer answers Transcribe and Enroll streams.
type inferenceServer struct {
	tokens chan string
}

func (s *inferenceServer) transcribe(_ any, stream grpc.ServerStream) error {
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		select {
		case s.tokens <- strings.Join(md.Get("authorization"), ","):
		default:
		}
	}

	var cfg Request
	if err := stream.RecvMsg(&cfg); err != nil {
		return err
	}
	if cfg.Config == nil {
		return status.Error(codes.InvalidArgument, "first message must carry config")
	}
	if cfg.Config.Model == "missing" {
		return status.Error(codes.NotFound, "no such model")
	}

	for {
		var req Request
		err := stream.RecvMsg(&req)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		resp := &Response{Seq: req.Seq, Transcript: &TranscriptResult{Text: fmt.Sprintf("%d bytes", len(req.Audio))}}
		if err := stream.SendMsg(resp); err != nil {
			return err
		}
	}
}

func (s *inferenceServer) enroll(_ any, stream grpc.ServerStream) error {
	var cfg Request
	if err := stream.RecvMsg(&cfg); err != nil {
		return err
	}
	pct := 0.0
	for {
		var req Request
		err := stream.RecvMsg(&req)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		pct += 50
		progress := &EnrollmentProgress{PercentComplete: pct}
		if pct >= 100 {
			progress.EnrollmentID = "enr-" + cfg.Config.UserID
		}
		if err := stream.SendMsg(&Response{Seq: req.Seq, Enrollment: progress}); err != nil {
			return err
		}
	}
}

func startInferenceServer(t *testing.T, tokens TokenProvider) (*GRPCTransport, *inferenceServer) {
	t.Helper()
	impl := &inferenceServer{tokens: make(chan string, 8)}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: GRPCServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{StreamName: "Transcribe", Handler: impl.transcribe, ServerStreams: true, ClientStreams: true},
			{StreamName: "Enroll", Handler: impl.enroll, ServerStreams: true, ClientStreams: true},
		},
	}, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	transport, err := NewGRPCTransport("passthrough:///bufnet", GRPCOptions{
		Insecure: true,
		Tokens:   tokens,
		Logger:   NewNopLogger(),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })
	return transport, impl
}

func TestGRPCMethod(t *testing.T) {
	assert.Equal(t, "/vocals.v1.Inference/Transcribe", GRPCMethod(ServiceTranscribe))
	assert.Equal(t, "/vocals.v1.Inference/Authenticate", GRPCMethod(ServiceAuthenticate))
	assert.Equal(t, "/vocals.v1.Inference/", GRPCMethod(""))
}

func TestGRPCTransport_Transcribe(t *testing.T) {
	transport, impl := startInferenceServer(t, StaticToken("grpc-token"))

	var texts []string
	handler := CreateTranscriptionHandler(func(text string, _ bool) { texts = append(texts, text) })
	ctrl := NewController(transport, transcribeConfig(), WithLogger(NewNopLogger()))

	res, err := ctrl.Run(context.Background(), NewSliceSource(audioChunks(3, 100)...), handler)
	require.NoError(t, err)

	assert.True(t, res.Outcome.OK())
	assert.Equal(t, 3, res.ChunksSent)
	assert.Equal(t, []string{"100 bytes", "100 bytes", "100 bytes"}, texts)
	assert.Equal(t, "Bearer grpc-token", <-impl.tokens)
}

func TestGRPCTransport_EnrollCompletes(t *testing.T) {
	transport, _ := startInferenceServer(t, nil)

	cfg := ControllerConfig{
		Stream:            StreamConfig{Service: ServiceEnroll, UserID: "alice", SampleRate: 16000, Channels: 1},
		RequireCompletion: true,
	}
	res, err := NewController(transport, cfg, WithLogger(NewNopLogger())).
		Run(context.Background(), NewSliceSource(audioChunks(2, 100)...), nil)
	require.NoError(t, err)
	assert.Equal(t, "enr-alice", EnrollmentID(res))
	assert.True(t, res.Succeeded())
}

func TestGRPCTransport_ServerStatusIsProtocolError(t *testing.T) {
	transport, _ := startInferenceServer(t, nil)

	cfg := transcribeConfig()
	cfg.Stream.Model = "missing"
	_, err := NewController(transport, cfg, WithLogger(NewNopLogger())).
		Run(context.Background(), NewSliceSource(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "failed with (5): no such model", FailureLine(err))
}

func TestGRPCTransport_UnknownService(t *testing.T) {
	transport, _ := startInferenceServer(t, nil)

	stream, err := transport.OpenStream(context.Background(), ServiceChat)
	require.NoError(t, err)
	defer stream.Close()

	_ = stream.Send(&Request{Config: &StreamConfig{Service: ServiceChat}})
	_ = stream.CloseSend()
	_, err = stream.Recv()
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestGRPCTransport_CloseCancelsStream(t *testing.T) {
	transport, _ := startInferenceServer(t, nil)

	stream, err := transport.OpenStream(context.Background(), ServiceTranscribe)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&Request{Config: &StreamConfig{Service: ServiceTranscribe}}))

	require.NoError(t, stream.Close())
	_, err = stream.Recv()
	assert.Equal(t, codes.Canceled, status.Code(err))
}

func TestGRPCTransport_TokenFailure(t *testing.T) {
	transport, _ := startInferenceServer(t, failingTokens{})

	_, err := transport.OpenStream(context.Background(), ServiceTranscribe)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
