package vocals

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

// GRPCServiceName is the fully qualified name of the streaming service.
const GRPCServiceName = "vocals.v1.Inference"

const jsonCodecName = "json"

// jsonCodec carries Request/Response as JSON over gRPC framing.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCMethod returns the full method name of a service's bidi RPC, e.g.
// "/vocals.v1.Inference/Transcribe".
func GRPCMethod(service Service) string {
	name := string(service)
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return "/" + GRPCServiceName + "/" + name
}

// GRPCTransport opens one bidirectional gRPC stream per session over a
// shared client connection.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	tokens TokenProvider
	logger *VocalsLogger
}

// GRPCOptions configures NewGRPCTransport.
type GRPCOptions struct {
	Insecure    bool
	Tokens      TokenProvider
	Logger      *VocalsLogger
	DialOptions []grpc.DialOption
}

func NewGRPCTransport(target string, opts GRPCOptions) (*GRPCTransport, error) {
	var creds credentials.TransportCredentials
	if opts.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, NewConnectionError("failed to create grpc client", err).AddDetail("target", target)
	}

	logger := opts.Logger
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &GRPCTransport{
		conn:   conn,
		tokens: opts.Tokens,
		logger: logger.WithComponent("GRPCTransport").WithField("target", target),
	}, nil
}

func (t *GRPCTransport) OpenStream(ctx context.Context, service Service) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	if t.tokens != nil {
		token, err := t.tokens.AccessToken(ctx)
		if err != nil {
			cancel()
			return nil, err
		}
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+token)
	}

	method := GRPCMethod(service)
	desc := &grpc.StreamDesc{
		StreamName:    method[strings.LastIndex(method, "/")+1:],
		ClientStreams: true,
		ServerStreams: true,
	}
	cs, err := t.conn.NewStream(streamCtx, desc, method, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		cancel()
		return nil, err
	}
	t.logger.Debugf("opened stream %s", method)
	return &grpcStream{cs: cs, cancel: cancel}, nil
}

func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

type grpcStream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc
}

func (s *grpcStream) Send(req *Request) error {
	return s.cs.SendMsg(req)
}

func (s *grpcStream) Recv() (*Response, error) {
	resp := new(Response)
	if err := s.cs.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcStream) CloseSend() error {
	return s.cs.CloseSend()
}

func (s *grpcStream) Close() error {
	s.cancel()
	return nil
}
