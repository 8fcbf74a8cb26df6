// Package vocals is a Go client for the Vocals speech and biometric
// inference service. Every service (transcription, voice enrollment and
// authentication, face liveness, synthesis, chat) is one duplex stream:
// the client sends a configuration message followed by capture chunks
// while the server answers with partial and final results.
//
// # Overview
//
// The package is built from three layers:
//   - CaptureSource produces fixed-size chunks: WAV files, raw readers,
//     image directories, text lines or a PortAudio microphone (see the
//     device subpackage).
//   - Session owns one open stream. It sends the configuration first,
//     serializes writes against half-close, decodes responses into
//     PartialEvent, CompleteEvent or ErrorEvent and reports the final
//     Outcome.
//   - Controller runs a writer and a reader goroutine over a Session,
//     enforces quotas and deadlines and turns the result into a single
//     coded error.
//
// # Quick Start
//
//	config, err := vocals.LoadConfig("vocals.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	client, err := vocals.NewClient(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	src, err := vocals.OpenWAVSource("hello.wav", config.ChunkSize)
//	if err != nil {
//		log.Fatal(err)
//	}
//	transcript := vocals.NewTranscriptCollector()
//	if _, err := client.Transcribe(ctx, src, transcript.Handler()); err != nil {
//		fmt.Println(vocals.FailureLine(err))
//		os.Exit(1)
//	}
//	fmt.Println(transcript.Transcript())
//
// # Configuration
//
// VocalsConfig is resolved from defaults, an optional YAML file, VOCALS_*
// environment variables (a .env file is loaded too) and finally CLI flags:
//
//	transport: grpc
//	server_address: inference.example.com:443
//	chunk_size: 3200
//	deadline: 30s
//	idle_timeout: 5s
//
// # Transports
//
// GRPCTransport opens a bidirectional gRPC stream per session using a JSON
// codec. WebSocketTransport speaks the same messages as JSON frames, ending
// the request side with an end_of_stream frame and receiving a final status
// frame. Both report stream status with gRPC status codes.
//
// # Errors
//
// Every failure is a *VocalsError with a code. The sentinels ErrConnection,
// ErrProtocol, ErrCapture, ErrQuotaExhausted and ErrTimeout match with
// errors.Is:
//
//	res, err := client.Enroll(ctx, "alice", mic, nil)
//	switch {
//	case errors.Is(err, vocals.ErrQuotaExhausted):
//		// not enough speech to complete the enrollment
//	case errors.Is(err, vocals.ErrTimeout):
//		// deadline or idle timeout
//	}
//
// # Logging and metrics
//
// Logging goes through VocalsLogger, a thin zerolog wrapper. Metrics are
// Prometheus collectors on a private registry:
//
//	m := vocals.NewMetrics("vocals")
//	client, _ := vocals.NewClient(config, vocals.WithClientMetrics(m))
//	http.Handle("/metrics", m.Handler())
package vocals
