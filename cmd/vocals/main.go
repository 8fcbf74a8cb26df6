package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rojolang/vocals-duplex-go/pkg/vocals"
)

var (
	configPath  string
	verbose     bool
	jsonDump    bool
	server      string
	transport   string
	insecure    bool
	wsEndpoint  string
	model       string
	chunkSize   int
	maxChunks   int
	deadline    time.Duration
	idleTimeout time.Duration
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "vocals",
		Short:         "Vocals streaming inference CLI",
		Long:          "Stream audio, images or text to the Vocals inference service",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVar(&jsonDump, "json", false, "Print every raw response as JSON")
	pf.StringVar(&server, "server", "", "gRPC server address")
	pf.StringVar(&transport, "transport", "", "Transport: grpc or websocket")
	pf.BoolVar(&insecure, "insecure", false, "Disable TLS for gRPC")
	pf.StringVar(&wsEndpoint, "ws-endpoint", "", "WebSocket endpoint URL")
	pf.StringVar(&model, "model", "", "Model name")
	pf.IntVar(&chunkSize, "chunk-size", 0, "Capture chunk size in bytes")
	pf.IntVar(&maxChunks, "max-chunks", 0, "Stop after this many chunks")
	pf.DurationVar(&deadline, "deadline", 0, "Abort the session after this long")
	pf.DurationVar(&idleTimeout, "idle-timeout", 0, "Abort when the server is silent this long")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(transcribeCmd())
	rootCmd.AddCommand(enrollCmd())
	rootCmd.AddCommand(authenticateCmd())
	rootCmd.AddCommand(livenessCmd())
	rootCmd.AddCommand(synthesizeCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(enrollmentsCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, vocals.FailureLine(err))
		os.Exit(1)
	}
}

// loadConfig resolves defaults, the config file, the environment and the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*vocals.VocalsConfig, error) {
	config, err := vocals.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		config.ServerAddress = server
	}
	if flags.Changed("transport") {
		config.Transport = transport
	}
	if flags.Changed("insecure") {
		config.Insecure = insecure
	}
	if flags.Changed("ws-endpoint") {
		config.WsEndpoint = wsEndpoint
	}
	if flags.Changed("model") {
		config.Model = model
	}
	if flags.Changed("chunk-size") {
		config.ChunkSize = chunkSize
	}
	if flags.Changed("max-chunks") {
		config.MaxChunks = maxChunks
	}
	if flags.Changed("deadline") {
		config.Deadline = deadline
	}
	if flags.Changed("idle-timeout") {
		config.IdleTimeout = idleTimeout
	}
	if flags.Changed("metrics-addr") {
		config.MetricsAddr = metricsAddr
	}
	if verbose {
		config.DebugLevel = "DEBUG"
	}
	return config, nil
}

// newClient builds a client from the resolved config and, when asked,
// serves its metrics.
func newClient(cmd *cobra.Command) (*vocals.Client, error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := config.Err(); err != nil {
		return nil, err
	}
	logger := vocals.NewVocalsLogger(config.LogConfig(os.Stderr))
	vocals.SetGlobalLogger(logger)

	var metrics *vocals.Metrics
	if config.MetricsAddr != "" {
		metrics = vocals.NewMetrics("vocals")
		srv := &http.Server{Addr: config.MetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		go func() {
			<-cmd.Context().Done()
			_ = srv.Close()
		}()
	}

	return vocals.NewClient(config, vocals.WithClientLogger(logger), vocals.WithClientMetrics(metrics))
}

// outputHandler prints events the way the flags ask for.
func outputHandler(extra ...vocals.EventHandler) vocals.EventHandler {
	handlers := []vocals.EventHandler{}
	if jsonDump {
		handlers = append(handlers, vocals.CreateJSONDumpHandler(os.Stdout))
	} else {
		handlers = append(handlers, vocals.CreateLoggingEventHandler(vocals.GetGlobalLogger(), verbose))
	}
	handlers = append(handlers, extra...)
	return vocals.SequentialEventHandlers(handlers...)
}

func printResult(res *vocals.RunResult) {
	if res == nil || jsonDump {
		return
	}
	fmt.Printf("session %s: %s, %d chunks (%d bytes), %d responses in %s\n",
		res.SessionID, res.Outcome, res.ChunksSent, res.BytesSent, res.EventsRead, res.Duration.Round(time.Millisecond))
}
