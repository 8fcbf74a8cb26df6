package vocals

import (
	"context"

	"golang.org/x/oauth2"
)

// Client wires configuration, credentials, a transport and metrics into
// ready-made sessions for each service.
type Client struct {
	config    *VocalsConfig
	transport Transport
	tokens    TokenProvider
	api       *APIClient
	metrics   *Metrics
	logger    *VocalsLogger
}

type ClientOption func(*Client)

// WithTransport replaces the transport built from the config.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) { c.transport = t }
}

// WithTokenProvider replaces the token chain built from the config.
func WithTokenProvider(p TokenProvider) ClientOption {
	return func(c *Client) { c.tokens = p }
}

func WithClientLogger(logger *VocalsLogger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func NewClient(config *VocalsConfig, opts ...ClientOption) (*Client, error) {
	if config == nil {
		config = NewVocalsConfig()
	}
	c := &Client{config: config}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NewVocalsLogger(config.LogConfig(nil))
	}

	if c.tokens == nil && config.UseTokenAuth {
		tm, err := NewTokenManagerFromConfig(context.Background(), config, c.logger)
		if err != nil {
			return nil, err
		}
		c.tokens = tm
	}

	if c.transport == nil {
		t, err := NewTransportFromConfig(config, c.tokens, c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}

	c.api = NewAPIClient(config.APIBaseURL, c.tokens)
	return c, nil
}

// NewTokenManagerFromConfig picks the token source: OAuth client
// credentials, the token endpoint, or a locally signed API-key token.
func NewTokenManagerFromConfig(ctx context.Context, config *VocalsConfig, logger *VocalsLogger) (*TokenManager, error) {
	var source oauth2.TokenSource
	switch {
	case config.OAuthTokenURL != "":
		source = ClientCredentialsSource(ctx, config.OAuthClientID, config.OAuthClientSecret, config.OAuthTokenURL)
	case config.TokenEndpoint != "":
		source = &EndpointTokenSource{Endpoint: config.TokenEndpoint, Headers: config.Headers}
	default:
		key := GetVocalsApiKey()
		if !key.Success {
			return nil, key.Error
		}
		s, err := NewAPIKeyTokenSource(key.Data, "")
		if err != nil {
			return nil, err
		}
		source = s
	}

	var store CredentialStore = NewMemoryCredentialStore()
	if config.CredentialsFile != "" {
		store = NewFileCredentialStore(config.CredentialsFile)
	}
	return NewTokenManager(source, TokenManagerOptions{
		Store:         store,
		RefreshBuffer: config.TokenRefreshBuffer,
		Logger:        logger,
	}), nil
}

func NewTransportFromConfig(config *VocalsConfig, tokens TokenProvider, logger *VocalsLogger) (Transport, error) {
	switch config.Transport {
	case TransportWebSocket:
		return NewWebSocketTransport(config.WsEndpoint, WebSocketOptions{
			Tokens:               tokens,
			Headers:              config.Headers,
			MaxReconnectAttempts: config.MaxReconnectAttempts,
			ReconnectDelay:       config.ReconnectDelay,
			Logger:               logger,
		}), nil
	case TransportGRPC, "":
		return NewGRPCTransport(config.ServerAddress, GRPCOptions{
			Insecure: config.Insecure,
			Tokens:   tokens,
			Logger:   logger,
		})
	}
	return nil, NewConfigError("unknown transport " + config.Transport)
}

func (c *Client) Config() *VocalsConfig { return c.config }
func (c *Client) API() *APIClient       { return c.api }
func (c *Client) Tokens() TokenProvider { return c.tokens }
func (c *Client) Metrics() *Metrics     { return c.metrics }

// Run streams source through a session configured by cfg.
func (c *Client) Run(ctx context.Context, cfg ControllerConfig, source CaptureSource, handler EventHandler) (*RunResult, error) {
	ctrl := NewController(c.transport, cfg, WithLogger(c.logger), WithMetrics(c.metrics))
	return ctrl.Run(ctx, source, handler)
}

// Transcribe streams PCM16 audio and reports transcripts until the stream
// ends.
func (c *Client) Transcribe(ctx context.Context, source CaptureSource, handler EventHandler) (*RunResult, error) {
	return c.Run(ctx, c.config.ControllerConfig(ServiceTranscribe), source, handler)
}

// Enroll streams audio until the server reports 100% enrollment. Running
// out of audio first is ErrQuotaExhausted.
func (c *Client) Enroll(ctx context.Context, userID string, source CaptureSource, handler EventHandler) (*RunResult, error) {
	cfg := c.config.ControllerConfig(ServiceEnroll)
	cfg.Stream.UserID = userID
	cfg.RequireCompletion = true
	return c.Run(ctx, cfg, source, handler)
}

// EnrollmentID returns the ID reported by the final enrollment response.
func EnrollmentID(res *RunResult) string {
	if res == nil || res.Final == nil || res.Final.Response == nil || res.Final.Response.Enrollment == nil {
		return ""
	}
	return res.Final.Response.Enrollment.EnrollmentID
}

// Authenticate verifies the speaker against enrollmentID. threshold is the
// security level the server applies to the score.
func (c *Client) Authenticate(ctx context.Context, userID, enrollmentID string, threshold float64, source CaptureSource, handler EventHandler) (*RunResult, error) {
	cfg := c.config.ControllerConfig(ServiceAuthenticate)
	cfg.Stream.UserID = userID
	cfg.Stream.EnrollmentID = enrollmentID
	cfg.Stream.SecurityLevel = threshold
	cfg.RequireCompletion = true
	return c.Run(ctx, cfg, source, handler)
}

// CheckLiveness streams image frames of width x height.
func (c *Client) CheckLiveness(ctx context.Context, width, height int, source CaptureSource, handler EventHandler) (*RunResult, error) {
	cfg := c.config.ControllerConfig(ServiceLiveness)
	cfg.Stream.SampleRate = 0
	cfg.Stream.Channels = 0
	cfg.Stream.Encoding = "jpeg"
	cfg.Stream.Width = width
	cfg.Stream.Height = height
	cfg.RequireCompletion = true
	return c.Run(ctx, cfg, source, handler)
}

// Synthesize sends text in the configuration message and receives audio.
// No chunks are written, so the request side closes immediately.
func (c *Client) Synthesize(ctx context.Context, text, voice string, handler EventHandler) (*RunResult, error) {
	cfg := c.config.ControllerConfig(ServiceSynthesize)
	cfg.Stream.Text = text
	cfg.Stream.Voice = voice
	cfg.RequireCompletion = true
	return c.Run(ctx, cfg, NewSliceSource(), handler)
}

// Chat is multi-turn: every source chunk is one user message and each
// reply ends with a TurnEnd event. The session ends once the source is
// exhausted and the server closes the stream.
func (c *Client) Chat(ctx context.Context, source CaptureSource, handler EventHandler) (*RunResult, error) {
	cfg := c.config.ControllerConfig(ServiceChat)
	cfg.Stream.SampleRate = 0
	cfg.Stream.Channels = 0
	cfg.Stream.Encoding = "text"
	return c.Run(ctx, cfg, source, handler)
}

func (c *Client) Close() error {
	return c.transport.Close()
}
