package vocals

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TransportGRPC      = "grpc"
	TransportWebSocket = "websocket"
)

// VocalsConfig is resolved in order: defaults, YAML file, environment
// (including a .env file), then CLI flags.
type VocalsConfig struct {
	Transport     string `yaml:"transport"`
	ServerAddress string `yaml:"server_address"`
	WsEndpoint    string `yaml:"ws_endpoint"`
	APIBaseURL    string `yaml:"api_base_url"`
	Insecure      bool   `yaml:"insecure"`

	TokenEndpoint      string            `yaml:"token_endpoint"`
	OAuthTokenURL      string            `yaml:"oauth_token_url"`
	OAuthClientID      string            `yaml:"oauth_client_id"`
	OAuthClientSecret  string            `yaml:"oauth_client_secret"`
	CredentialsFile    string            `yaml:"credentials_file"`
	UseTokenAuth       bool              `yaml:"use_token_auth"`
	TokenRefreshBuffer time.Duration     `yaml:"token_refresh_buffer"`
	Headers            map[string]string `yaml:"headers"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`

	Model       string        `yaml:"model"`
	Language    string        `yaml:"language"`
	SampleRate  int           `yaml:"sample_rate"`
	Channels    int           `yaml:"channels"`
	ChunkSize   int           `yaml:"chunk_size"`
	MaxChunks   int           `yaml:"max_chunks"`
	Deadline    time.Duration `yaml:"deadline"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	AudioDeviceID *int `yaml:"audio_device_id"`

	DebugLevel     string `yaml:"debug_level"`
	DebugTransport bool   `yaml:"debug_transport"`
	DebugAudio     bool   `yaml:"debug_audio"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

func DefaultConfig() *VocalsConfig {
	return &VocalsConfig{
		Transport:            TransportGRPC,
		ServerAddress:        "localhost:50051",
		WsEndpoint:           "ws://localhost:8000/v1/stream",
		APIBaseURL:           "http://localhost:8000",
		UseTokenAuth:         true,
		TokenRefreshBuffer:   60 * time.Second,
		Headers:              make(map[string]string),
		MaxReconnectAttempts: 3,
		ReconnectDelay:       time.Second,
		SampleRate:           16000,
		Channels:             1,
		ChunkSize:            3200,
		DebugLevel:           "INFO",
	}
}

// NewVocalsConfig returns the defaults overlaid with the environment.
func NewVocalsConfig() *VocalsConfig {
	c := DefaultConfig()
	c.LoadFromEnv()
	return c
}

// LoadConfig resolves defaults, the YAML file at path (if not empty) and
// the environment.
func LoadConfig(path string) (*VocalsConfig, error) {
	c := DefaultConfig()
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}
	c.LoadFromEnv()
	return c, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *VocalsConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewConfigError(fmt.Sprintf("reading config file: %v", err)).AddDetail("path", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewConfigError(fmt.Sprintf("parsing config file: %v", err)).AddDetail("path", path)
	}
	return nil
}

// Save writes the config as YAML, omitting secrets.
func (c *VocalsConfig) Save(path string) error {
	cp := *c
	cp.OAuthClientSecret = ""
	data, err := yaml.Marshal(&cp)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadFromEnv overlays VOCALS_* variables. A .env file in the working
// directory is loaded first; real environment variables win over it.
func (c *VocalsConfig) LoadFromEnv() {
	_ = godotenv.Load()

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	// Durations accept "1.5s" or, as older configs did, plain seconds.
	setDuration := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Second))
		}
	}

	setString("VOCALS_TRANSPORT", &c.Transport)
	setString("VOCALS_SERVER_ADDRESS", &c.ServerAddress)
	setString("VOCALS_WS_ENDPOINT", &c.WsEndpoint)
	setString("VOCALS_API_BASE_URL", &c.APIBaseURL)
	setBool("VOCALS_INSECURE", &c.Insecure)

	setString("VOCALS_TOKEN_ENDPOINT", &c.TokenEndpoint)
	setString("VOCALS_OAUTH_TOKEN_URL", &c.OAuthTokenURL)
	setString("VOCALS_OAUTH_CLIENT_ID", &c.OAuthClientID)
	setString("VOCALS_OAUTH_CLIENT_SECRET", &c.OAuthClientSecret)
	setString("VOCALS_CREDENTIALS_FILE", &c.CredentialsFile)
	setBool("VOCALS_USE_TOKEN_AUTH", &c.UseTokenAuth)
	setDuration("VOCALS_TOKEN_REFRESH_BUFFER", &c.TokenRefreshBuffer)

	setInt("VOCALS_MAX_RECONNECT_ATTEMPTS", &c.MaxReconnectAttempts)
	setDuration("VOCALS_RECONNECT_DELAY", &c.ReconnectDelay)

	setString("VOCALS_MODEL", &c.Model)
	setString("VOCALS_LANGUAGE", &c.Language)
	setInt("VOCALS_SAMPLE_RATE", &c.SampleRate)
	setInt("VOCALS_CHANNELS", &c.Channels)
	setInt("VOCALS_CHUNK_SIZE", &c.ChunkSize)
	setInt("VOCALS_MAX_CHUNKS", &c.MaxChunks)
	setDuration("VOCALS_DEADLINE", &c.Deadline)
	setDuration("VOCALS_IDLE_TIMEOUT", &c.IdleTimeout)

	if v := os.Getenv("VOCALS_AUDIO_DEVICE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			c.AudioDeviceID = &id
		}
	}

	setString("VOCALS_DEBUG_LEVEL", &c.DebugLevel)
	setBool("VOCALS_DEBUG_TRANSPORT", &c.DebugTransport)
	setBool("VOCALS_DEBUG_AUDIO", &c.DebugAudio)
	setString("VOCALS_METRICS_ADDR", &c.MetricsAddr)
}

// Validate returns list of issues
func (c *VocalsConfig) Validate() []string {
	issues := []string{}

	switch c.Transport {
	case TransportGRPC:
		if c.ServerAddress == "" {
			issues = append(issues, "server address not set")
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.WsEndpoint, "ws://") && !strings.HasPrefix(c.WsEndpoint, "wss://") {
			issues = append(issues, "Invalid WebSocket endpoint format")
		}
	default:
		issues = append(issues, fmt.Sprintf("Invalid transport: %s", c.Transport))
	}

	if c.UseTokenAuth && c.TokenEndpoint == "" && c.OAuthTokenURL == "" {
		apiKey := os.Getenv("VOCALS_DEV_API_KEY")
		if apiKey == "" {
			issues = append(issues, "VOCALS_DEV_API_KEY environment variable not set")
		} else if !ValidateApiKeyFormat(apiKey).Success {
			issues = append(issues, "Invalid API key format (should start with 'vdev_')")
		}
	}
	if c.OAuthTokenURL != "" && c.OAuthClientID == "" {
		issues = append(issues, "OAuth token URL set without client ID")
	}

	if c.MaxReconnectAttempts < 0 {
		issues = append(issues, "Invalid max reconnect attempts")
	}
	if c.ReconnectDelay < 0 {
		issues = append(issues, "Invalid reconnect delay")
	}
	if c.TokenRefreshBuffer < 0 {
		issues = append(issues, "Invalid token refresh buffer")
	}
	if c.SampleRate <= 0 {
		issues = append(issues, "Invalid sample rate")
	}
	if c.Channels <= 0 {
		issues = append(issues, "Invalid channel count")
	}
	if c.ChunkSize <= 0 {
		issues = append(issues, "Invalid chunk size")
	}
	if c.MaxChunks < 0 || c.Deadline < 0 || c.IdleTimeout < 0 {
		issues = append(issues, "Session limits must not be negative")
	}

	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARNING", "WARN", "ERROR"}
	found := false
	for _, level := range validLevels {
		if level == strings.ToUpper(c.DebugLevel) {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, fmt.Sprintf("Invalid debug level: %s", c.DebugLevel))
	}

	return issues
}

// Err folds Validate into a single config error.
func (c *VocalsConfig) Err() error {
	issues := c.Validate()
	if len(issues) == 0 {
		return nil
	}
	return NewConfigError(strings.Join(issues, "; ")).AddDetail("issues", issues)
}

// ControllerConfig derives the per-session limits for service.
func (c *VocalsConfig) ControllerConfig(service Service) ControllerConfig {
	return ControllerConfig{
		Stream: StreamConfig{
			Service:    service,
			Model:      c.Model,
			Language:   c.Language,
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
			Encoding:   "pcm_s16le",
		},
		MaxChunks:   c.MaxChunks,
		Deadline:    c.Deadline,
		IdleTimeout: c.IdleTimeout,
	}
}

func (c *VocalsConfig) LogConfig(out io.Writer) *LogConfig {
	cfg := DefaultLogConfig()
	cfg.Level = ParseLogLevel(c.DebugLevel)
	if out != nil {
		cfg.Output = out
	}
	return cfg
}

func maskedAPIKey() (string, bool) {
	apiKey := os.Getenv("VOCALS_DEV_API_KEY")
	if apiKey == "" {
		return "", false
	}
	if len(apiKey) > 10 {
		return apiKey[:10] + "...", true
	}
	return "***", true
}

func (c *VocalsConfig) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Vocals SDK Configuration")
	fmt.Fprintln(w, "==================================================")

	if key, ok := maskedAPIKey(); ok {
		fmt.Fprintf(w, "API Key: %s\n", key)
	} else {
		fmt.Fprintln(w, "API Key: NOT SET")
	}

	fmt.Fprintf(w, "Transport: %s\n", c.Transport)
	if c.Transport == TransportWebSocket {
		fmt.Fprintf(w, "WebSocket Endpoint: %s\n", c.WsEndpoint)
	} else {
		fmt.Fprintf(w, "Server Address: %s (insecure: %t)\n", c.ServerAddress, c.Insecure)
	}
	fmt.Fprintf(w, "API Base URL: %s\n", c.APIBaseURL)
	fmt.Fprintf(w, "Max Reconnect Attempts: %d\n", c.MaxReconnectAttempts)
	fmt.Fprintf(w, "Reconnect Delay: %s\n", c.ReconnectDelay)
	fmt.Fprintf(w, "Token Refresh Buffer: %s\n", c.TokenRefreshBuffer)
	fmt.Fprintf(w, "Use Token Auth: %t\n", c.UseTokenAuth)
	fmt.Fprintf(w, "Audio: %d Hz, %d ch, %d byte chunks\n", c.SampleRate, c.Channels, c.ChunkSize)
	fmt.Fprintf(w, "Session Limits: max chunks %d, deadline %s, idle timeout %s\n", c.MaxChunks, c.Deadline, c.IdleTimeout)
	fmt.Fprintf(w, "Debug Level: %s\n", c.DebugLevel)

	if c.AudioDeviceID != nil {
		fmt.Fprintf(w, "Audio Device ID: %d\n", *c.AudioDeviceID)
	} else {
		fmt.Fprintln(w, "Audio Device: Default")
	}
}
