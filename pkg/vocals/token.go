package vocals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ContextTokenSource is an oauth2.TokenSource that can honor a context.
type ContextTokenSource interface {
	oauth2.TokenSource
	TokenContext(ctx context.Context) (*oauth2.Token, error)
}

// TokenManager caches the token of a source and refreshes it shortly before
// expiry. Refreshed tokens are written through to the store, if any.
type TokenManager struct {
	source        oauth2.TokenSource
	store         CredentialStore
	key           string
	refreshBuffer time.Duration
	logger        *VocalsLogger

	mu     sync.Mutex
	token  *oauth2.Token
	loaded bool
}

type TokenManagerOptions struct {
	Store         CredentialStore
	StoreKey      string
	RefreshBuffer time.Duration
	Logger        *VocalsLogger
}

func NewTokenManager(source oauth2.TokenSource, opts TokenManagerOptions) *TokenManager {
	if opts.StoreKey == "" {
		opts.StoreKey = "default"
	}
	logger := opts.Logger
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &TokenManager{
		source:        source,
		store:         opts.Store,
		key:           opts.StoreKey,
		refreshBuffer: opts.RefreshBuffer,
		logger:        logger.WithComponent("TokenManager"),
	}
}

// AccessToken returns a token valid for at least the refresh buffer.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tok, err := tm.TokenContext(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token implements oauth2.TokenSource.
func (tm *TokenManager) Token() (*oauth2.Token, error) {
	return tm.TokenContext(context.Background())
}

func (tm *TokenManager) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !tm.loaded {
		tm.loaded = true
		tm.loadStored()
	}
	if tm.fresh(tm.token) {
		return tm.token, nil
	}
	return tm.refresh(ctx)
}

func (tm *TokenManager) loadStored() {
	if tm.store == nil {
		return
	}
	tok, err := tm.store.Load(tm.key)
	if err != nil {
		if !errors.Is(err, ErrCredentialNotFound) {
			tm.logger.WithError(err).Warn("ignoring unreadable stored credential")
		}
		return
	}
	tm.token = tok
}

func (tm *TokenManager) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return time.Now().Before(tok.Expiry.Add(-tm.refreshBuffer))
}

func (tm *TokenManager) refresh(ctx context.Context) (*oauth2.Token, error) {
	if tm.source == nil {
		return nil, NewTokenError("no token source configured", nil)
	}

	var (
		tok *oauth2.Token
		err error
	)
	if cs, ok := tm.source.(ContextTokenSource); ok {
		tok, err = cs.TokenContext(ctx)
	} else {
		tok, err = tm.source.Token()
	}
	if err != nil {
		return nil, WrapError(err, ErrCodeTokenExpired)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, NewTokenError("token source returned an empty token", nil)
	}

	tm.token = tok
	tm.logger.Debugf("refreshed token, expires %s", tok.Expiry.Format(time.RFC3339))
	if tm.store != nil {
		if err := tm.store.Save(tm.key, tok); err != nil {
			tm.logger.WithError(err).Warn("failed to persist token")
		}
	}
	return tok, nil
}

// Clear drops the cached and stored token.
func (tm *TokenManager) Clear() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = nil
	tm.loaded = true
	if tm.store != nil {
		return tm.store.Delete(tm.key)
	}
	return nil
}

// TokenInfo returns the cached token without refreshing it.
func (tm *TokenManager) TokenInfo() *oauth2.Token {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.loaded {
		tm.loaded = true
		tm.loadStored()
	}
	return tm.token
}

// EndpointTokenSource fetches short-lived tokens from the service's token
// endpoint: POST {} → {"token": "...", "expiresAt": <unix ms>}.
type EndpointTokenSource struct {
	Endpoint   string
	Headers    map[string]string
	HTTPClient *http.Client
}

type endpointTokenResponse struct {
	Token     string  `json:"token"`
	ExpiresAt float64 `json:"expiresAt"`
}

func (s *EndpointTokenSource) Token() (*oauth2.Token, error) {
	return s.TokenContext(context.Background())
}

func (s *EndpointTokenSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewBufferString("{}"))
	if err != nil {
		return nil, NewConfigError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewConnectionError("token request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewAuthError(fmt.Sprintf("token endpoint rejected credentials: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, NewTokenError(fmt.Sprintf("failed to refresh token: %s", resp.Status), nil)
	}

	var data endpointTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, NewJSONError(err.Error())
	}
	if data.Token == "" {
		return nil, NewTokenError("no token received", nil)
	}
	if data.ExpiresAt <= 0 {
		return nil, NewTokenError("invalid expiresAt", nil)
	}

	return &oauth2.Token{
		AccessToken: data.Token,
		TokenType:   "Bearer",
		Expiry:      time.UnixMilli(int64(data.ExpiresAt)),
	}, nil
}

// ClientCredentialsSource is the OAuth2 client-credentials flow against
// tokenURL.
func ClientCredentialsSource(ctx context.Context, clientID, clientSecret, tokenURL string, scopes ...string) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return cfg.TokenSource(ctx)
}
