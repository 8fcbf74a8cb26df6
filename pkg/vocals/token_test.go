package vocals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// countingSource hands out token-1, token-2, ... valid for ttl.
type countingSource struct {
	calls atomic.Int32
	ttl   time.Duration
	err   error
}

func (s *countingSource) Token() (*oauth2.Token, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	tok := &oauth2.Token{AccessToken: "token-" + strconv.Itoa(int(n))}
	if s.ttl != 0 {
		tok.Expiry = time.Now().Add(s.ttl)
	}
	return tok, nil
}

func TestTokenManager_CachesFreshToken(t *testing.T) {
	src := &countingSource{ttl: time.Hour}
	tm := NewTokenManager(src, TokenManagerOptions{RefreshBuffer: time.Minute, Logger: NewNopLogger()})

	first, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	second, err := tm.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "token-1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestTokenManager_RefreshesInsideBuffer(t *testing.T) {
	src := &countingSource{ttl: 30 * time.Second}
	tm := NewTokenManager(src, TokenManagerOptions{RefreshBuffer: time.Minute, Logger: NewNopLogger()})

	_, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	tok, err := tm.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestTokenManager_NonExpiringToken(t *testing.T) {
	src := &countingSource{}
	tm := NewTokenManager(src, TokenManagerOptions{RefreshBuffer: time.Hour, Logger: NewNopLogger()})

	for i := 0; i < 3; i++ {
		_, err := tm.Token()
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestTokenManager_UsesAndUpdatesStore(t *testing.T) {
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Save("acct", &oauth2.Token{AccessToken: "stored", Expiry: time.Now().Add(time.Hour)}))

	src := &countingSource{ttl: time.Hour}
	tm := NewTokenManager(src, TokenManagerOptions{Store: store, StoreKey: "acct", Logger: NewNopLogger()})

	tok, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", tok)
	assert.Equal(t, int32(0), src.calls.Load())
	assert.Equal(t, "stored", tm.TokenInfo().AccessToken)

	require.NoError(t, tm.Clear())
	assert.False(t, store.Has("acct"))
	assert.Nil(t, tm.TokenInfo())

	tok, err = tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	saved, err := store.Load("acct")
	require.NoError(t, err)
	assert.Equal(t, "token-1", saved.AccessToken)
}

func TestTokenManager_ExpiredStoredTokenRefreshes(t *testing.T) {
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Save("default", &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)}))

	tm := NewTokenManager(&countingSource{ttl: time.Hour}, TokenManagerOptions{Store: store, Logger: NewNopLogger()})
	tok, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
}

func TestTokenManager_SourceErrors(t *testing.T) {
	tm := NewTokenManager(&countingSource{err: errors.New("offline")}, TokenManagerOptions{Logger: NewNopLogger()})
	_, err := tm.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeTokenExpired))

	tm = NewTokenManager(nil, TokenManagerOptions{Logger: NewNopLogger()})
	_, err = tm.AccessToken(context.Background())
	assert.True(t, IsErrorCode(err, ErrCodeTokenExpired))
}

func TestEndpointTokenSource(t *testing.T) {
	expires := time.Now().Add(5 * time.Minute).Truncate(time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "ep-token", "expiresAt": expires.UnixMilli()})
	}))
	defer srv.Close()

	src := &EndpointTokenSource{Endpoint: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}}
	tok, err := src.TokenContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ep-token", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(expires))
}

func TestEndpointTokenSource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, code: ErrCodeAuthFailed},
		{name: "forbidden", status: http.StatusForbidden, code: ErrCodeAuthFailed},
		{name: "server error", status: http.StatusInternalServerError, code: ErrCodeTokenExpired},
		{name: "bad json", status: http.StatusOK, body: "{", code: ErrCodeJSONParse},
		{name: "missing token", status: http.StatusOK, body: `{"expiresAt": 1}`, code: ErrCodeTokenExpired},
		{name: "missing expiry", status: http.StatusOK, body: `{"token": "x"}`, code: ErrCodeTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := (&EndpointTokenSource{Endpoint: srv.URL}).Token()
			require.Error(t, err)
			assert.True(t, IsErrorCode(err, tt.code), "got %v", err)
		})
	}
}

func TestClientCredentialsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "stream", r.PostForm.Get("scope"))
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cli", id)
		assert.Equal(t, "s3cret", secret)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	tm := NewTokenManager(
		ClientCredentialsSource(context.Background(), "cli", "s3cret", srv.URL, "stream"),
		TokenManagerOptions{RefreshBuffer: time.Minute, Logger: NewNopLogger()},
	)
	tok, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cc-token", tok)
}
