package vocals

import (
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

const (
	DefaultTokenTTL = 10 * time.Minute
	APIKeyMinLength = 32
	APIKeyPrefix    = "vdev_"
)

func ValidateApiKeyFormat(apiKey string) Result[ValidatedApiKey] {
	if len(apiKey) >= APIKeyMinLength && strings.HasPrefix(apiKey, APIKeyPrefix) {
		return Ok(ValidatedApiKey(apiKey))
	}
	return Err[ValidatedApiKey](NewAuthError("Invalid API key format"))
}

func GetVocalsApiKey() Result[string] {
	apiKey := os.Getenv("VOCALS_DEV_API_KEY")
	if apiKey != "" {
		return Ok(apiKey)
	}
	return Err[string](NewConfigError("VOCALS_DEV_API_KEY not set"))
}

// APIKeyClaims are the claims of a locally signed stream token.
type APIKeyClaims struct {
	KeyHint string `json:"apiKey"`
	UserID  string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// APIKeyTokenSource signs short-lived HS256 tokens with a developer API key,
// so development clients need no token endpoint.
type APIKeyTokenSource struct {
	APIKey ValidatedApiKey
	UserID string
	TTL    time.Duration
}

// NewAPIKeyTokenSource validates apiKey before use.
func NewAPIKeyTokenSource(apiKey, userID string) (*APIKeyTokenSource, error) {
	res := ValidateApiKeyFormat(apiKey)
	if !res.Success {
		return nil, res.Error
	}
	return &APIKeyTokenSource{APIKey: res.Data, UserID: userID, TTL: DefaultTokenTTL}, nil
}

func (s *APIKeyTokenSource) Token() (*oauth2.Token, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := APIKeyClaims{
		KeyHint: string(s.APIKey)[:8] + "...",
		UserID:  s.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.APIKey))
	if err != nil {
		return nil, NewTokenError("failed to sign token", err)
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: expiresAt}, nil
}

// DecodeAPIKeyToken verifies token against apiKey and returns its claims.
func DecodeAPIKeyToken(token, apiKey string) Result[*APIKeyClaims] {
	claims := &APIKeyClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, NewAuthError("unexpected signing method " + t.Method.Alg())
		}
		return []byte(apiKey), nil
	})
	if err != nil {
		return Err[*APIKeyClaims](NewTokenError("failed to decode token", err))
	}
	if !parsed.Valid {
		return Err[*APIKeyClaims](NewTokenError("invalid token", nil))
	}
	return Ok(claims)
}
