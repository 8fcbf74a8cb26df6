package vocals

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "vdev_0123456789abcdef0123456789abcdef"

func TestValidateApiKeyFormat(t *testing.T) {
	assert.True(t, ValidateApiKeyFormat(testAPIKey).Success)

	for _, key := range []string{"", "vdev_short", strings.Repeat("x", 40)} {
		res := ValidateApiKeyFormat(key)
		assert.False(t, res.Success, key)
		assert.True(t, IsErrorCode(res.Error, ErrCodeAuthFailed))
	}
}

func TestGetVocalsApiKey(t *testing.T) {
	t.Setenv("VOCALS_DEV_API_KEY", "")
	res := GetVocalsApiKey()
	assert.False(t, res.Success)
	assert.True(t, IsErrorCode(res.Error, ErrCodeConfigInvalid))

	t.Setenv("VOCALS_DEV_API_KEY", testAPIKey)
	res = GetVocalsApiKey()
	require.True(t, res.Success)
	assert.Equal(t, testAPIKey, res.Data)
}

func TestAPIKeyTokenSource_SignsVerifiableToken(t *testing.T) {
	src, err := NewAPIKeyTokenSource(testAPIKey, "user-7")
	require.NoError(t, err)
	src.TTL = 2 * time.Minute

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), tok.Expiry, 5*time.Second)

	res := DecodeAPIKeyToken(tok.AccessToken, testAPIKey)
	require.True(t, res.Success, "%v", res.Error)
	assert.Equal(t, "user-7", res.Data.UserID)
	assert.Equal(t, "vdev_012...", res.Data.KeyHint)
	assert.NotContains(t, tok.AccessToken, testAPIKey)
}

func TestAPIKeyTokenSource_RejectsBadKey(t *testing.T) {
	_, err := NewAPIKeyTokenSource("nope", "")
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeAuthFailed))
}

func TestDecodeAPIKeyToken_Failures(t *testing.T) {
	src, err := NewAPIKeyTokenSource(testAPIKey, "")
	require.NoError(t, err)
	tok, err := src.Token()
	require.NoError(t, err)

	res := DecodeAPIKeyToken(tok.AccessToken, "vdev_ffffffffffffffffffffffffffffffff")
	assert.False(t, res.Success)
	assert.True(t, IsErrorCode(res.Error, ErrCodeTokenExpired))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, APIKeyClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	signed, err := expired.SignedString([]byte(testAPIKey))
	require.NoError(t, err)
	assert.False(t, DecodeAPIKeyToken(signed, testAPIKey).Success)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, APIKeyClaims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.False(t, DecodeAPIKeyToken(unsigned, testAPIKey).Success)
}
