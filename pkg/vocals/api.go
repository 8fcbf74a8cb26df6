package vocals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Enrollment is a stored biometric template.
type Enrollment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Modality  string    `json:"modality"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// APIClient talks to the enrollment management REST API.
type APIClient struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
}

func NewAPIClient(baseURL string, tokens TokenProvider) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

func (ac *APIClient) SetTimeout(timeout time.Duration) {
	ac.httpClient.Timeout = timeout
}

func (ac *APIClient) request(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, NewJSONError(err.Error())
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, ac.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, NewConfigError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vocals-duplex-go/1.0")

	if ac.tokens != nil {
		token, err := ac.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ac.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectionError("request failed", err).AddDetail("endpoint", endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectionError("reading response failed", err)
	}

	if resp.StatusCode >= 400 {
		errMsg := strings.TrimSpace(string(respBody))
		if errMsg == "" {
			errMsg = http.StatusText(resp.StatusCode)
		}
		code := fmt.Sprintf("HTTP_%d", resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = ErrCodeAuthFailed
		}
		return nil, NewVocalsError(errMsg, code).AddDetail("http_status", resp.StatusCode)
	}
	return respBody, nil
}

func decodeResult[T any](data []byte, err error) Result[T] {
	if err != nil {
		return Err[T](WrapError(err, ErrCodeUnknown))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return Err[T](NewJSONError(err.Error()))
	}
	return Ok(out)
}

// ListEnrollments lists the enrollments of userID, or all when empty.
func (ac *APIClient) ListEnrollments(ctx context.Context, userID string) Result[[]*Enrollment] {
	endpoint := "/v1/enrollments"
	if userID != "" {
		endpoint += "?user_id=" + url.QueryEscape(userID)
	}
	return decodeResult[[]*Enrollment](ac.request(ctx, http.MethodGet, endpoint, nil))
}

func (ac *APIClient) GetEnrollment(ctx context.Context, id string) Result[*Enrollment] {
	if id == "" {
		return Err[*Enrollment](NewConfigError("enrollment ID cannot be empty"))
	}
	return decodeResult[*Enrollment](ac.request(ctx, http.MethodGet, "/v1/enrollments/"+url.PathEscape(id), nil))
}

func (ac *APIClient) DeleteEnrollment(ctx context.Context, id string) Result[bool] {
	if id == "" {
		return Err[bool](NewConfigError("enrollment ID cannot be empty"))
	}
	if _, err := ac.request(ctx, http.MethodDelete, "/v1/enrollments/"+url.PathEscape(id), nil); err != nil {
		return Err[bool](WrapError(err, ErrCodeUnknown))
	}
	return Ok(true)
}

func (ac *APIClient) HealthCheck(ctx context.Context) Result[map[string]interface{}] {
	data, err := ac.request(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return Err[map[string]interface{}](WrapError(err, ErrCodeConnectionFailed))
	}
	return decodeResult[map[string]interface{}](data, nil)
}
