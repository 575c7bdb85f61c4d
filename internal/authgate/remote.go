package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultRemoteTimeout = 5 * time.Second

// RemoteValidator asks an external auth service whether a token is valid.
// The oracle's internals are opaque; only its verdict and the identity it
// reports matter here.
type RemoteValidator struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteValidator creates a RemoteValidator against the auth service at
// baseURL.
func NewRemoteValidator(baseURL string, httpClient *http.Client) *RemoteValidator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRemoteTimeout}
	}
	return &RemoteValidator{baseURL: baseURL, httpClient: httpClient}
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
}

func (v *RemoteValidator) Validate(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/validate", nil)
	if err != nil {
		return "", fmt.Errorf("building validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling auth service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrInvalidToken
	}

	var body validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding auth service response: %w", err)
	}
	if !body.Valid || body.UserID == "" {
		return "", ErrInvalidToken
	}
	return body.UserID, nil
}
