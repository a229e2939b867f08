// Package tokenservice is the HTTP client for the token/identity service
// collaborator (§6). The original reached this service over gRPC; since
// this port treats transport plumbing as out of scope, the same contract
// is exposed over HTTP/JSON instead, grounded on get_token_info.py.
package tokenservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mqc3/scheduler/internal/clock"
)

// Status mirrors the token service's three-way response.
type Status string

const (
	StatusOK          Status = "OK"
	StatusNotFound    Status = "NOT_FOUND"
	StatusUnspecified Status = "UNSPECIFIED"
)

// Info is the token's resolved identity, returned only on StatusOK.
type Info struct {
	Role      string
	Name      string
	ExpiresAt time.Time // zero value means "never expires"
}

// IsExpired reports whether the token has expired as of now, compared in
// Asia/Tokyo per the original.
func (i Info) IsExpired(now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return now.In(clock.Tokyo).After(i.ExpiresAt.In(clock.Tokyo))
}

// Error wraps any failure retrieving token info: network errors and
// unexpected/unspecified statuses are both folded into this single type,
// matching TokenDatabaseError in the original.
type Error struct {
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tokenservice: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("tokenservice: %s", e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Client calls the token service over HTTP/JSON.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client with the given base URL and request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type tokenInfoResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail"`
	TokenInfo *struct {
		Role             string `json:"role"`
		Name             string `json:"name"`
		ExpiresAtSeconds int64  `json:"expires_at_seconds"`
	} `json:"token_info"`
}

// GetTokenInfo resolves token. A NOT_FOUND status returns (nil, nil); any
// other non-OK status, or a transport failure, returns a wrapped *Error.
func (c *Client) GetTokenInfo(ctx context.Context, token string) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tokens/"+token, nil)
	if err != nil {
		return nil, &Error{Detail: "building request", Cause: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Detail: "calling token service", Cause: err}
	}
	defer resp.Body.Close()

	var body tokenInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Detail: "decoding token service response", Cause: err}
	}

	switch Status(body.Status) {
	case StatusNotFound:
		return nil, nil
	case StatusOK:
		if body.TokenInfo == nil {
			return nil, &Error{Detail: "OK response missing token_info"}
		}
		info := &Info{Role: body.TokenInfo.Role, Name: body.TokenInfo.Name}
		if body.TokenInfo.ExpiresAtSeconds > 0 {
			info.ExpiresAt = time.Unix(body.TokenInfo.ExpiresAtSeconds, 0).In(clock.Tokyo)
		}
		return info, nil
	default:
		return nil, &Error{Detail: body.Detail}
	}
}
