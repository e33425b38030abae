package server

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

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/proxy/types"
)

// AdminClient calls the admin API of a running instance.
type AdminClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAdminClient creates a client for the admin listener at baseURL,
// e.g. "http://127.0.0.1:9090".
func NewAdminClient(baseURL string, httpClient *http.Client) (*AdminClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid admin URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Detail     types.ErrorDetail
}

func (e *APIError) Error() string {
	if e.Detail.Message == "" {
		return fmt.Sprintf("admin API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Detail.Message)
}

// Policies lists the running instance's policy table.
func (c *AdminClient) Policies(ctx context.Context) (PoliciesResponse, error) {
	var out PoliciesResponse
	err := c.do(ctx, http.MethodGet, AdminPoliciesPath, nil, &out)
	return out, err
}

// SetPolicy replaces the policy of class on the running instance.
func (c *AdminClient) SetPolicy(ctx context.Context, class string, p config.PolicyConfig) (PolicyResponse, error) {
	var out PolicyResponse
	err := c.do(ctx, http.MethodPut, AdminPoliciesPath+"/"+url.PathEscape(class), p, &out)
	return out, err
}

// Status reads a bucket.
func (c *AdminClient) Status(ctx context.Context, b BucketRequest) (StatusResponse, error) {
	q := url.Values{}
	q.Set("identifier", b.Identifier)
	q.Set("class", b.Class)
	if b.UserID != "" {
		q.Set("user", b.UserID)
	}
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, AdminStatusPath+"?"+q.Encode(), nil, &out)
	return out, err
}

// Reset clears a bucket.
func (c *AdminClient) Reset(ctx context.Context, b BucketRequest) (ResetResponse, error) {
	var out ResetResponse
	err := c.do(ctx, http.MethodPost, AdminResetPath, b, &out)
	return out, err
}

// Reap runs one sweep on the running instance.
func (c *AdminClient) Reap(ctx context.Context) (ReapResponse, error) {
	var out ReapResponse
	err := c.do(ctx, http.MethodPost, AdminReapPath, nil, &out)
	return out, err
}

func (c *AdminClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
			apiErr.Detail = errResp.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
