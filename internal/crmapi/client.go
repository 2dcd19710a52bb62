// Package crmapi is the REST client for the CRM system. The engines treat
// it as a black box that either succeeds, reports the record missing, or
// fails with a retryable remote error.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRemoteNotFound distinguishes HTTP 404 from every other failure. It is
// a control-flow signal for inbound flows, not an error condition.
var ErrRemoteNotFound = errors.New("remote record not found")

// RemoteError covers transport failures and non-2xx responses other than
// 404. The scheduler retries these indefinitely with backoff.
type RemoteError struct {
	Status  int
	Message string
	cause   error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("crm request failed: status=%d message=%s", e.Status, e.Message)
	}
	return "crm request failed: " + e.Message
}

func (e *RemoteError) Unwrap() error { return e.cause }

// IsRetryable reports whether err belongs to the transient remote class.
func IsRetryable(err error) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr)
}

// Client issues authenticated requests against the CRM API. The data
// mapping becomes the JSON body; for GET requests params become the query
// string, otherwise params are sent as the body when data is absent.
type Client interface {
	Request(ctx context.Context, method, action string, data, params map[string]any) (map[string]any, error)
}

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string
}

type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

func NewHTTPClient(opts Options) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}
}

func (c *HTTPClient) Request(ctx context.Context, method, action string, data, params map[string]any) (map[string]any, error) {
	if c == nil || c.baseURL == "" {
		return nil, &RemoteError{Message: "crm client is not configured"}
	}
	action = strings.Trim(strings.TrimSpace(action), "/")
	if action == "" {
		return nil, &RemoteError{Message: "empty action"}
	}
	endpoint := c.baseURL + "/api/v1/" + action

	body := data
	if body == nil && method != http.MethodGet {
		body = params
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &RemoteError{Message: err.Error(), cause: err}
	}
	if method == http.MethodGet && len(params) > 0 {
		query := url.Values{}
		for key, value := range params {
			query.Set(key, fmt.Sprintf("%v", value))
		}
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Message: err.Error(), cause: err}
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &RemoteError{Message: readErr.Error(), cause: readErr}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", method, action, ErrRemoteNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(respBody))
		if reason := resp.Header.Get("X-Status-Reason"); reason != "" {
			message = reason
		}
		return nil, &RemoteError{Status: resp.StatusCode, Message: message}
	}

	if len(respBody) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &RemoteError{Status: resp.StatusCode, Message: "invalid response body: " + err.Error(), cause: err}
	}
	return decoded, nil
}
