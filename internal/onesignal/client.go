package onesignal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://onesignal.com/api/v1"

// Filter is a provider-side audience filter, e.g. on last_session.
type Filter struct {
	Field    string `json:"field"`
	Relation string `json:"relation"`
	Value    string `json:"value"`
}

// Notification is the request body for POST /notifications.
type Notification struct {
	AppID            string            `json:"app_id"`
	IncludePlayerIDs []string          `json:"include_player_ids,omitempty"`
	IncludedSegments []string          `json:"included_segments,omitempty"`
	Filters          []Filter          `json:"filters,omitempty"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
	URL              string            `json:"url,omitempty"`
	ChromeWebIcon    string            `json:"chrome_web_icon,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
}

// Response is the provider's reply to a send.
type Response struct {
	ID         string `json:"id"`
	Recipients int    `json:"recipients"`
	Errors     []string
}

// APIError means the provider rejected the request outright.
type APIError struct {
	StatusCode int
	Errors     []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("onesignal: status %d: %s", e.StatusCode, strings.Join(e.Errors, "; "))
}

// PartialError means the notification was created but some recipients were rejected.
type PartialError struct {
	Response *Response
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("onesignal: notification %s accepted with errors: %s", e.Response.ID, strings.Join(e.Response.Errors, "; "))
}

// ErrTransport wraps failures to reach the provider at all.
var ErrTransport = errors.New("onesignal: transport failure")

// Client talks to the OneSignal REST API.
type Client struct {
	appID   string
	apiKey  string
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient returns a Client for appID authenticated with the REST API key.
func NewClient(appID, apiKey string, opts ...Option) *Client {
	c := &Client{
		appID:   appID,
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppID returns the application the client sends for.
func (c *Client) AppID() string { return c.appID }

// Send creates a notification. The returned error is an *APIError when the
// provider refused the request, a *PartialError (with the response) when it
// was accepted for only some recipients, or wraps ErrTransport otherwise.
func (c *Client) Send(ctx context.Context, n Notification) (*Response, error) {
	if n.AppID == "" {
		n.AppID = c.appID
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	var wire struct {
		ID         string          `json:"id"`
		Recipients int             `json:"recipients"`
		Errors     json.RawMessage `json:"errors"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &wire); err != nil && res.StatusCode < 300 {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	out := &Response{ID: wire.ID, Recipients: wire.Recipients, Errors: decodeErrors(wire.Errors)}

	if res.StatusCode >= 300 {
		if len(out.Errors) == 0 {
			out.Errors = []string{strings.TrimSpace(string(raw))}
		}
		return nil, &APIError{StatusCode: res.StatusCode, Errors: out.Errors}
	}
	if len(out.Errors) > 0 {
		if out.ID == "" {
			return nil, &APIError{StatusCode: res.StatusCode, Errors: out.Errors}
		}
		return out, &PartialError{Response: out}
	}
	return out, nil
}

// decodeErrors flattens the two shapes the provider uses: a list of
// messages, or an object such as {"invalid_player_ids": [...]}.
func decodeErrors(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		var out []string
		for k, v := range obj {
			var ids []string
			if err := json.Unmarshal(v, &ids); err == nil {
				out = append(out, fmt.Sprintf("%s: %s", k, strings.Join(ids, ",")))
				continue
			}
			out = append(out, fmt.Sprintf("%s: %s", k, string(v)))
		}
		return out
	}
	return []string{string(raw)}
}
