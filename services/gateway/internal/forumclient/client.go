// Package forumclient forwards requests to the internal forum service.
package forumclient

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Identity is a verified user identity attached to a forwarded request.
type Identity struct {
	UserID       string
	SessionToken string
}

// Response carries an upstream reply back to the gateway untouched.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client forwards HTTP requests to the forum service, preserving method,
// path, and body.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a forum service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Forward relays a request upstream. When identity is non-nil the verified
// user id is attached as a bearer assertion along with the session token
// the forum service needs to re-verify it. A nil identity forwards the
// request anonymously.
func (c *Client) Forward(method, path string, body io.Reader, contentType string, identity *Identity) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if identity != nil {
		req.Header.Set("Authorization", "Bearer "+identity.UserID)
		req.Header.Set("X-Session-Token", identity.SessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to forum service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}
