// Package apiclient talks to the compression backend: upload registration,
// job start, payment sessions, progress streams and download references.
package apiclient

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

	"mailsized/obs"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 1 << 20
)

// ErrNoCheckout is returned when a payment-session response carries neither a
// redirect nor a direct job start.
var ErrNoCheckout = errors.New("checkout could not be created")

type Options struct {
	BaseURL string
	// HTTPClient is used for every call. It must not carry a Timeout, since the
	// progress stream is long-lived; per-call bounds come from RequestTimeout.
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("apiclient: base url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("apiclient: invalid base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: obs.WrapTransport(nil)}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{base: base, http: hc, timeout: timeout}, nil
}

func (c *Client) BaseURL() string { return c.base }

// RemoteError is a non-ok answer from the backend.
type RemoteError struct {
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// DetailOf returns the server-supplied detail in err, if any.
func DetailOf(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Detail
	}
	return ""
}

type envelope struct {
	OK      bool            `json:"ok"`
	Detail  json.RawMessage `json:"detail"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func (e envelope) detail() string {
	if d := rawText(e.Error); d != "" {
		return d
	}
	return rawText(e.Detail)
}

// rawText renders a detail field that may be a string or arbitrary JSON.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func (c *Client) postJSON(ctx context.Context, path string, in any) (int, []byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(req)
}

func (c *Client) getJSON(ctx context.Context, path string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

func ok2xx(status int) bool { return status >= 200 && status < 300 }

func eventsPath(jobID string) string   { return "/events/" + url.PathEscape(jobID) }
func downloadPath(jobID string) string { return "/download/" + url.PathEscape(jobID) }
