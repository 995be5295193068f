package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type RegisterRequest struct {
	Filename    string  `json:"filename"`
	SizeBytes   int64   `json:"size_bytes"`
	DurationSec float64 `json:"duration_sec"`
	ContentType string  `json:"content_type"`
	Email       string  `json:"email"`
}

type Registration struct {
	UploadID     string `json:"upload_id"`
	PresignedURL string `json:"presigned_url"`
}

// RegisterUpload reserves a job id and a storage target.
func (c *Client) RegisterUpload(ctx context.Context, in RegisterRequest) (Registration, error) {
	status, b, err := c.postJSON(ctx, "/upload", in)
	if err != nil {
		return Registration{}, err
	}
	var out struct {
		envelope
		Registration
	}
	if err := json.Unmarshal(b, &out); err != nil {
		if ok2xx(status) {
			return Registration{}, fmt.Errorf("decode upload response: %w", err)
		}
		return Registration{}, &RemoteError{Status: status}
	}
	if !ok2xx(status) || !out.OK {
		return Registration{}, &RemoteError{Status: status, Detail: out.detail()}
	}
	if strings.TrimSpace(out.UploadID) == "" || strings.TrimSpace(out.PresignedURL) == "" {
		return Registration{}, &RemoteError{Status: status, Detail: "upload response missing upload_id or presigned_url"}
	}
	return out.Registration, nil
}

// UpdateEmail attaches the contact email to a job. Advisory only.
func (c *Client) UpdateEmail(ctx context.Context, jobID, email string) error {
	status, b, err := c.postJSON(ctx, "/update_email", map[string]string{"upload_id": jobID, "email": email})
	if err != nil {
		return err
	}
	if !ok2xx(status) {
		var env envelope
		_ = json.Unmarshal(b, &env)
		return &RemoteError{Status: status, Detail: env.detail()}
	}
	return nil
}

type StartJobRequest struct {
	UploadID   string `json:"upload_id"`
	Token      string `json:"token"`
	Provider   string `json:"provider"`
	Priority   bool   `json:"priority"`
	Transcript bool   `json:"transcript"`
}

// StartJob begins processing without payment (coupon or free tier).
func (c *Client) StartJob(ctx context.Context, in StartJobRequest) error {
	status, b, err := c.postJSON(ctx, "/devtest", in)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return &RemoteError{Status: status}
	}
	if !ok2xx(status) || !env.OK {
		return &RemoteError{Status: status, Detail: env.detail()}
	}
	return nil
}

type PaymentRequest struct {
	FileKey     string  `json:"file_key"`
	Provider    string  `json:"provider"`
	Priority    bool    `json:"priority"`
	Transcript  bool    `json:"transcript"`
	Email       string  `json:"email"`
	PromoCode   string  `json:"promo_code"`
	SizeBytes   int64   `json:"size_bytes"`
	DurationSec float64 `json:"duration_sec"`
	PriceCents  int64   `json:"price_cents"`
	Filename    string  `json:"filename"`
}

// PaymentOutcome is one of two shapes: a redirect to the payment page, or a
// direct job start (Free) when the server granted a full discount.
type PaymentOutcome struct {
	RedirectURL string
	Free        bool
	// UploadID keys the progress channel; it may be empty on a free outcome.
	UploadID string
	// JobID is the server's own job record id, a number or a string on the
	// wire. It does not key the progress channel.
	JobID string
}

func (c *Client) CreatePaymentSession(ctx context.Context, in PaymentRequest) (PaymentOutcome, error) {
	status, b, err := c.postJSON(ctx, "/api/pay", in)
	if err != nil {
		return PaymentOutcome{}, err
	}
	var out struct {
		envelope
		Free        bool            `json:"free"`
		UploadID    json.RawMessage `json:"upload_id"`
		JobID       json.RawMessage `json:"job_id"`
		URL         string          `json:"url"`
		CheckoutURL string          `json:"checkout_url"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return PaymentOutcome{}, fmt.Errorf("decode payment response (status %d): %w", status, err)
	}
	if !ok2xx(status) {
		return PaymentOutcome{}, &RemoteError{Status: status, Detail: out.detail()}
	}
	if out.OK && out.Free {
		return PaymentOutcome{Free: true, UploadID: rawText(out.UploadID), JobID: rawText(out.JobID)}, nil
	}
	redirect := strings.TrimSpace(out.URL)
	if redirect == "" {
		redirect = strings.TrimSpace(out.CheckoutURL)
	}
	if redirect == "" {
		return PaymentOutcome{}, ErrNoCheckout
	}
	return PaymentOutcome{RedirectURL: redirect}, nil
}

// FetchDownload resolves the final artifact location for a finished job.
func (c *Client) FetchDownload(ctx context.Context, jobID string) (string, error) {
	status, b, err := c.getJSON(ctx, downloadPath(jobID))
	if err != nil {
		return "", err
	}
	var out struct {
		envelope
		URL string `json:"url"`
	}
	_ = json.Unmarshal(b, &out)
	if !ok2xx(status) {
		return "", &RemoteError{Status: status, Detail: out.detail()}
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", &RemoteError{Status: status, Detail: "download response missing url"}
	}
	return strings.TrimSpace(out.URL), nil
}

// PutObject writes raw bytes to a presigned storage URL.
func (c *Client) PutObject(ctx context.Context, targetURL string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, targetURL, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !ok2xx(resp.StatusCode) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// OpenEventStream opens the server-sent progress stream for a job. The
// returned body stays open until ctx ends or the caller closes it.
func (c *Client) OpenEventStream(ctx context.Context, jobID string) (io.ReadCloser, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("job id is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+eventsPath(jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if !ok2xx(resp.StatusCode) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &RemoteError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}
	return resp.Body, nil
}

// Fetch downloads an artifact. Relative URLs resolve against the base URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u := strings.TrimSpace(rawURL)
	if strings.HasPrefix(u, "/") {
		u = c.base + u
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if !ok2xx(resp.StatusCode) {
		resp.Body.Close()
		return nil, &RemoteError{Status: resp.StatusCode}
	}
	return resp.Body, nil
}
