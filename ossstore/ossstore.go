// Package ossstore moves job bytes to and from Aliyun OSS through presigned
// URLs issued by the backend. The client never holds bucket credentials.
package ossstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type Store struct {
	bucketName string
	host       string
	bucket     *oss.Bucket
}

// NewFromEnv returns (nil, false, nil) when OSS_BUCKET is unset.
func NewFromEnv() (*Store, bool, error) {
	bucket := strings.TrimSpace(os.Getenv("OSS_BUCKET"))
	if bucket == "" {
		return nil, false, nil
	}
	endpoint := strings.TrimSpace(os.Getenv("OSS_ENDPOINT_PUBLIC"))
	if endpoint == "" {
		return nil, true, errors.New("OSS_BUCKET is set but OSS_ENDPOINT_PUBLIC is empty")
	}
	st, err := New(endpoint, bucket, strings.TrimSpace(os.Getenv("OSS_REGION")))
	if err != nil {
		return nil, true, err
	}
	return st, true, nil
}

func New(endpoint, bucketName, region string) (*Store, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint empty")
	}
	var opts []oss.ClientOption
	if region != "" {
		opts = append(opts, oss.Region(region))
	}
	// Requests carry their own signature in the URL; no keys needed.
	client, err := oss.New(endpoint, "", "", opts...)
	if err != nil {
		return nil, fmt.Errorf("init oss client failed: %w", err)
	}
	b, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket failed: %w", err)
	}
	return &Store{bucketName: bucketName, host: hostOf(endpoint), bucket: b}, nil
}

func hostOf(endpoint string) string {
	e := endpoint
	if !strings.Contains(e, "://") {
		e = "https://" + e
	}
	u, err := url.Parse(e)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func (s *Store) Enabled() bool { return s != nil && s.bucket != nil }

// Owns reports whether rawURL points at this bucket, either virtual-hosted
// (bucket.endpoint) or path-style on the endpoint host.
func (s *Store) Owns(rawURL string) bool {
	if !s.Enabled() {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	h := strings.ToLower(u.Hostname())
	return h == s.host || h == strings.ToLower(s.bucketName)+"."+s.host
}

// PutObject uploads body to a presigned PUT URL.
func (s *Store) PutObject(ctx context.Context, signedURL string, body io.Reader, size int64, contentType string) error {
	if !s.Enabled() {
		return errors.New("oss not enabled")
	}
	signedURL = strings.TrimSpace(signedURL)
	if signedURL == "" {
		return errors.New("signed url empty")
	}
	opts := []oss.Option{oss.WithContext(ctx)}
	if size > 0 {
		opts = append(opts, oss.ContentLength(size))
	}
	if ct := strings.TrimSpace(contentType); ct != "" {
		opts = append(opts, oss.ContentType(ct))
	}
	if err := s.bucket.PutObjectWithURL(signedURL, body, opts...); err != nil {
		return fmt.Errorf("oss put: %w", err)
	}
	return nil
}

// Fetch opens a presigned GET URL.
func (s *Store) Fetch(ctx context.Context, signedURL string) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, errors.New("oss not enabled")
	}
	signedURL = strings.TrimSpace(signedURL)
	if signedURL == "" {
		return nil, errors.New("signed url empty")
	}
	rc, err := s.bucket.GetObjectWithURL(signedURL, oss.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("oss get: %w", err)
	}
	return rc, nil
}

// StatusOf returns the HTTP status carried by an OSS service error, or 0.
func StatusOf(err error) int {
	var se oss.ServiceError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
