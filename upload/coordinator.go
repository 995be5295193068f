// Package upload turns a selected local file into a registered job whose
// bytes are in storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mailsized/apiclient"
	"mailsized/domain"
	"mailsized/obs"
)

// DefaultEmail is sent at registration when the user has not typed one yet.
// MAILSIZED_DEFAULT_EMAIL overrides it.
const DefaultEmail = "noemail@mailsized.com"

func placeholderEmail() string {
	if v := strings.TrimSpace(os.Getenv("MAILSIZED_DEFAULT_EMAIL")); v != "" {
		return v
	}
	return DefaultEmail
}

// ErrSuperseded is returned when a newer Submit or a Cancel made this
// submission irrelevant. Its result must not be applied.
var ErrSuperseded = errors.New("upload superseded")

type Registrar interface {
	RegisterUpload(ctx context.Context, in apiclient.RegisterRequest) (apiclient.Registration, error)
}

type Transfer interface {
	PutObject(ctx context.Context, targetURL string, body io.Reader, size int64, contentType string) error
}

type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type Request struct {
	File  domain.LocalFile
	Email string
}

// Result is what a submission produced. JobID is set as soon as registration
// succeeded, even when the storage transfer later failed.
type Result struct {
	JobID           string
	SizeBytes       int64
	DurationSeconds float64
	ContentType     string
	Stored          bool
}

type Options struct {
	Registrar Registrar
	Transfer  Transfer
	Prober    Prober
	Logger    *slog.Logger
	// ContentType overrides sniffing; used by tests.
	ContentType func(path string) string
}

// Coordinator runs at most one relevant submission at a time. A new Submit
// cancels the previous one and bumps the generation; results from older
// generations come back as ErrSuperseded.
type Coordinator struct {
	reg         Registrar
	xfer        Transfer
	probe       Prober
	logger      *slog.Logger
	contentType func(string) string

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Registrar == nil || opts.Transfer == nil {
		return nil, errors.New("upload: registrar and transfer are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ct := opts.ContentType
	if ct == nil {
		ct = ContentType
	}
	return &Coordinator{
		reg:         opts.Registrar,
		xfer:        opts.Transfer,
		probe:       opts.Prober,
		logger:      logger,
		contentType: ct,
	}, nil
}

func (c *Coordinator) begin(parent context.Context) (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	c.gen++
	c.cancel = cancel
	return ctx, c.gen
}

func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Coordinator) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Cancel discards any in-flight submission.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Submit probes, registers and transfers req.File. Steps run strictly in
// order; each failure is reported with its own error code.
func (c *Coordinator) Submit(parent context.Context, req Request) (Result, error) {
	ctx, gen := c.begin(parent)
	defer c.finish(gen)

	ctx, span := obs.Tracer("mailsized/upload").Start(ctx, "upload.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("file.name", req.File.Name),
		attribute.Int64("file.size", req.File.Size),
	)

	res, err := c.run(ctx, gen, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if res.JobID != "" {
		span.SetAttributes(attribute.String("job.id", res.JobID))
	}
	return res, err
}

func (c *Coordinator) run(ctx context.Context, gen uint64, req Request) (Result, error) {
	file := req.File
	if strings.TrimSpace(file.Path) == "" {
		return Result{}, domain.NewError(domain.CodeNoFileSelected, "Please upload a video first.", nil)
	}
	if file.Name == "" || file.Size <= 0 {
		st, err := Stat(file.Path)
		if err != nil {
			return Result{}, domain.NewError(domain.CodeNoFileSelected, "Please upload a video first.", err)
		}
		file = st
	}
	res := Result{SizeBytes: file.Size, ContentType: c.contentType(file.Path)}

	// 1. Duration is best-effort.
	if c.probe != nil {
		start := time.Now()
		d, err := c.probe.Duration(ctx, file.Path)
		obs.RecordUploadStage("probe", start, err)
		if err != nil {
			c.logger.Debug("duration probe failed", "file", file.Name, "err", err)
			d = 0
		}
		res.DurationSeconds = d
	}
	if !c.current(gen) {
		return Result{}, ErrSuperseded
	}

	// 2. Register.
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = placeholderEmail()
	}
	start := time.Now()
	reg, err := c.reg.RegisterUpload(ctx, apiclient.RegisterRequest{
		Filename:    file.Name,
		SizeBytes:   file.Size,
		DurationSec: res.DurationSeconds,
		ContentType: res.ContentType,
		Email:       email,
	})
	obs.RecordUploadStage("register", start, err)
	if !c.current(gen) {
		return Result{}, ErrSuperseded
	}
	if err != nil {
		msg := apiclient.DetailOf(err)
		if msg == "" {
			msg = "Upload request failed"
		}
		c.logger.Warn("upload registration failed", "file", file.Name, "err", err)
		return Result{}, domain.NewError(domain.CodeUploadRequestFailed, msg, err)
	}

	// 3. The job id is ours from here on.
	res.JobID = reg.UploadID

	// 4. Transfer.
	f, err := os.Open(file.Path)
	if err != nil {
		return res, domain.NewError(domain.CodeStorageUploadFailed, "Upload to storage failed.", err)
	}
	defer f.Close()
	start = time.Now()
	err = c.xfer.PutObject(ctx, reg.PresignedURL, f, file.Size, res.ContentType)
	obs.RecordUploadStage("transfer", start, err)
	if !c.current(gen) {
		return Result{}, ErrSuperseded
	}
	if err != nil {
		c.logger.Warn("storage transfer failed", "job_id", res.JobID, "err", err)
		return res, domain.NewError(domain.CodeStorageUploadFailed, "Upload to storage failed.", fmt.Errorf("put object: %w", err))
	}

	// 5. Complete.
	res.Stored = true
	c.logger.Info("upload complete", "job_id", res.JobID, "size_bytes", res.SizeBytes, "duration_sec", res.DurationSeconds)
	return res, nil
}
