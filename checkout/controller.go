// Package checkout owns the single checkout session: it takes user input,
// drives the upload, picks the checkout path and follows the job to a
// download.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailsized/apiclient"
	"mailsized/domain"
	"mailsized/download"
	"mailsized/paygate"
	"mailsized/pricing"
	"mailsized/progress"
	"mailsized/resume"
	"mailsized/store"
	"mailsized/upload"
)

var (
	ErrNotBooted        = errors.New("checkout: controller not booted")
	ErrCheckoutInFlight = errors.New("checkout: attempt already in progress")
	ErrBusy             = errors.New("checkout: file cannot change while a job is being checked out")
	ErrNoDownload       = errors.New("checkout: no download available")
)

// API is the subset of the backend the controller calls directly.
type API interface {
	UpdateEmail(ctx context.Context, jobID, email string) error
	StartJob(ctx context.Context, in apiclient.StartJobRequest) error
	CreatePaymentSession(ctx context.Context, in apiclient.PaymentRequest) (apiclient.PaymentOutcome, error)
	FetchDownload(ctx context.Context, jobID string) (string, error)
}

type Uploader interface {
	Submit(ctx context.Context, req upload.Request) (upload.Result, error)
	Cancel()
}

// Navigator sends the user to the external payment page.
type Navigator interface {
	Navigate(ctx context.Context, rawURL string) error
}

// View receives a snapshot after every state change. Render must not call
// back into the controller's setters.
type View interface {
	Render(s domain.Session)
}

type Deps struct {
	API      API
	Uploader Uploader
	Progress progress.Opener
	Markers  store.MarkerStore
	// Gate defaults to paygate.NewFromEnv when left zero.
	Gate paygate.Gate
	// Navigator is optional; without it the redirect URL is only recorded.
	Navigator Navigator
	Download  download.Strategy
	View      View
	Logger    *slog.Logger

	// SessionID keys the resumption marker. Generated when empty.
	SessionID    string
	FetchTimeout time.Duration
}

type Controller struct {
	api       API
	uploader  Uploader
	markers   store.MarkerStore
	gate      paygate.Gate
	navigator Navigator
	strategy  download.Strategy
	view      View
	logger    *slog.Logger
	resumer   *resume.Resumer
	sub       *progress.Subscriber

	fetchTimeout time.Duration

	renderMu sync.Mutex

	mu      sync.Mutex
	s       domain.Session
	booted  bool
	fileGen uint64
	baseCtx context.Context
	stop    context.CancelFunc
	changed chan struct{}
}

func New(d Deps) (*Controller, error) {
	if d.API == nil || d.Uploader == nil || d.Progress == nil {
		return nil, errors.New("checkout: api, uploader and progress opener are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	markers := d.Markers
	if markers == nil {
		markers = store.NewInMemoryMarkerStore()
	}
	sessionID := strings.TrimSpace(d.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ft := d.FetchTimeout
	if ft <= 0 {
		ft = progress.DefaultFetchTimeout
	}
	strategy := d.Download
	if strategy == nil {
		strategy = download.DirectLink{}
	}
	gate := d.Gate
	if gate.IsZero() {
		gate = paygate.NewFromEnv()
	}

	c := &Controller{
		api:          d.API,
		uploader:     d.Uploader,
		markers:      markers,
		gate:         gate,
		navigator:    d.Navigator,
		strategy:     strategy,
		view:         d.View,
		logger:       logger.With("session_id", sessionID),
		fetchTimeout: ft,
		changed:      make(chan struct{}),
	}
	c.resumer = resume.New(markers, c.logger)
	sub, err := progress.NewSubscriber(progress.Options{
		Opener:       d.Progress,
		Resolver:     d.API,
		Listener:     c,
		Logger:       c.logger,
		FetchTimeout: ft,
	})
	if err != nil {
		return nil, err
	}
	c.sub = sub

	c.s = domain.Session{ID: sessionID, Provider: domain.ProviderGmail, Phase: domain.PhaseIdle}
	c.reprice()
	return c, nil
}

// Boot resumes a session returning from the payment page. It must run
// before any other trigger; later calls are no-ops.
func (c *Controller) Boot(ctx context.Context, page resume.Page) error {
	c.mu.Lock()
	if c.booted {
		c.mu.Unlock()
		return nil
	}
	c.booted = true
	c.baseCtx, c.stop = context.WithCancel(context.WithoutCancel(ctx))
	sessionID := c.s.ID
	c.mu.Unlock()

	d := c.resumer.Resolve(page, sessionID)
	switch d.Signal {
	case resume.SignalPaid:
		c.mu.Lock()
		c.s.JobID = d.JobID
		c.s.UploadComplete = true
		c.s.Phase = domain.PhaseProcessing
		c.s.ProgressPercent = 0
		c.s.ProgressMessage = progress.DefaultWorkingMessage
		c.reprice()
		base := c.baseCtx
		c.mu.Unlock()
		c.logger.Info("resuming paid job", "job_id", d.JobID, "source", d.Source)
		if err := c.sub.Attach(base, d.JobID); err != nil {
			c.logger.Warn("attach progress failed", "job_id", d.JobID, "err", err)
		}
	case resume.SignalCanceled:
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
		c.logger.Info("payment canceled, back to idle")
	}
	c.publish()
	return nil
}

func (c *Controller) ensureBooted() error {
	if !c.booted {
		return ErrNotBooted
	}
	return nil
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.Snapshot()
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.ID
}

// SelectFile makes file the session's file and uploads it. It returns when
// the upload settles. A newer SelectFile or RemoveFile makes an older call
// return upload.ErrSuperseded without touching the session.
func (c *Controller) SelectFile(ctx context.Context, file domain.LocalFile) error {
	c.mu.Lock()
	if err := c.ensureBooted(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.s.Phase.CheckoutOutstanding() || c.s.Phase.Committed() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.fileGen++
	gen := c.fileGen
	c.resetLocked()
	f := file
	c.s.File = &f
	c.s.SizeBytes = file.Size
	c.s.Phase = domain.PhaseFileSelected
	c.reprice()
	email := c.s.Email
	c.mu.Unlock()
	c.publish()

	res, err := c.uploader.Submit(ctx, upload.Request{File: file, Email: email})

	c.mu.Lock()
	if gen != c.fileGen || errors.Is(err, upload.ErrSuperseded) {
		c.mu.Unlock()
		return upload.ErrSuperseded
	}
	if res.JobID != "" {
		c.s.JobID = res.JobID
	}
	if res.SizeBytes > 0 {
		c.s.SizeBytes = res.SizeBytes
	}
	c.s.DurationSeconds = res.DurationSeconds
	var uerr *domain.Error
	if err != nil {
		uerr = asDomainError(err, domain.CodeUploadRequestFailed, "Upload request failed")
		c.s.UploadComplete = false
		c.s.LastError = uerr
	} else {
		c.s.UploadComplete = true
		c.s.Phase = domain.PhaseUploaded
	}
	c.reprice()
	c.mu.Unlock()
	c.publish()
	if uerr != nil {
		return uerr
	}
	return nil
}

// RemoveFile resets the session to idle. An in-flight upload is discarded
// and any progress subscription is closed.
func (c *Controller) RemoveFile() error {
	c.mu.Lock()
	if err := c.ensureBooted(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.s.Phase.CheckoutOutstanding() {
		c.mu.Unlock()
		return ErrCheckoutInFlight
	}
	c.fileGen++
	c.resetLocked()
	sessionID := c.s.ID
	c.mu.Unlock()

	c.uploader.Cancel()
	c.sub.Detach()
	if err := c.markers.Clear(sessionID); err != nil {
		c.logger.Warn("clear session marker failed", "err", err)
	}
	c.publish()
	return nil
}

// resetLocked clears everything tied to the file, keeping user choices.
func (c *Controller) resetLocked() {
	c.s.File = nil
	c.s.JobID = ""
	c.s.UploadComplete = false
	c.s.SizeBytes = 0
	c.s.DurationSeconds = 0
	c.s.Phase = domain.PhaseIdle
	c.s.ProgressPercent = 0
	c.s.ProgressMessage = ""
	c.s.DownloadURL = ""
	c.s.RedirectURL = ""
	c.s.LastError = nil
	c.reprice()
}

func (c *Controller) SetProvider(p domain.Provider) error {
	return c.update(func(s *domain.Session) { s.Provider = p })
}

func (c *Controller) SetAddOn(a domain.AddOn, on bool) error {
	return c.update(func(s *domain.Session) { s.AddOns = s.AddOns.With(a, on) })
}

func (c *Controller) SetEmail(email string) error {
	return c.update(func(s *domain.Session) { s.Email = strings.TrimSpace(email) })
}

func (c *Controller) SetCoupon(code string) error {
	return c.update(func(s *domain.Session) { s.Coupon = strings.TrimSpace(code) })
}

func (c *Controller) SetTermsAccepted(ok bool) error {
	return c.update(func(s *domain.Session) { s.TermsAccepted = ok })
}

func (c *Controller) update(fn func(s *domain.Session)) error {
	c.mu.Lock()
	if err := c.ensureBooted(); err != nil {
		c.mu.Unlock()
		return err
	}
	fn(&c.s)
	c.reprice()
	c.mu.Unlock()
	c.publish()
	return nil
}

// reprice derives Pricing from provider, size and add-ons. Caller holds mu.
func (c *Controller) reprice() {
	c.s.Pricing = pricing.ComputePrice(c.s.Provider, c.s.SizeBytes, c.s.JobID != "", c.s.AddOns)
}

// WaitFor blocks until cond holds for the session or ctx ends.
func (c *Controller) WaitFor(ctx context.Context, cond func(domain.Session) bool) (domain.Session, error) {
	for {
		c.mu.Lock()
		snap := c.s.Snapshot()
		ch := c.changed
		c.mu.Unlock()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Settled reports whether the session needs user action to move on.
func Settled(s domain.Session) bool {
	switch s.Phase {
	case domain.PhaseCompleted, domain.PhaseFailed, domain.PhaseRedirected:
		return true
	case domain.PhaseProcessing:
		return s.LastError != nil && s.LastError.Code == domain.CodeDownloadUnavailable
	}
	return false
}

func (c *Controller) publish() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	snap := c.s.Snapshot()
	ch := c.changed
	c.changed = make(chan struct{})
	c.mu.Unlock()
	close(ch)
	if c.view != nil {
		c.view.Render(snap)
	}
}

// Close stops the progress subscription and any upload.
func (c *Controller) Close() {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	c.uploader.Cancel()
	c.sub.Detach()
	if stop != nil {
		stop()
	}
}

func asDomainError(err error, code domain.Code, fallback string) *domain.Error {
	if de, ok := domain.AsError(err); ok {
		return de
	}
	msg := apiclient.DetailOf(err)
	if msg == "" {
		msg = fallback
	}
	return domain.NewError(code, msg, err)
}
