package checkout

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mailsized/apiclient"
	"mailsized/domain"
	"mailsized/download"
	"mailsized/obs"
	"mailsized/paygate"
	"mailsized/progress"
	"mailsized/store"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	msgNoFile           = "Please upload a video first."
	msgInvalidEmail     = "Enter a valid email."
	msgTermsNotAccepted = "Please accept the Terms & Conditions."
	msgCouponRejected   = "Coupon could not be applied."
	msgFreeTierFailed   = "Could not start your free compression."
	msgCheckoutFailed   = "Checkout could not be created."
	msgNoDownload       = "No download URL. Try refreshing."
)

// attempt is the immutable input of one checkout call.
type attempt struct {
	sessionID string
	jobID     string
	filename  string
	email     string
	coupon    string
	provider  domain.Provider
	addOns    domain.AddOns
	size      int64
	duration  float64
	price     int64
}

// Checkout runs the guards and, if they pass, commits the session to one
// path. A call while another attempt is outstanding, or after the session
// committed, returns ErrCheckoutInFlight and has no side effects.
func (c *Controller) Checkout(ctx context.Context) error {
	c.mu.Lock()
	if err := c.ensureBooted(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.s.Phase.CheckoutOutstanding() || c.s.Phase.Committed() || c.s.Phase == domain.PhaseCompleted {
		c.mu.Unlock()
		return ErrCheckoutInFlight
	}
	c.s.LastError = nil
	if gerr := c.guardLocked(); gerr != nil {
		c.s.LastError = gerr
		c.mu.Unlock()
		c.publish()
		return gerr
	}
	c.reprice()
	c.s.Phase = domain.PhaseValidating
	a := attempt{
		sessionID: c.s.ID,
		jobID:     c.s.JobID,
		email:     c.s.Email,
		coupon:    c.s.Coupon,
		provider:  c.s.Pricing.Provider,
		addOns:    c.s.AddOns,
		size:      c.s.SizeBytes,
		duration:  c.s.DurationSeconds,
		price:     c.s.Pricing.TotalMinorUnits,
	}
	if c.s.File != nil {
		a.filename = c.s.File.Name
	}
	base := c.baseCtx
	c.mu.Unlock()
	c.publish()

	ctx, span := obs.Tracer("mailsized/checkout").Start(ctx, "checkout.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", a.jobID))

	c.syncEmail(base, a)

	path, token := c.gate.Decide(a.coupon, a.size)
	span.SetAttributes(attribute.String("checkout.path", string(path)))
	log := c.logger.With("job_id", a.jobID, "path", path)

	var err error
	switch path {
	case paygate.PathCoupon:
		err = c.startJob(ctx, a, domain.PhaseCoupon, token, domain.CodeCouponRejected, msgCouponRejected)
	case paygate.PathFree:
		err = c.startJob(ctx, a, domain.PhaseFree, token, domain.CodeFreeTierFailed, msgFreeTierFailed)
	default:
		err = c.pay(ctx, a)
	}
	obs.RecordCheckout(string(path), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("checkout failed", "err", err)
		return err
	}
	log.Info("checkout committed")
	return nil
}

func (c *Controller) guardLocked() *domain.Error {
	switch {
	case c.s.File == nil || c.s.JobID == "" || !c.s.UploadComplete:
		return domain.NewError(domain.CodeNoFileSelected, msgNoFile, nil)
	case !emailPattern.MatchString(c.s.Email):
		return domain.NewError(domain.CodeInvalidEmail, msgInvalidEmail, nil)
	case !c.s.TermsAccepted:
		return domain.NewError(domain.CodeTermsNotAccepted, msgTermsNotAccepted, nil)
	}
	return nil
}

// syncEmail sends the email alongside the checkout. A failure is logged and
// never blocks the attempt.
func (c *Controller) syncEmail(base context.Context, a attempt) {
	if base == nil {
		base = context.Background()
	}
	go func() {
		ctx, cancel := context.WithTimeout(base, c.fetchTimeout)
		defer cancel()
		if err := c.api.UpdateEmail(ctx, a.jobID, a.email); err != nil {
			c.logger.Warn("email sync failed", "job_id", a.jobID, "err", err)
		}
	}()
}

func (c *Controller) setPhase(p domain.Phase) {
	c.mu.Lock()
	c.s.Phase = p
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) startJob(ctx context.Context, a attempt, phase domain.Phase, token string, code domain.Code, fallback string) error {
	c.setPhase(phase)
	err := c.api.StartJob(ctx, apiclient.StartJobRequest{
		UploadID:   a.jobID,
		Token:      token,
		Provider:   string(a.provider),
		Priority:   a.addOns.Priority,
		Transcript: a.addOns.Transcript,
	})
	if err != nil {
		return c.fail(asDomainError(err, code, fallback))
	}
	c.enterProcessing(a, a.jobID)
	return nil
}

func (c *Controller) pay(ctx context.Context, a attempt) error {
	c.setPhase(domain.PhasePaid)
	out, err := c.api.CreatePaymentSession(ctx, apiclient.PaymentRequest{
		FileKey:     a.jobID,
		Provider:    string(a.provider),
		Priority:    a.addOns.Priority,
		Transcript:  a.addOns.Transcript,
		Email:       a.email,
		PromoCode:   a.coupon,
		SizeBytes:   a.size,
		DurationSec: a.duration,
		PriceCents:  a.price,
		Filename:    a.filename,
	})
	if err != nil {
		msg := apiclient.DetailOf(err)
		if msg == "" || errors.Is(err, apiclient.ErrNoCheckout) {
			msg = msgCheckoutFailed
		}
		return c.fail(domain.NewError(domain.CodeCheckoutUnavailable, msg, err))
	}
	if out.Free {
		// Progress is keyed by upload id; the server's record id is last resort.
		id := out.UploadID
		if id == "" {
			id = a.jobID
		}
		if id == "" {
			id = out.JobID
		}
		c.enterProcessing(a, id)
		return nil
	}
	c.enterRedirected(ctx, a, out.RedirectURL)
	return nil
}

// fail returns the session to Uploaded with e in the error slot.
func (c *Controller) fail(e *domain.Error) error {
	c.mu.Lock()
	if c.s.Phase.CheckoutOutstanding() {
		c.s.Phase = domain.PhaseUploaded
	}
	c.s.LastError = e
	c.mu.Unlock()
	c.publish()
	return e
}

func (c *Controller) enterProcessing(a attempt, jobID string) {
	c.mu.Lock()
	c.s.JobID = jobID
	c.s.Phase = domain.PhaseProcessing
	c.s.ProgressPercent = 0
	c.s.ProgressMessage = progress.DefaultWorkingMessage
	base := c.baseCtx
	c.mu.Unlock()

	if err := c.markers.Save(store.Marker{SessionID: a.sessionID, JobID: jobID, Paid: true, Filename: a.filename}); err != nil {
		c.logger.Warn("save session marker failed", "job_id", jobID, "err", err)
	}
	if err := c.sub.Attach(base, jobID); err != nil {
		c.logger.Warn("attach progress failed", "job_id", jobID, "err", err)
	}
	c.publish()
}

func (c *Controller) enterRedirected(ctx context.Context, a attempt, redirectURL string) {
	c.mu.Lock()
	c.s.Phase = domain.PhaseRedirected
	c.s.RedirectURL = redirectURL
	c.mu.Unlock()

	if err := c.markers.Save(store.Marker{SessionID: a.sessionID, JobID: a.jobID, Filename: a.filename}); err != nil {
		c.logger.Warn("save session marker failed", "job_id", a.jobID, "err", err)
	}
	c.publish()
	if c.navigator == nil {
		return
	}
	if err := c.navigator.Navigate(ctx, redirectURL); err != nil {
		c.logger.Warn("open payment page failed", "url", redirectURL, "err", err)
	}
}

// RefreshDownload retries the download lookup after the job finished
// without a usable reference.
func (c *Controller) RefreshDownload(ctx context.Context) error {
	c.mu.Lock()
	if err := c.ensureBooted(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.s.Phase != domain.PhaseProcessing || c.s.LastError == nil || c.s.LastError.Code != domain.CodeDownloadUnavailable {
		c.mu.Unlock()
		return ErrNoDownload
	}
	jobID := c.s.JobID
	c.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	u, err := c.api.FetchDownload(fctx, jobID)
	if err != nil || strings.TrimSpace(u) == "" {
		e := domain.NewError(domain.CodeDownloadUnavailable, msgNoDownload, err)
		c.OnFailure(jobID, e)
		return e
	}
	c.OnComplete(jobID, u)
	return nil
}

// Download delivers the finished artifact with the configured strategy.
func (c *Controller) Download(ctx context.Context, dir string) (download.Artifact, error) {
	c.mu.Lock()
	phase, u := c.s.Phase, c.s.DownloadURL
	c.mu.Unlock()
	if phase != domain.PhaseCompleted || u == "" {
		return download.Artifact{}, ErrNoDownload
	}
	art, err := c.strategy.Deliver(ctx, u, dir)
	if err != nil {
		return art, err
	}
	c.logger.Info("download delivered", "strategy", art.Strategy, "file", art.Filename)
	return art, nil
}
