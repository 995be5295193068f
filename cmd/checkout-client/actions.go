package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"mailsized/checkout"
	"mailsized/config"
	"mailsized/domain"
	"mailsized/obs"
	"mailsized/pricing"
	"mailsized/redislock"
	"mailsized/resume"
	"mailsized/stubapi"
	"mailsized/upload"
)

// returnURL stands in for the page a terminal session returns to.
const returnURL = "mailsized://checkout"

// Run uploads a file, checks out and follows the job to a result.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.config(cmd)
	if err != nil {
		return err
	}
	provider, ok := domain.ParseProvider(cmd.String("provider"))
	if !ok {
		return fmt.Errorf("unknown provider %q", cmd.String("provider"))
	}
	file, err := upload.Stat(cmd.String("file"))
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}

	c, err := wire(cfg, r.wireOpts(cmd), r.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return r.withMetrics(ctx, cfg.Metrics.Addr, func(ctx context.Context) error {
		page, _ := resume.NewURLPage(returnURL)
		if err := c.ctrl.Boot(ctx, page); err != nil {
			return err
		}
		for _, err := range []error{
			c.ctrl.SetProvider(provider),
			c.ctrl.SetAddOn(domain.AddOnPriority, cmd.Bool("priority")),
			c.ctrl.SetAddOn(domain.AddOnTranscript, cmd.Bool("transcript")),
			c.ctrl.SetEmail(cmd.String("email")),
			c.ctrl.SetCoupon(cmd.String("coupon")),
			c.ctrl.SetTermsAccepted(cmd.Bool("accept-terms")),
		} {
			if err != nil {
				return err
			}
		}
		if err := c.ctrl.SelectFile(ctx, file); err != nil {
			return err
		}
		if err := c.ctrl.Checkout(ctx); err != nil {
			return err
		}
		s := c.ctrl.Snapshot()
		if s.Phase == domain.PhaseRedirected {
			r.writePlain("finish payment, then run:\n  checkout-client resume --session %s --return-url '<url you land on>'\n", s.ID)
			return nil
		}
		return r.follow(ctx, cmd, c)
	})
}

// Resume boots a session from the payment return URL or its stored marker.
func (r *Runner) Resume(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.config(cmd)
	if err != nil {
		return err
	}
	raw := cmd.String("return-url")
	if raw == "" {
		raw = returnURL
	}
	page, err := resume.NewURLPage(raw)
	if err != nil {
		return fmt.Errorf("parse return url: %w", err)
	}

	c, err := wire(cfg, r.wireOpts(cmd), r.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return r.withMetrics(ctx, cfg.Metrics.Addr, func(ctx context.Context) error {
		if err := c.ctrl.Boot(ctx, page); err != nil {
			return err
		}
		if c.ctrl.Snapshot().Phase != domain.PhaseProcessing {
			r.writePlain("nothing to resume for session %s\n", cmd.String("session"))
			return nil
		}
		return r.follow(ctx, cmd, c)
	})
}

func (r *Runner) wireOpts(cmd *cli.Command) wireOpts {
	return wireOpts{
		sessionID: cmd.String("session"),
		noBrowser: cmd.Bool("no-browser"),
		userAgent: cmd.String("user-agent"),
		view:      newConsoleView(r.output),
	}
}

// follow waits for the job to settle, retries a missing download link and
// delivers the result. Only one process follows a job when Redis is set.
func (r *Runner) follow(ctx context.Context, cmd *cli.Command, c *client) error {
	s := c.ctrl.Snapshot()
	if c.lease != nil {
		lease, err := c.lease.Hold(ctx, s.JobID, c.cfg.FollowLease(), r.logger)
		if errors.Is(err, redislock.ErrHeld) {
			r.writePlain("job %s is already followed elsewhere\n", s.JobID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("take follow lease: %w", err)
		}
		defer func() { _ = lease.Release(context.WithoutCancel(ctx)) }()
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	refreshes := cmd.Int("refresh-attempts")
	for attempt := 0; ; attempt++ {
		s, err := c.ctrl.WaitFor(ctx, checkout.Settled)
		if err != nil {
			return fmt.Errorf("waiting for job %s: %w", s.JobID, err)
		}
		if s.Phase != domain.PhaseProcessing || attempt >= refreshes {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 2 * time.Second):
		}
		if err := c.ctrl.RefreshDownload(ctx); err != nil {
			r.logger.Warn("download refresh failed", "attempt", attempt+1, "err", err)
		}
	}

	s = c.ctrl.Snapshot()
	if s.Phase != domain.PhaseCompleted {
		if s.LastError != nil {
			return s.LastError
		}
		return fmt.Errorf("job %s ended in %s", s.JobID, s.Phase)
	}
	dir := cmd.String("dir")
	if dir == "" {
		dir = c.cfg.Download.Dir
	}
	art, err := c.ctrl.Download(ctx, dir)
	if err != nil {
		return err
	}
	if art.Path != "" {
		r.writePlain("saved %s (%d bytes)\n", art.Path, art.Bytes)
	} else {
		r.writePlain("download: %s\n", art.URL)
	}
	return nil
}

// Quote prints every provider's price and optionally exports it.
func (r *Runner) Quote(ctx context.Context, cmd *cli.Command) error {
	size := int64(cmd.Int("size"))
	if p := cmd.String("file"); p != "" {
		f, err := upload.Stat(p)
		if err != nil {
			return fmt.Errorf("open video: %w", err)
		}
		size = f.Size
	}
	selected, ok := domain.ParseProvider(cmd.String("provider"))
	if !ok {
		return fmt.Errorf("unknown provider %q", cmd.String("provider"))
	}
	addOns := domain.AddOns{Priority: cmd.Bool("priority"), Transcript: cmd.Bool("transcript")}
	rows := pricing.CompareProviders(size, size > 0, addOns)

	r.writePlain("%-8s %4s %8s %8s %8s\n", "provider", "tier", "subtotal", "tax", "total")
	for _, p := range rows {
		mark := " "
		if p.Provider == selected {
			mark = "*"
		}
		r.writePlain("%-7s%s %4d %8.2f %8.2f %8.2f\n", p.Provider, mark, p.Tier, p.Subtotal, p.Tax, p.Total)
	}
	if out := cmd.String("output"); out != "" {
		if err := pricing.WriteQuoteXLSX(out, rows, selected); err != nil {
			return err
		}
		r.writePlain("quote written to %s\n", out)
	}
	return nil
}

func (r *Runner) InitConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("path")
	if err := config.WriteExample(path); err != nil {
		return err
	}
	r.writePlain("config written to %s\n", path)
	return nil
}

// Stub serves the in-memory backend until interrupted.
func (r *Runner) Stub(ctx context.Context, cmd *cli.Command) error {
	srv := &http.Server{
		Addr:              cmd.String("addr"),
		Handler:           stubapi.New().Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	r.logger.Info("stub backend listening", "addr", srv.Addr)
	return serve(ctx, srv)
}

// withMetrics runs fn next to the metrics listener; the listener stops when
// fn returns.
func (r *Runner) withMetrics(ctx context.Context, addr string, fn func(ctx context.Context) error) error {
	if addr == "" {
		return fn(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		srv := &http.Server{
			Addr:              addr,
			Handler:           obs.WrapHTTP("mailsized-client-metrics", mux),
			ReadHeaderTimeout: 3 * time.Second,
		}
		if err := serve(gctx, srv); err != nil {
			r.logger.Warn("metrics listener stopped", "addr", addr, "err", err)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	return g.Wait()
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
