package main

import (
	"fmt"
	"io"
	"sync"

	"mailsized/domain"
)

// consoleView prints what changed between successive snapshots.
type consoleView struct {
	mu   sync.Mutex
	w    io.Writer
	last domain.Session
	seen bool
}

func newConsoleView(w io.Writer) *consoleView {
	return &consoleView{w: w}
}

func (v *consoleView) Render(s domain.Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.last
	first := !v.seen
	v.last, v.seen = s, true

	if first || s.Phase != prev.Phase {
		fmt.Fprintf(v.w, "[%s]", s.Phase)
		if s.JobID != "" {
			fmt.Fprintf(v.w, " job=%s", s.JobID)
		}
		fmt.Fprintln(v.w)
	}
	if s.Pricing.TotalMinorUnits != prev.Pricing.TotalMinorUnits || s.Pricing.Provider != prev.Pricing.Provider {
		fmt.Fprintf(v.w, "  price: $%.2f (%s, tier %d)\n", s.Pricing.Total, s.Pricing.Provider, s.Pricing.Tier)
	}
	if s.Phase == domain.PhaseProcessing && (s.ProgressPercent != prev.ProgressPercent || s.ProgressMessage != prev.ProgressMessage) {
		fmt.Fprintf(v.w, "  %3d%% %s\n", s.ProgressPercent, s.ProgressMessage)
	}
	if s.RedirectURL != "" && s.RedirectURL != prev.RedirectURL {
		fmt.Fprintf(v.w, "  pay here: %s\n", s.RedirectURL)
	}
	if s.DownloadURL != "" && s.DownloadURL != prev.DownloadURL {
		fmt.Fprintf(v.w, "  result: %s\n", s.DownloadURL)
	}
	if s.LastError != nil && (prev.LastError == nil || s.LastError.Code != prev.LastError.Code || s.LastError.Message != prev.LastError.Message) {
		fmt.Fprintf(v.w, "  error: %s\n", s.LastError.Message)
	}
}
