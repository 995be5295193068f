package domain

import "strings"

type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderOther   Provider = "other"
)

// Providers lists every provider in display order.
var Providers = []Provider{ProviderGmail, ProviderOutlook, ProviderOther}

// ParseProvider accepts a provider name case-insensitively.
func ParseProvider(raw string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderGmail:
		return ProviderGmail, true
	case ProviderOutlook:
		return ProviderOutlook, true
	case ProviderOther:
		return ProviderOther, true
	}
	return "", false
}

type AddOn string

const (
	AddOnPriority   AddOn = "priority"
	AddOnTranscript AddOn = "transcript"
)

// AddOns is the set of optional extras a user can select.
type AddOns struct {
	Priority   bool `json:"priority"`
	Transcript bool `json:"transcript"`
}

func (a AddOns) Has(x AddOn) bool {
	switch x {
	case AddOnPriority:
		return a.Priority
	case AddOnTranscript:
		return a.Transcript
	}
	return false
}

func (a AddOns) With(x AddOn, on bool) AddOns {
	switch x {
	case AddOnPriority:
		a.Priority = on
	case AddOnTranscript:
		a.Transcript = on
	}
	return a
}

// Phase is the checkout state-machine tag.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseFileSelected Phase = "file_selected"
	PhaseUploaded     Phase = "uploaded"
	PhaseValidating   Phase = "validating"
	PhaseFree         Phase = "free"
	PhaseCoupon       Phase = "coupon"
	PhasePaid         Phase = "paid"
	PhaseRedirected   Phase = "redirected"
	PhaseProcessing   Phase = "processing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// CheckoutOutstanding reports whether a checkout call is between guard and outcome.
func (p Phase) CheckoutOutstanding() bool {
	switch p {
	case PhaseValidating, PhaseFree, PhaseCoupon, PhasePaid:
		return true
	}
	return false
}

// Committed reports whether the session already handed its job to processing
// or to the external payment page.
func (p Phase) Committed() bool {
	return p == PhaseProcessing || p == PhaseRedirected
}

// PriceBreakdown is derived from {provider, size, add-ons}; never a source of truth.
type PriceBreakdown struct {
	Provider        Provider `json:"provider"`
	Tier            int      `json:"tier"`
	Base            float64  `json:"base"`
	PriorityFee     float64  `json:"priorityFee"`
	TranscriptFee   float64  `json:"transcriptFee"`
	Subtotal        float64  `json:"subtotal"`
	Tax             float64  `json:"tax"`
	Total           float64  `json:"total"`
	TotalMinorUnits int64    `json:"totalMinorUnits"`
}

// LocalFile is the file a user picked for upload.
type LocalFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Session is the single page-lifetime checkout state.
//
// JobID is non-empty iff an upload registration succeeded. UploadComplete is
// only true once the bytes were also written to storage.
type Session struct {
	ID string `json:"id"`

	File            *LocalFile `json:"file,omitempty"`
	JobID           string     `json:"jobId,omitempty"`
	UploadComplete  bool       `json:"uploadComplete"`
	SizeBytes       int64      `json:"sizeBytes"`
	DurationSeconds float64    `json:"durationSeconds"`

	Provider      Provider `json:"provider"`
	AddOns        AddOns   `json:"addOns"`
	Email         string   `json:"email,omitempty"`
	Coupon        string   `json:"coupon,omitempty"`
	TermsAccepted bool     `json:"termsAccepted"`

	Pricing PriceBreakdown `json:"pricing"`
	Phase   Phase          `json:"phase"`

	ProgressPercent int    `json:"progressPercent"`
	ProgressMessage string `json:"progressMessage,omitempty"`
	DownloadURL     string `json:"downloadUrl,omitempty"`
	RedirectURL     string `json:"redirectUrl,omitempty"`

	// LastError is the single user-visible error slot.
	LastError *Error `json:"lastError,omitempty"`
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *Session) Snapshot() Session {
	out := *s
	if s.File != nil {
		f := *s.File
		out.File = &f
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}
