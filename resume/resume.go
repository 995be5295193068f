// Package resume reconstructs checkout state when a user comes back from the
// external payment page.
package resume

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"mailsized/store"
)

type Signal string

const (
	SignalNone     Signal = "none"
	SignalPaid     Signal = "paid"
	SignalCanceled Signal = "canceled"
)

type Source string

const (
	SourceNone   Source = ""
	SourceQuery  Source = "query"
	SourceMarker Source = "marker"
)

// Page is the address the session was loaded from.
type Page interface {
	Query() url.Values
	// ClearQuery removes the query from the visible address so a reload does
	// not replay it.
	ClearQuery()
}

type Decision struct {
	Signal Signal
	JobID  string
	Source Source
}

type Resumer struct {
	markers store.MarkerStore
	logger  *slog.Logger
}

func New(markers store.MarkerStore, logger *slog.Logger) *Resumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resumer{markers: markers, logger: logger}
}

// Resolve inspects the page query first, then the session's marker.
// Query signals are consumed: the page query is cleared and the marker is
// brought in line with what the query said.
func (r *Resumer) Resolve(page Page, sessionID string) Decision {
	var q url.Values
	if page != nil {
		q = page.Query()
	}
	if hasSignal(q) {
		d := decideQuery(q)
		page.ClearQuery()
		r.applyToMarker(sessionID, d)
		r.logger.Info("resume signal consumed", "signal", d.Signal, "job_id", d.JobID, "source", d.Source)
		return d
	}

	if r.markers == nil || strings.TrimSpace(sessionID) == "" {
		return Decision{Signal: SignalNone}
	}
	m, ok, err := r.markers.Load(sessionID)
	if err != nil {
		r.logger.Warn("load session marker failed", "session_id", sessionID, "err", err)
		return Decision{Signal: SignalNone}
	}
	if ok && m.Paid && strings.TrimSpace(m.JobID) != "" {
		return Decision{Signal: SignalPaid, JobID: m.JobID, Source: SourceMarker}
	}
	return Decision{Signal: SignalNone}
}

func hasSignal(q url.Values) bool {
	for _, k := range []string{"paid", "success", "cancel"} {
		if _, ok := q[k]; ok {
			return true
		}
	}
	return false
}

func decideQuery(q url.Values) Decision {
	jobID := strings.TrimSpace(q.Get("upload_id"))
	if q.Get("cancel") == "1" {
		return Decision{Signal: SignalCanceled, Source: SourceQuery}
	}
	if jobID != "" && (q.Get("paid") == "1" || strings.TrimSpace(q.Get("success")) != "") {
		return Decision{Signal: SignalPaid, JobID: jobID, Source: SourceQuery}
	}
	return Decision{Signal: SignalNone, Source: SourceQuery}
}

func (r *Resumer) applyToMarker(sessionID string, d Decision) {
	if r.markers == nil || strings.TrimSpace(sessionID) == "" {
		return
	}
	var err error
	switch d.Signal {
	case SignalCanceled:
		err = r.markers.Clear(sessionID)
	case SignalPaid:
		var ok bool
		_, ok, err = r.markers.Update(sessionID, func(m *store.Marker) {
			m.JobID = d.JobID
			m.Paid = true
		})
		if err == nil && !ok {
			err = r.markers.Save(store.Marker{SessionID: sessionID, JobID: d.JobID, Paid: true})
		}
	}
	if err != nil {
		r.logger.Warn("update session marker failed", "session_id", sessionID, "err", err)
	}
}

// URLPage is a Page backed by a URL, for headless use.
type URLPage struct {
	mu sync.Mutex
	u  url.URL
}

func NewURLPage(raw string) (*URLPage, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return &URLPage{u: *u}, nil
}

func (p *URLPage) Query() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.u.Query()
}

func (p *URLPage) ClearQuery() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.u.RawQuery = ""
}

func (p *URLPage) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.u.String()
}
