// Package progress follows a job's server-pushed progress until it reaches a
// terminal state.
package progress

import (
	"bytes"
	"encoding/json"
	"strings"

	"mailsized/domain"
)

const (
	DefaultWorkingMessage = "Working…"
	DefaultFailureMessage = "Compression failed."
	CompleteMessage       = "Compression complete. Ready to download."
)

type Transition string

const (
	TransitionProgress       Transition = "progress"
	TransitionDoneWithURL    Transition = "done_with_url"
	TransitionDoneNeedsFetch Transition = "done_needs_fetch"
	TransitionError          Transition = "error"
	TransitionMalformed      Transition = "malformed_ignored"
	TransitionIgnored        Transition = "ignored_after_terminal"
)

// Step is the machine's reaction to one frame.
type Step struct {
	Transition Transition
	Event      domain.ProgressEvent
	Percent    int
	Message    string
	// DownloadURL is set on TransitionDoneWithURL.
	DownloadURL string
	// Fetch asks the caller to resolve the download reference. It is true at
	// most once per machine.
	Fetch bool
}

// Terminal reports whether the channel must be closed after this step.
func (s Step) Terminal() bool {
	switch s.Transition {
	case TransitionDoneWithURL, TransitionDoneNeedsFetch, TransitionError:
		return true
	}
	return false
}

// Machine interprets progress frames. It has no I/O; feed it frames and act
// on the returned steps.
type Machine struct {
	terminal bool
	fetched  bool
}

func (m *Machine) Terminated() bool { return m.terminal }

func (m *Machine) Feed(data []byte) Step {
	if m.terminal {
		return Step{Transition: TransitionIgnored}
	}
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var ev domain.ProgressEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Step{Transition: TransitionMalformed}
	}

	step := Step{
		Transition: TransitionProgress,
		Event:      ev,
		Percent:    ev.Percent(),
		Message:    strings.TrimSpace(ev.Message),
	}
	if step.Message == "" {
		step.Message = DefaultWorkingMessage
	}

	if u := strings.TrimSpace(ev.DownloadURL); u != "" {
		m.terminal = true
		step.Transition = TransitionDoneWithURL
		step.DownloadURL = u
		return step
	}

	switch ev.Kind() {
	case domain.JobStatusDone:
		m.terminal = true
		step.Transition = TransitionDoneNeedsFetch
		if !m.fetched {
			m.fetched = true
			step.Fetch = true
		}
	case domain.JobStatusError:
		m.terminal = true
		step.Transition = TransitionError
		if strings.TrimSpace(ev.Message) == "" {
			step.Message = DefaultFailureMessage
		}
	}
	return step
}
