package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type JobStatus string

const (
	JobStatusWorking JobStatus = "working"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// ProgressEvent is one frame received on the progress channel.
// Servers report intermediate states ("queued", "processing", ...) verbatim;
// anything other than done/error counts as working.
type ProgressEvent struct {
	Progress    float64 `json:"progress"`
	Message     string  `json:"message,omitempty"`
	Status      string  `json:"status,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
}

// UnmarshalJSON accepts progress as a number or a numeric string. Anything
// else reads as 0.
func (e *ProgressEvent) UnmarshalJSON(b []byte) error {
	type plain ProgressEvent
	var aux struct {
		plain
		Progress json.RawMessage `json:"progress"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = ProgressEvent(aux.plain)
	e.Progress = looseFloat(aux.Progress)
	return nil
}

func looseFloat(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func (e ProgressEvent) Kind() JobStatus {
	switch JobStatus(strings.ToLower(strings.TrimSpace(e.Status))) {
	case JobStatusDone:
		return JobStatusDone
	case JobStatusError:
		return JobStatusError
	default:
		return JobStatusWorking
	}
}

// Percent floors and clamps Progress to 0..100.
func (e ProgressEvent) Percent() int {
	p := e.Progress
	if p != p || p < 0 { // NaN or negative
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}
