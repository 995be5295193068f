package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestProgressEventKind(t *testing.T) {
	cases := map[string]JobStatus{
		"done":       JobStatusDone,
		"DONE":       JobStatusDone,
		"error":      JobStatusError,
		"queued":     JobStatusWorking,
		"processing": JobStatusWorking,
		"":           JobStatusWorking,
	}
	for status, want := range cases {
		if got := (ProgressEvent{Status: status}).Kind(); got != want {
			t.Fatalf("Kind(%q)=%s want=%s", status, got, want)
		}
	}
}

func TestProgressEventPercentFloorsAndClamps(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{42.9, 42},
		{99.99, 99},
		{100, 100},
		{180, 100},
		{-3, 0},
	}
	for _, c := range cases {
		if got := (ProgressEvent{Progress: c.in}).Percent(); got != c.want {
			t.Fatalf("Percent(%v)=%d want=%d", c.in, got, c.want)
		}
	}
}

func TestErrorKindFollowsCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(CodeStorageUploadFailed, "Upload to storage failed.", errors.New("403")))
	if CodeOf(err) != CodeStorageUploadFailed {
		t.Fatalf("code=%q", CodeOf(err))
	}
	if KindOf(err) != KindTransfer {
		t.Fatalf("kind=%q", KindOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("plain error should have no code")
	}
}

func TestSnapshotDetachesPointers(t *testing.T) {
	s := &Session{File: &LocalFile{Name: "a.mp4"}, LastError: NewError(CodeInvalidEmail, "Enter a valid email.", nil)}
	snap := s.Snapshot()
	snap.File.Name = "b.mp4"
	snap.LastError.Message = "changed"
	if s.File.Name != "a.mp4" || s.LastError.Message != "Enter a valid email." {
		t.Fatalf("snapshot shares pointers with session")
	}
}

func TestPhaseGroups(t *testing.T) {
	for _, p := range []Phase{PhaseValidating, PhaseFree, PhaseCoupon, PhasePaid} {
		if !p.CheckoutOutstanding() {
			t.Fatalf("%s should be outstanding", p)
		}
	}
	if PhaseUploaded.CheckoutOutstanding() || PhaseProcessing.CheckoutOutstanding() {
		t.Fatalf("unexpected outstanding phase")
	}
	if !PhaseProcessing.Committed() || !PhaseRedirected.Committed() || PhaseCompleted.Committed() {
		t.Fatalf("committed set wrong")
	}
}

func TestProgressEventAcceptsLooseProgress(t *testing.T) {
	cases := map[string]float64{
		`{"progress":45}`:     45,
		`{"progress":"45"}`:   45,
		`{"progress":" 7.5"}`: 7.5,
		`{"progress":"n/a"}`:  0,
		`{"progress":null}`:   0,
		`{"status":"done"}`:   0,
	}
	for in, want := range cases {
		var ev ProgressEvent
		if err := json.Unmarshal([]byte(in), &ev); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if ev.Progress != want {
			t.Fatalf("%s: progress=%v want=%v", in, ev.Progress, want)
		}
	}

	var ev ProgressEvent
	if err := json.Unmarshal([]byte(`{"progress":"12","message":"Hi","status":"error","download_url":"u"}`), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Message != "Hi" || ev.Kind() != JobStatusError || ev.DownloadURL != "u" || ev.Percent() != 12 {
		t.Fatalf("fields lost: %+v", ev)
	}
}
