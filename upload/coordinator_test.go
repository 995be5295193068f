package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mailsized/apiclient"
	"mailsized/domain"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	reqs  []apiclient.RegisterRequest
	next  int
	fail  error
	gates map[string]chan struct{}
}

func (f *fakeRegistrar) RegisterUpload(ctx context.Context, in apiclient.RegisterRequest) (apiclient.Registration, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, in)
	f.next++
	id := "job-" + in.Filename
	gate := f.gates[in.Filename]
	fail := f.fail
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return apiclient.Registration{}, fail
	}
	return apiclient.Registration{UploadID: id, PresignedURL: "https://storage.example/" + id}, nil
}

type fakeTransfer struct {
	mu     sync.Mutex
	bodies map[string]string
	types  map[string]string
	fail   error
}

func (f *fakeTransfer) PutObject(ctx context.Context, targetURL string, body io.Reader, size int64, contentType string) error {
	if f.fail != nil {
		return f.fail
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = map[string]string{}
		f.types = map[string]string{}
	}
	f.bodies[targetURL] = string(b)
	f.types[targetURL] = contentType
	return nil
}

type fakeProber struct {
	d   float64
	err error
}

func (p fakeProber) Duration(ctx context.Context, path string) (float64, error) { return p.d, p.err }

func writeFile(t *testing.T, name, content string) domain.LocalFile {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func newCoordinator(t *testing.T, reg Registrar, xfer Transfer, probe Prober) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Options{
		Registrar:   reg,
		Transfer:    xfer,
		Prober:      probe,
		ContentType: func(string) string { return "video/mp4" },
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSubmitHappyPath(t *testing.T) {
	t.Setenv("MAILSIZED_DEFAULT_EMAIL", "")
	reg := &fakeRegistrar{}
	xfer := &fakeTransfer{}
	c := newCoordinator(t, reg, xfer, fakeProber{d: 12.5})
	file := writeFile(t, "a.mp4", "hello")

	res, err := c.Submit(context.Background(), Request{File: file})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.JobID != "job-a.mp4" || !res.Stored || res.SizeBytes != 5 || res.DurationSeconds != 12.5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := reg.reqs[0]; got.Email != DefaultEmail || got.ContentType != "video/mp4" || got.SizeBytes != 5 || got.DurationSec != 12.5 {
		t.Fatalf("unexpected register request: %+v", got)
	}
	if xfer.bodies["https://storage.example/job-a.mp4"] != "hello" {
		t.Fatalf("bytes not transferred: %v", xfer.bodies)
	}
}

func TestPlaceholderEmailOverride(t *testing.T) {
	t.Setenv("MAILSIZED_DEFAULT_EMAIL", "inbox@example.org")
	reg := &fakeRegistrar{}
	c := newCoordinator(t, reg, &fakeTransfer{}, fakeProber{d: 1})
	if _, err := c.Submit(context.Background(), Request{File: writeFile(t, "e.mp4", "x")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := reg.reqs[0].Email; got != "inbox@example.org" {
		t.Fatalf("email=%q", got)
	}
}

func TestSubmitProbeFailureIsNonFatal(t *testing.T) {
	c := newCoordinator(t, &fakeRegistrar{}, &fakeTransfer{}, fakeProber{err: errors.New("no ffprobe")})
	res, err := c.Submit(context.Background(), Request{File: writeFile(t, "b.mp4", "x"), Email: "u@x.io"})
	if err != nil || res.DurationSeconds != 0 || !res.Stored {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestSubmitRegistrationFailure(t *testing.T) {
	reg := &fakeRegistrar{fail: &apiclient.RemoteError{Status: 200, Detail: "Unsupported file"}}
	c := newCoordinator(t, reg, &fakeTransfer{}, nil)
	res, err := c.Submit(context.Background(), Request{File: writeFile(t, "c.mp4", "x")})
	if domain.CodeOf(err) != domain.CodeUploadRequestFailed {
		t.Fatalf("err=%v", err)
	}
	de, _ := domain.AsError(err)
	if de.Message != "Unsupported file" || res.JobID != "" {
		t.Fatalf("message=%q res=%+v", de.Message, res)
	}
}

func TestSubmitTransferFailureKeepsJobID(t *testing.T) {
	c := newCoordinator(t, &fakeRegistrar{}, &fakeTransfer{fail: errors.New("403")}, nil)
	res, err := c.Submit(context.Background(), Request{File: writeFile(t, "d.mp4", "x")})
	if domain.CodeOf(err) != domain.CodeStorageUploadFailed || domain.KindOf(err) != domain.KindTransfer {
		t.Fatalf("err=%v", err)
	}
	if res.JobID != "job-d.mp4" || res.Stored {
		t.Fatalf("res=%+v", res)
	}
}

func TestSubmitMissingFile(t *testing.T) {
	c := newCoordinator(t, &fakeRegistrar{}, &fakeTransfer{}, nil)
	_, err := c.Submit(context.Background(), Request{File: domain.LocalFile{Path: filepath.Join(t.TempDir(), "nope.mp4")}})
	if domain.CodeOf(err) != domain.CodeNoFileSelected {
		t.Fatalf("err=%v", err)
	}
}

func TestNewerSubmitSupersedesOlder(t *testing.T) {
	gate := make(chan struct{})
	reg := &fakeRegistrar{gates: map[string]chan struct{}{"first.mp4": gate}}
	c := newCoordinator(t, reg, &fakeTransfer{}, nil)
	first := writeFile(t, "first.mp4", "1")
	second := writeFile(t, "second.mp4", "2")

	type out struct {
		res Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		r, err := c.Submit(context.Background(), Request{File: first})
		done <- out{r, err}
	}()
	waitFor(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.reqs) == 1
	})

	res, err := c.Submit(context.Background(), Request{File: second})
	if err != nil || res.JobID != "job-second.mp4" {
		t.Fatalf("second: res=%+v err=%v", res, err)
	}
	close(gate)
	o := <-done
	if !errors.Is(o.err, ErrSuperseded) || o.res.JobID != "" {
		t.Fatalf("first: res=%+v err=%v", o.res, o.err)
	}
}

func TestCancelDiscardsInFlight(t *testing.T) {
	gate := make(chan struct{})
	reg := &fakeRegistrar{gates: map[string]chan struct{}{"e.mp4": gate}}
	c := newCoordinator(t, reg, &fakeTransfer{}, nil)
	f := writeFile(t, "e.mp4", "e")
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), Request{File: f})
		done <- err
	}()
	waitFor(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.reqs) == 1
	})
	c.Cancel()
	close(gate)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err=%v", err)
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := parseDuration("12.480000\n"); err != nil || d != 12.48 {
		t.Fatalf("d=%v err=%v", d, err)
	}
	for _, bad := range []string{"", "N/A", "abc", "-1"} {
		if _, err := parseDuration(bad); err == nil {
			t.Fatalf("parseDuration(%q) should fail", bad)
		}
	}
}

func TestContentTypeFallsBack(t *testing.T) {
	f := writeFile(t, "notes.bin", "plain words")
	if got := ContentType(f.Path); got != DefaultContentType {
		t.Fatalf("ContentType=%q", got)
	}
	if got := ContentType(filepath.Join(t.TempDir(), "missing")); got != DefaultContentType {
		t.Fatalf("missing file ContentType=%q", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
