package progress

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"mailsized/domain"
)

type fakeChannel struct {
	frames chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{frames: make(chan string, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) Next(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, io.EOF
		}
		return []byte(f), nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeOpener struct {
	mu       sync.Mutex
	channels map[string][]*fakeChannel
	opened   chan string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{channels: map[string][]*fakeChannel{}, opened: make(chan string, 16)}
}

func (o *fakeOpener) Open(ctx context.Context, jobID string) (Channel, error) {
	ch := newFakeChannel()
	o.mu.Lock()
	o.channels[jobID] = append(o.channels[jobID], ch)
	o.mu.Unlock()
	o.opened <- jobID
	return ch, nil
}

func (o *fakeOpener) channel(t *testing.T, jobID string) *fakeChannel {
	t.Helper()
	select {
	case id := <-o.opened:
		if id != jobID {
			t.Fatalf("opened %q want %q", id, jobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel for %q never opened", jobID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	chs := o.channels[jobID]
	return chs[len(chs)-1]
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	url   string
	err   error
}

func (r *fakeResolver) FetchDownload(ctx context.Context, jobID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.url, r.err
}

type outcome struct {
	jobID string
	url   string
	err   error
}

type recorder struct {
	mu       sync.Mutex
	progress []int
	messages []string
	done     chan outcome
}

func newRecorder() *recorder { return &recorder{done: make(chan outcome, 4)} }

func (r *recorder) OnProgress(jobID string, percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, percent)
	r.messages = append(r.messages, message)
}

func (r *recorder) OnComplete(jobID, downloadURL string) {
	r.done <- outcome{jobID: jobID, url: downloadURL}
}

func (r *recorder) OnFailure(jobID string, err error) {
	r.done <- outcome{jobID: jobID, err: err}
}

func (r *recorder) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-r.done:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("no terminal outcome")
	}
	return outcome{}
}

func newTestSubscriber(t *testing.T, res Resolver) (*Subscriber, *fakeOpener, *recorder) {
	t.Helper()
	op := newFakeOpener()
	rec := newRecorder()
	s, err := NewSubscriber(Options{Opener: op, Resolver: res, Listener: rec, FetchTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return s, op, rec
}

func TestSubscriberDoneWithURL(t *testing.T) {
	res := &fakeResolver{}
	s, op, rec := newTestSubscriber(t, res)
	if err := s.Attach(context.Background(), "j1"); err != nil {
		t.Fatal(err)
	}
	ch := op.channel(t, "j1")
	ch.frames <- `{"status":"processing","progress":33.9,"message":"Compressing"}`
	ch.frames <- `not-json`
	ch.frames <- `{"status":"done","progress":100,"download_url":"https://cdn/x.mp4"}`

	o := rec.wait(t)
	if o.err != nil || o.url != "https://cdn/x.mp4" {
		t.Fatalf("outcome=%+v", o)
	}
	if !ch.isClosed() || res.calls != 0 {
		t.Fatalf("closed=%v fetches=%d", ch.isClosed(), res.calls)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.progress) != 2 || rec.progress[0] != 33 || rec.progress[1] != 100 {
		t.Fatalf("progress=%v", rec.progress)
	}
}

func TestSubscriberDoneNeedsFetchOnce(t *testing.T) {
	res := &fakeResolver{url: "https://cdn/y.mp4"}
	s, op, rec := newTestSubscriber(t, res)
	_ = s.Attach(context.Background(), "j2")
	ch := op.channel(t, "j2")
	ch.frames <- `{"status":"done"}`
	ch.frames <- `{"status":"done"}`

	o := rec.wait(t)
	if o.err != nil || o.url != "https://cdn/y.mp4" {
		t.Fatalf("outcome=%+v", o)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.calls != 1 || !ch.isClosed() {
		t.Fatalf("fetches=%d closed=%v", res.calls, ch.isClosed())
	}
}

func TestSubscriberFetchFailure(t *testing.T) {
	res := &fakeResolver{err: errors.New("503")}
	s, op, rec := newTestSubscriber(t, res)
	_ = s.Attach(context.Background(), "j3")
	ch := op.channel(t, "j3")
	ch.frames <- `{"status":"done"}`

	o := rec.wait(t)
	if domain.CodeOf(o.err) != domain.CodeDownloadUnavailable || domain.KindOf(o.err) != domain.KindReferenceResolution {
		t.Fatalf("outcome=%+v", o)
	}
	if !ch.isClosed() {
		t.Fatalf("channel left open")
	}
}

func TestSubscriberJobError(t *testing.T) {
	s, op, rec := newTestSubscriber(t, &fakeResolver{})
	_ = s.Attach(context.Background(), "j4")
	ch := op.channel(t, "j4")
	ch.frames <- `{"status":"error","message":"Unsupported codec"}`

	o := rec.wait(t)
	de, ok := domain.AsError(o.err)
	if !ok || de.Code != domain.CodeJobFailed || de.Message != "Unsupported codec" {
		t.Fatalf("outcome=%+v", o)
	}
	if !ch.isClosed() {
		t.Fatalf("channel left open")
	}
}

func TestSubscriberAttachSameJobIsNoop(t *testing.T) {
	s, op, _ := newTestSubscriber(t, &fakeResolver{})
	_ = s.Attach(context.Background(), "j5")
	ch := op.channel(t, "j5")
	_ = s.Attach(context.Background(), "j5")
	select {
	case id := <-op.opened:
		t.Fatalf("second channel opened for %q", id)
	case <-time.After(50 * time.Millisecond):
	}
	if ch.isClosed() {
		t.Fatalf("channel closed by idempotent attach")
	}
	s.Detach()
}

func TestSubscriberAttachOtherJobClosesPrevious(t *testing.T) {
	s, op, rec := newTestSubscriber(t, &fakeResolver{})
	_ = s.Attach(context.Background(), "old")
	oldCh := op.channel(t, "old")
	_ = s.Attach(context.Background(), "new")
	newCh := op.channel(t, "new")
	select {
	case <-oldCh.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("previous channel still open")
	}
	if id, _ := s.Active(); id != "new" {
		t.Fatalf("active=%q", id)
	}
	newCh.frames <- `{"download_url":"https://cdn/new.mp4"}`
	if o := rec.wait(t); o.jobID != "new" {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestSubscriberConnectionDropIsSilent(t *testing.T) {
	s, op, rec := newTestSubscriber(t, &fakeResolver{})
	_ = s.Attach(context.Background(), "j6")
	ch := op.channel(t, "j6")
	close(ch.frames)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case o := <-rec.done:
		t.Fatalf("unexpected outcome %+v", o)
	default:
	}
	if _, ok := s.Active(); ok {
		t.Fatalf("subscription still active after drop")
	}
	if !ch.isClosed() {
		t.Fatalf("channel not closed after drop")
	}
}
