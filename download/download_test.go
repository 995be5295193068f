package download

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeFetcher struct {
	body  string
	err   error
	calls int
	owns  string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeFetcher) Owns(rawURL string) bool {
	return f.owns != "" && strings.Contains(rawURL, f.owns)
}

func TestFilenameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example/out/compressed-clip.mp4?X-Amz-Signature=abc": "compressed-clip.mp4",
		"https://cdn.example/out/my%20video.mp4":                          "my video.mp4",
		"https://cdn.example/out/":                                        DefaultFilename,
		"":                                                                DefaultFilename,
		"https://cdn.example/out/..%2F..%2Fetc%2Fpasswd":                  "passwd",
	}
	for in, want := range cases {
		if got := FilenameFromURL(in); got != want {
			t.Fatalf("FilenameFromURL(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestDetectCapability(t *testing.T) {
	cases := map[string]Capability{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)":  CapabilityTouch,
		"Mozilla/5.0 (Linux; android 14; Pixel 8)":                CapabilityTouch,
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)":         CapabilityDesktop,
		"mailsized-checkout-client/dev":                           CapabilityDesktop,
	}
	for ua, want := range cases {
		if got := DetectCapability(ua); got != want {
			t.Fatalf("DetectCapability(%q)=%s want=%s", ua, got, want)
		}
	}
}

func TestFetchAndSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f := &fakeFetcher{body: "compressed"}
	a, err := FetchAndSave{Fetcher: f}.Deliver(context.Background(), "https://cdn/x/result.mp4?sig=1", dir)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if a.Path != filepath.Join(dir, "result.mp4") || a.Bytes != 10 || a.Strategy != "fetch_and_save" {
		t.Fatalf("artifact=%+v", a)
	}
	b, _ := os.ReadFile(a.Path)
	if string(b) != "compressed" {
		t.Fatalf("saved=%q", b)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestDirectLinkOpens(t *testing.T) {
	var opened string
	a, err := DirectLink{Opener: OpenerFunc(func(u string) error { opened = u; return nil })}.
		Deliver(context.Background(), "https://cdn/x/r.mp4", "")
	if err != nil || opened != "https://cdn/x/r.mp4" || a.Path != "" || a.Filename != "r.mp4" {
		t.Fatalf("artifact=%+v opened=%q err=%v", a, opened, err)
	}
}

func TestTouchFallsBackToLink(t *testing.T) {
	var opened string
	s := ForCapability(CapabilityTouch, &fakeFetcher{err: errors.New("403")}, OpenerFunc(func(u string) error { opened = u; return nil }))
	a, err := s.Deliver(context.Background(), "https://cdn/x/r.mp4", t.TempDir())
	if err != nil || a.Strategy != "direct_link" || opened == "" {
		t.Fatalf("artifact=%+v err=%v", a, err)
	}
	if _, ok := ForCapability(CapabilityDesktop, nil, nil).(DirectLink); !ok {
		t.Fatalf("desktop should use the direct link")
	}
}

func TestRoutedFetcher(t *testing.T) {
	oss := &fakeFetcher{body: "a", owns: "aliyuncs.com"}
	def := &fakeFetcher{body: "b"}
	r := RoutedFetcher{Preferred: oss, Default: def}
	_, _ = r.Fetch(context.Background(), "https://b.oss-cn-heyuan.aliyuncs.com/x")
	_, _ = r.Fetch(context.Background(), "https://cdn.example/x")
	if oss.calls != 1 || def.calls != 1 {
		t.Fatalf("oss=%d default=%d", oss.calls, def.calls)
	}
}
