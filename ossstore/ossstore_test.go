package ossstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestNewFromEnvDisabled(t *testing.T) {
	t.Setenv("OSS_BUCKET", "")
	st, enabled, err := NewFromEnv()
	if st != nil || enabled || err != nil {
		t.Fatalf("st=%v enabled=%v err=%v", st, enabled, err)
	}
}

func TestNewFromEnvMissingEndpoint(t *testing.T) {
	t.Setenv("OSS_BUCKET", "mailsized-uploads")
	t.Setenv("OSS_ENDPOINT_PUBLIC", "")
	if _, enabled, err := NewFromEnv(); !enabled || err == nil {
		t.Fatalf("enabled=%v err=%v", enabled, err)
	}
}

func TestOwns(t *testing.T) {
	st, err := New("oss-cn-heyuan.aliyuncs.com", "mailsized-uploads", "cn-heyuan")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"https://mailsized-uploads.oss-cn-heyuan.aliyuncs.com/in/a.mp4?Signature=x": true,
		"https://oss-cn-heyuan.aliyuncs.com/mailsized-uploads/in/a.mp4":            true,
		"https://s3.amazonaws.com/bucket/a.mp4":                                    false,
		"::not a url":                                                              false,
	}
	for u, want := range cases {
		if got := st.Owns(u); got != want {
			t.Fatalf("Owns(%q)=%v want=%v", u, got, want)
		}
	}
}

func TestPutAndFetchThroughSignedURL(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = b
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			b, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(b)
		}
	}))
	defer srv.Close()

	st, err := New(srv.URL, "mailsized-uploads", "")
	if err != nil {
		t.Fatal(err)
	}
	signed := srv.URL + "/in/job-1.mp4?Expires=1&Signature=abc"
	if !st.Owns(signed) {
		t.Fatalf("store should own its endpoint")
	}
	if err := st.PutObject(context.Background(), signed, strings.NewReader("video-bytes"), 11, "video/mp4"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	rc, err := st.Fetch(context.Background(), signed)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "video-bytes" {
		t.Fatalf("body=%q", b)
	}
}
