package stubapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCORSPreflight(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/upload", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status=%d allow=%q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestUnknownJobDownloadIsNotFound(t *testing.T) {
	b := New()
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/download/missing")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "Upload not found") {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if b.Calls("download") != 1 {
		t.Fatalf("calls=%d", b.Calls("download"))
	}
}

func TestEventsStreamScriptedFrames(t *testing.T) {
	b := New()
	b.SetFrames(true, `{"status":"processing","progress":5}`, "line one\nline two")
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/job-1")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	want := ": connected\n\ndata: {\"status\":\"processing\",\"progress\":5}\n\ndata: line one\ndata: line two\n\n"
	if string(body) != want {
		t.Fatalf("body=%q", body)
	}
	if id, ok := b.WaitStream(time.Second); !ok || id != "job-1" {
		t.Fatalf("stream id=%q ok=%v", id, ok)
	}
	if b.ActiveStreams() != 0 || b.StreamsOpened() != 1 {
		t.Fatalf("active=%d opened=%d", b.ActiveStreams(), b.StreamsOpened())
	}
}
