package store

import (
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func exerciseStore(t *testing.T, s MarkerStore) {
	t.Helper()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = s.Clear(id) })

	if _, ok, err := s.Load(id); err != nil || ok {
		t.Fatalf("Load on empty store: ok=%v err=%v", ok, err)
	}
	if err := s.Save(Marker{SessionID: id, JobID: "job-1", Filename: "clip.mp4"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m, ok, err := s.Load(id)
	if err != nil || !ok || m.JobID != "job-1" || m.Paid || m.UpdatedAt.IsZero() {
		t.Fatalf("Load: m=%+v ok=%v err=%v", m, ok, err)
	}

	m, ok, err = s.Update(id, func(m *Marker) { m.Paid = true })
	if err != nil || !ok || !m.Paid || m.JobID != "job-1" {
		t.Fatalf("Update: m=%+v ok=%v err=%v", m, ok, err)
	}
	if m, _, _ = s.Load(id); !m.Paid {
		t.Fatalf("update not persisted")
	}

	if _, ok, err := s.Update("missing-"+id, func(m *Marker) { m.Paid = true }); ok || err != nil {
		t.Fatalf("Update on missing: ok=%v err=%v", ok, err)
	}

	if err := s.Clear(id); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := s.Load(id); ok {
		t.Fatalf("marker survived Clear")
	}
	if err := s.Save(Marker{}); err == nil {
		t.Fatalf("Save without session id should fail")
	}
}

func TestInMemoryMarkerStore(t *testing.T) {
	exerciseStore(t, NewInMemoryMarkerStore())
}

func TestRedisMarkerStore(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb, err := NewRedisClient(addr, os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer rdb.Close()
	exerciseStore(t, NewRedisMarkerStore(rdb))
}

func TestReadMarkerTTL(t *testing.T) {
	t.Setenv("MAILSIZED_MARKER_TTL_SECONDS", "90")
	if got := readMarkerTTL(); got.Seconds() != 90 {
		t.Fatalf("ttl=%v", got)
	}
	t.Setenv("MAILSIZED_MARKER_TTL_SECONDS", "oops")
	if got := readMarkerTTL(); got.Hours() != 24 {
		t.Fatalf("ttl=%v", got)
	}
}
