package progress

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSSEChannelParsesEvents(t *testing.T) {
	stream := strings.Join([]string{
		": connected",
		"",
		"event: message",
		"id: 1",
		`data: {"progress":5}`,
		"",
		`data: {"progress":`,
		`data: 6}`,
		"",
		"retry: 1000",
		"",
		"data:",
		"",
		"data: tail-without-terminator",
	}, "\n")
	ch := NewSSEChannel(io.NopCloser(strings.NewReader(stream)))
	defer ch.Close()

	want := []string{`{"progress":5}`, "{\"progress\":\n6}", ""}
	for i, w := range want {
		got, err := ch.Next(context.Background())
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if string(got) != w {
			t.Fatalf("event %d = %q want %q", i, got, w)
		}
	}
	if _, err := ch.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v want EOF", err)
	}
}

func TestSSEChannelCRLF(t *testing.T) {
	ch := NewSSEChannel(io.NopCloser(strings.NewReader("data: {\"status\":\"done\"}\r\n\r\n")))
	got, err := ch.Next(context.Background())
	if err != nil || string(got) != `{"status":"done"}` {
		t.Fatalf("got=%q err=%v", got, err)
	}
}
