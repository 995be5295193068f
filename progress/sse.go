package progress

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// StreamOpener opens a raw server-sent-events body for a job.
type StreamOpener interface {
	OpenEventStream(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// SSEOpener adapts a StreamOpener into an Opener.
type SSEOpener struct {
	Streams StreamOpener
}

func (o SSEOpener) Open(ctx context.Context, jobID string) (Channel, error) {
	rc, err := o.Streams.OpenEventStream(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return NewSSEChannel(rc), nil
}

// SSEChannel yields the data payload of each event in a text/event-stream.
type SSEChannel struct {
	rc   io.ReadCloser
	sc   *bufio.Scanner
	once sync.Once
}

func NewSSEChannel(rc io.ReadCloser) *SSEChannel {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &SSEChannel{rc: rc, sc: sc}
}

// Next blocks until a complete event arrives. Events without a data field
// are skipped; multiple data lines are joined with "\n".
func (c *SSEChannel) Next(ctx context.Context) ([]byte, error) {
	var (
		data    []string
		hasData bool
	)
	for c.sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSuffix(c.sc.Text(), "\r")
		if line == "" {
			if hasData {
				return []byte(strings.Join(data, "\n")), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
			hasData = true
		}
	}
	if err := c.sc.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *SSEChannel) Close() error {
	var err error
	c.once.Do(func() { err = c.rc.Close() })
	return err
}
