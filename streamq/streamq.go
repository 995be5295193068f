// Package streamq carries job progress over Redis Streams, one stream per
// job. It is the alternative to the server-sent-events channel for
// deployments where the worker publishes progress into Redis directly.
package streamq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mailsized/domain"
	"mailsized/progress"
)

const (
	DefaultKeyPrefix = "mailsized:progress:"
	dataField        = "data"
)

type ProgressStream struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
	block  time.Duration
}

func NewProgressStream(rdb *redis.Client, prefix string, maxLen int64) *ProgressStream {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &ProgressStream{
		rdb:    rdb,
		prefix: prefix,
		maxLen: maxLen,
		block:  5 * time.Second,
	}
}

func (q *ProgressStream) Key(jobID string) string {
	return q.prefix + strings.TrimSpace(jobID)
}

// Publish appends one progress frame to the job's stream.
func (q *ProgressStream) Publish(ctx context.Context, jobID string, ev domain.ProgressEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.PublishRaw(ctx, jobID, b)
}

// PublishRaw appends an already-encoded frame.
func (q *ProgressStream) PublishRaw(ctx context.Context, jobID string, frame []byte) error {
	if q == nil || q.rdb == nil {
		return errors.New("progress stream is not initialized")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("job id is empty")
	}
	args := &redis.XAddArgs{
		Stream: q.Key(jobID),
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			dataField: string(frame),
		},
	}
	return q.rdb.XAdd(ctx, args).Err()
}

// Open starts reading the job's stream from its first entry, so frames
// published before the client attached are replayed.
func (q *ProgressStream) Open(ctx context.Context, jobID string) (progress.Channel, error) {
	if q == nil || q.rdb == nil {
		return nil, errors.New("progress stream is not initialized")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("job id is empty")
	}
	cctx, cancel := context.WithCancel(ctx)
	return &channel{
		rdb:    q.rdb,
		key:    q.Key(jobID),
		block:  q.block,
		lastID: "0",
		ctx:    cctx,
		cancel: cancel,
	}, nil
}

type channel struct {
	rdb   *redis.Client
	key   string
	block time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lastID  string
	pending []redis.XMessage
}

func (c *channel) Next(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if len(c.pending) > 0 {
			msg := c.pending[0]
			c.pending = c.pending[1:]
			c.lastID = msg.ID
			return frameOf(msg), nil
		}
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("xread %s: %w", c.key, err)
		}
		for _, s := range res {
			c.pending = append(c.pending, s.Messages...)
		}
	}
}

// read blocks on XREAD until the caller's ctx or the channel is done.
func (c *channel) read(ctx context.Context) ([]redis.XStream, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()
	return c.rdb.XRead(rctx, &redis.XReadArgs{
		Streams: []string{c.key, c.lastID},
		Count:   10,
		Block:   c.block,
	}).Result()
}

func (c *channel) Close() error {
	c.cancel()
	return nil
}

// frameOf returns the "data" field, or all fields as a JSON object when a
// producer wrote them individually.
func frameOf(msg redis.XMessage) []byte {
	if v, ok := msg.Values[dataField]; ok {
		return []byte(fmt.Sprintf("%v", v))
	}
	fields := make(map[string]interface{}, len(msg.Values))
	for k, v := range msg.Values {
		fields[k] = v
	}
	if raw, ok := fields["progress"].(string); ok {
		if p, err := strconv.ParseFloat(raw, 64); err == nil {
			fields["progress"] = p
		}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return b
}
