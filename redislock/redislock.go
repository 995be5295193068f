// Package redislock keeps a single follower per job across processes:
// SET NX PX to take the lease, Lua scripts to refresh and release it safely.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "mailsized:lock:follow:"

// ErrHeld means another process already follows the job.
var ErrHeld = errors.New("job is followed by another process")

type Client struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Client {
	return &Client{
		rdb:    rdb,
		prefix: strings.TrimSpace(prefix),
	}
}

func (c *Client) Key(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if c == nil {
		return jobID
	}
	p := strings.TrimSpace(c.prefix)
	if p == "" {
		p = DefaultPrefix
	}
	return p + jobID
}

func Token() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (c *Client) check(key, token string) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis lock not initialized")
	}
	if strings.TrimSpace(key) == "" || strings.TrimSpace(token) == "" {
		return errors.New("lock key/token is empty")
	}
	return nil
}

func (c *Client) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := c.check(key, token); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return c.rdb.SetNX(ctx, strings.TrimSpace(key), strings.TrimSpace(token), ttl).Result()
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

func (c *Client) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := c.check(key, token); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	n, err := refreshScript.Run(ctx, c.rdb, []string{strings.TrimSpace(key)}, strings.TrimSpace(token), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	// PEXPIRE returns 1 if timeout was set, 0 otherwise.
	return n == 1, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (c *Client) Release(ctx context.Context, key, token string) (bool, error) {
	if err := c.check(key, token); err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, c.rdb, []string{strings.TrimSpace(key)}, strings.TrimSpace(token)).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lease is a held lock kept alive by a background refresh.
type Lease struct {
	c     *Client
	key   string
	token string

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Hold takes the follow lease for jobID and refreshes it every ttl/3 until
// Release or ctx ends. Returns ErrHeld when another holder owns it.
func (c *Client) Hold(ctx context.Context, jobID string, ttl time.Duration, logger *slog.Logger) (*Lease, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	token, err := Token()
	if err != nil {
		return nil, err
	}
	key := c.Key(jobID)
	ok, err := c.Acquire(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}

	l := &Lease{c: c, key: key, token: token, stop: make(chan struct{}), done: make(chan struct{})}
	kick := ttl / 3
	if kick <= 0 {
		kick = ttl
	}
	go func() {
		defer close(l.done)
		t := time.NewTicker(kick)
		defer t.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				held, err := c.Refresh(context.Background(), key, token, ttl)
				if err != nil {
					logger.Warn("follow lease refresh failed", "key", key, "err", err)
					continue
				}
				if !held {
					logger.Warn("follow lease lost", "key", key)
					return
				}
			}
		}
	}()
	return l, nil
}

func (l *Lease) Key() string { return l.key }

// Release stops the refresh and drops the lease if still ours.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		_, err = l.c.Release(ctx, l.key, l.token)
	})
	return err
}
