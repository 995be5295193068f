// Package store persists the per-session resumption marker: which job a
// client session handed to the payment page, and whether it is known paid.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker is the page-embedded resumption state of one client session.
type Marker struct {
	SessionID string    `json:"sessionId"`
	JobID     string    `json:"jobId"`
	Paid      bool      `json:"paid"`
	Filename  string    `json:"filename,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type MarkerStore interface {
	Save(m Marker) error
	Load(sessionID string) (Marker, bool, error)
	Update(sessionID string, fn func(m *Marker)) (Marker, bool, error)
	Clear(sessionID string) error
}

type InMemoryMarkerStore struct {
	mu      sync.Mutex
	markers map[string]Marker
}

func NewInMemoryMarkerStore() *InMemoryMarkerStore {
	return &InMemoryMarkerStore{markers: make(map[string]Marker)}
}

func (s *InMemoryMarkerStore) Save(m Marker) error {
	id := strings.TrimSpace(m.SessionID)
	if id == "" {
		return errors.New("marker session id is empty")
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[id] = m
	return nil
}

func (s *InMemoryMarkerStore) Load(sessionID string) (Marker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[strings.TrimSpace(sessionID)]
	return m, ok, nil
}

func (s *InMemoryMarkerStore) Update(sessionID string, fn func(m *Marker)) (Marker, bool, error) {
	if fn == nil {
		return Marker{}, false, errors.New("update fn is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(sessionID)
	m, ok := s.markers[id]
	if !ok {
		return Marker{}, false, nil
	}
	fn(&m)
	m.SessionID = id
	m.UpdatedAt = time.Now().UTC()
	s.markers[id] = m
	return m, true, nil
}

func (s *InMemoryMarkerStore) Clear(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, strings.TrimSpace(sessionID))
	return nil
}

type RedisMarkerStore struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func readRedisDB() int {
	raw := strings.TrimSpace(os.Getenv("REDIS_DB"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func readMarkerTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("MAILSIZED_MARKER_TTL_SECONDS"))
	if raw == "" {
		return 24 * time.Hour
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(n) * time.Second
}

// NewRedisClient dials and pings Redis with the shared env settings.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("REDIS_ADDR is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(password),
		DB:       readRedisDB(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewRedisMarkerStore(rdb *redis.Client) *RedisMarkerStore {
	ttl := readMarkerTTL()
	slog.Info("marker store: redis enabled", "db", readRedisDB(), "ttl", ttl.String())
	return &RedisMarkerStore{
		rdb:       rdb,
		keyPrefix: "mailsized:session:",
		ttl:       ttl,
	}
}

func (s *RedisMarkerStore) key(id string) string {
	return s.keyPrefix + strings.TrimSpace(id)
}

func (s *RedisMarkerStore) Save(m Marker) error {
	if strings.TrimSpace(m.SessionID) == "" {
		return errors.New("marker session id is empty")
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.rdb.Set(ctx, s.key(m.SessionID), b, s.ttl).Err()
}

func (s *RedisMarkerStore) Load(sessionID string) (Marker, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Marker{}, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := s.rdb.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, err
	}
	var m Marker
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return Marker{}, false, err
	}
	return m, true, nil
}

func (s *RedisMarkerStore) Update(sessionID string, fn func(m *Marker)) (Marker, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Marker{}, false, nil
	}
	if fn == nil {
		return Marker{}, false, errors.New("update fn is nil")
	}

	key := s.key(sessionID)

	var out Marker
	var ok bool

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	for i := 0; i < 8; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, key).Result()
			if err == redis.Nil {
				ok = false
				return nil
			}
			if err != nil {
				return err
			}
			var m Marker
			if err := json.Unmarshal([]byte(val), &m); err != nil {
				return err
			}
			fn(&m)
			m.SessionID = sessionID
			m.UpdatedAt = time.Now().UTC()
			out = m
			ok = true

			nb, err := json.Marshal(m)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, nb, s.ttl)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return out, ok, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Marker{}, false, err
	}

	return Marker{}, false, errors.New("redis update retry exceeded")
}

func (s *RedisMarkerStore) Clear(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.rdb.Del(ctx, s.key(sessionID)).Err()
}
