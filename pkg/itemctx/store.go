package itemctx

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// fileFormat is the on-disk layout of a context file.
type fileFormat struct {
	Dim     int                  `json:"dim"`
	Vectors map[string][]float64 `json:"vectors"`
}

// SaveJSON writes the provider's vectors to filename.
func SaveJSON(filename string, p *MapProvider) error {
	data, err := json.Marshal(fileFormat{Dim: p.dim, Vectors: p.vectors})
	if err != nil {
		return fmt.Errorf("failed to encode context vectors: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}

// LoadJSON reads a file written by SaveJSON.
func LoadJSON(filename string) (*MapProvider, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	if f.Dim <= 0 {
		return nil, fmt.Errorf("%w: %s declares dimension %d", ErrDimension, filename, f.Dim)
	}

	p := NewMapProvider(f.Dim)
	for k, v := range f.Vectors {
		if err := p.Set(k, v); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	}
	return p, nil
}

// RedisStore keeps context vectors in Redis, one JSON array per item under
// Prefix+key.
type RedisStore struct {
	client *redis.Client
	Prefix string
}

// NewRedisStore connects to addr and pings the server.
func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, Prefix: "ctx:"}, nil
}

// Load fetches the vectors of keys with a single MGET. Keys without a stored
// vector are left out of the result.
func (s *RedisStore) Load(ctx context.Context, dim int, keys []string) (*MapProvider, error) {
	p := NewMapProvider(dim)
	if len(keys) == 0 {
		return p, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.Prefix + k
	}
	vals, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load context vectors: %w", err)
	}

	for i, k := range keys {
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("item %q: %w", k, err)
		}
		if err := p.Set(k, vec); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Save writes every vector of p in one pipeline. A non-positive ttl keeps the
// keys forever.
func (s *RedisStore) Save(ctx context.Context, p *MapProvider, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	pipe := s.client.Pipeline()
	for k, v := range p.vectors {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("item %q: %w", k, err)
		}
		pipe.Set(ctx, s.Prefix+k, data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save context vectors: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
