package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/redis.v5"
)

const DefaultRedisKey = "imgdrop:catalog"

// RedisStore keeps records as JSON strings in a single Redis list so several
// daemons can share one catalog.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, key string) (*RedisStore, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Append(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.RPush(s.key, string(data)).Err()
}

func (s *RedisStore) All(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := s.client.LRange(s.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(values))
	for i, v := range values {
		var r Record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("decode catalog entry %d: %w", i, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *RedisStore) Find(ctx context.Context, filename string) (Record, bool, error) {
	records, err := s.All(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if r.Filename == filename {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// Reset drops the whole list. Used by tests against a shared server.
func (s *RedisStore) Reset() error {
	return s.client.Del(s.key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
