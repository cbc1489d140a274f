package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	redisSvc "boxchat/internal/service/redis"
)

// FileStore keeps records in a single JSON object on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (s *FileStore) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		// an unreadable file is replaced rather than blocking key creation
		m = make(map[string]json.RawMessage)
	}
	if !json.Valid(value) {
		return errors.New("keyring: record is not JSON")
	}
	m[key] = json.RawMessage(value)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

// read returns an empty map for a missing file and for a file that is not
// a JSON object, so a damaged record reads as absent.
func (s *FileStore) read() (map[string]json.RawMessage, error) {
	m := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return make(map[string]json.RawMessage), nil
	}
	return m, nil
}

// RedisStore keeps records as plain redis strings without expiry.
type RedisStore struct {
	redis  *redisSvc.RedisService
	prefix string
}

func NewRedisStore(r *redisSvc.RedisService, prefix string) *RedisStore {
	return &RedisStore{redis: r, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	v, err := s.redis.Get(ctx, s.prefix+key)
	if redisSvc.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (s *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	return s.redis.Set(ctx, s.prefix+key, value, 0)
}
