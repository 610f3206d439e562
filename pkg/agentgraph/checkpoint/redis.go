package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// KeyPrefix namespaces all keys. Default "agentgraph:".
	KeyPrefix string

	// TTL expires a thread's checkpoints after the last write. Zero keeps
	// them until DeleteThread.
	TTL time.Duration
}

// RedisStore keeps each thread in two keys: a hash of sequence → record and
// a sorted set of sequences for ordering.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	ownClient bool
	closed    atomic.Bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.TTL)
	s.ownClient = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. Close does not close it.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "agentgraph:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) recordsKey(threadID string) string {
	return s.keyPrefix + "checkpoint:" + threadID
}

func (s *RedisStore) indexKey(threadID string) string {
	return s.keyPrefix + "checkpoint-seq:" + threadID
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, cp Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := validate(cp); err != nil {
		return err
	}
	cp = stamp(cp)

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	field := strconv.FormatInt(cp.Sequence, 10)
	n, err := putScript.Run(ctx, s.client,
		[]string{s.recordsKey(cp.ThreadID), s.indexKey(cp.ThreadID)},
		field, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	if n == 0 {
		return ErrSequenceConflict
	}
	return nil
}

// putScript writes the record and its index entry in one step. A record
// already stored without an index entry is indexed instead of reported as
// a conflict.
var putScript = redis.NewScript(`
	if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
		if redis.call('ZSCORE', KEYS[2], ARGV[1]) then
			return 0
		end
	end
	redis.call('ZADD', KEYS[2], ARGV[1], ARGV[1])
	local ttl = tonumber(ARGV[3])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
		redis.call('PEXPIRE', KEYS[2], ttl)
	end
	return 1
`)

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	if s.closed.Load() {
		return Checkpoint{}, ErrStoreClosed
	}
	top, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, 0).Result()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(top) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return s.load(ctx, threadID, top[0])
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, threadID string, sequence int64) (Checkpoint, error) {
	if s.closed.Load() {
		return Checkpoint{}, ErrStoreClosed
	}
	return s.load(ctx, threadID, strconv.FormatInt(sequence, 10))
}

func (s *RedisStore) load(ctx context.Context, threadID, field string) (Checkpoint, error) {
	data, err := s.client.HGet(ctx, s.recordsKey(threadID), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, threadID string) ([]Info, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	records, err := s.client.HGetAll(ctx, s.recordsKey(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	order, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	infos := make([]Info, 0, len(order))
	for _, field := range order {
		raw, ok := records[field]
		if !ok {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", field, err)
		}
		infos = append(infos, Info{
			ThreadID:  threadID,
			Sequence:  cp.Sequence,
			CreatedAt: cp.CreatedAt,
			Size:      int64(len(cp.Blob)),
		})
	}
	return infos, nil
}

// DeleteThread implements Store.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.client.Del(ctx, s.recordsKey(threadID), s.indexKey(threadID)).Err(); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
