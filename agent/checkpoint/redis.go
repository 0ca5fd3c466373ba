package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "supervisor:checkpoint:"
	defaultRedisPageSize  = 64
	redisDialTimeout      = 5 * time.Second
)

// RedisConfig carries connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string `split_words:"true" required:"true"`
	Password string `split_words:"true"`
	DB       int    `split_words:"true" default:"0"`
}

// RedisStore persists checkpoints as individual records plus a per-namespace
// sorted-set index. Index members share a zero score so Redis orders them
// lexically, which matches checkpoint id order.
type RedisStore struct {
	client    *redis.Client
	codec     Codec
	keyPrefix string
	pageSize  int
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisCodec overrides the snapshot codec.
func WithRedisCodec(codec Codec) RedisOption {
	return func(s *RedisStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithRedisKeyPrefix overrides the key prefix shared by records and indexes.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithRedisPageSize overrides how many index entries List pulls per round trip.
func WithRedisPageSize(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(cfg RedisConfig, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return newRedisStore(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client, e.g. a test server.
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	return newRedisStore(client, opts...)
}

func newRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		codec:     DefaultCodec(),
		keyPrefix: defaultRedisKeyPrefix,
		pageSize:  defaultRedisPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// record is the wire form of one checkpoint. Version and seen maps are
// serialized separately so readers can inspect them without decoding state.
type record struct {
	ID        string            `msgpack:"id" json:"id"`
	ParentID  string            `msgpack:"parent_id" json:"parent_id"`
	State     []byte            `msgpack:"state" json:"state"`
	Versions  []byte            `msgpack:"versions" json:"versions"`
	Seen      []byte            `msgpack:"seen" json:"seen"`
	Metadata  map[string]string `msgpack:"metadata" json:"metadata"`
	CreatedAt time.Time         `msgpack:"created_at" json:"created_at"`
	Codec     string            `msgpack:"codec" json:"codec"`
}

func (s *RedisStore) recordKey(threadID, sortKey string) string {
	return s.keyPrefix + threadID + ":" + sortKey
}

func (s *RedisStore) indexKey(threadID, namespace string) string {
	return s.keyPrefix + threadID + ":" + namespace + ":index"
}

func (s *RedisStore) Put(ctx context.Context, threadID, namespace string, cp *Checkpoint) (string, error) {
	if err := validatePut(threadID, namespace, cp); err != nil {
		return "", err
	}
	raw, err := s.encodeRecord(cp)
	if err != nil {
		return "", fmt.Errorf("%w: encode checkpoint: %v", ErrWrite, err)
	}

	sortKey := SortKey(namespace, cp.ID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(threadID, sortKey), raw, 0)
	pipe.ZAdd(ctx, s.indexKey(threadID, namespace), redis.Z{Score: 0, Member: cp.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: thread=%s checkpoint=%s: %v", ErrWrite, threadID, cp.ID, err)
	}
	return cp.ID, nil
}

func (s *RedisStore) Get(ctx context.Context, threadID, namespace, checkpointID string) (*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.recordKey(threadID, SortKey(namespace, checkpointID))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: thread=%s checkpoint=%s", ErrNotFound, threadID, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: thread=%s checkpoint=%s: %v", ErrRead, threadID, checkpointID, err)
	}
	return s.decodeRecord(raw)
}

func (s *RedisStore) GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID, namespace), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: thread=%s namespace=%s: %v", ErrRead, threadID, namespace, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: thread=%s namespace=%s", ErrNotFound, threadID, namespace)
	}
	return s.Get(ctx, threadID, namespace, ids[0])
}

func (s *RedisStore) List(ctx context.Context, threadID, namespace string, opts ListOptions) ([]*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}

	index := s.indexKey(threadID, namespace)
	out := make([]*Checkpoint, 0, s.pageSize)
	for offset := int64(0); ; offset += int64(s.pageSize) {
		ids, err := s.client.ZRevRange(ctx, index, offset, offset+int64(s.pageSize)-1).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: thread=%s namespace=%s: %v", ErrRead, threadID, namespace, err)
		}
		if len(ids) == 0 {
			return out, nil
		}

		keep := ids[:0]
		for _, id := range ids {
			if opts.Before == "" || id < opts.Before {
				keep = append(keep, id)
			}
		}
		if len(keep) > 0 {
			keys := make([]string, 0, len(keep))
			for _, id := range keep {
				keys = append(keys, s.recordKey(threadID, SortKey(namespace, id)))
			}
			raws, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("%w: thread=%s namespace=%s: %v", ErrRead, threadID, namespace, err)
			}
			for _, raw := range raws {
				if raw == nil {
					continue // index entry whose record expired or was deleted
				}
				text, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("%w: thread=%s namespace=%s: unexpected record type %T", ErrRead, threadID, namespace, raw)
				}
				cp, err := s.decodeRecord([]byte(text))
				if err != nil {
					return nil, err
				}
				if !matchesFilter(cp.Metadata, opts.Filter) {
					continue
				}
				out = append(out, cp)
				if opts.Limit > 0 && len(out) == opts.Limit {
					return out, nil
				}
			}
		}
		if len(ids) < s.pageSize {
			return out, nil
		}
	}
}

func (s *RedisStore) encodeRecord(cp *Checkpoint) ([]byte, error) {
	state := make([]byte, len(cp.State))
	copy(state, cp.State)
	versions, err := marshalVersionMap(s.codec, cp.Versions)
	if err != nil {
		return nil, err
	}
	seen, err := marshalVersionMap(s.codec, cp.Seen)
	if err != nil {
		return nil, err
	}
	rec := record{
		ID:        cp.ID,
		ParentID:  cp.ParentID,
		State:     state,
		Versions:  versions,
		Seen:      seen,
		Metadata:  copyMetadata(cp.Metadata),
		CreatedAt: cp.CreatedAt.UTC(),
		Codec:     s.codec.Name(),
	}
	return s.codec.Encode(rec)
}

func (s *RedisStore) decodeRecord(raw []byte) (*Checkpoint, error) {
	var rec record
	if err := s.codec.Decode(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", ErrRead, err)
	}
	if rec.Codec != "" && rec.Codec != s.codec.Name() {
		return nil, fmt.Errorf("%w: codec mismatch: record=%s store=%s", ErrRead, rec.Codec, s.codec.Name())
	}
	versions, err := unmarshalVersionMap(s.codec, rec.Versions)
	if err != nil {
		return nil, fmt.Errorf("%w: decode versions: %v", ErrRead, err)
	}
	seen, err := unmarshalVersionMap(s.codec, rec.Seen)
	if err != nil {
		return nil, fmt.Errorf("%w: decode seen: %v", ErrRead, err)
	}
	return &Checkpoint{
		ID:        rec.ID,
		ParentID:  rec.ParentID,
		State:     rec.State,
		Versions:  versions,
		Seen:      seen,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
	}, nil
}
