package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	defaultPostgresPageSize = 128
	postgresDialTimeout     = 5 * time.Second
)

// PostgresConfig carries connection settings for the Postgres backend.
type PostgresConfig struct {
	DSN string `split_words:"true" required:"true"`
}

// PostgresStore persists checkpoints in a single table keyed by
// (thread_id, sort_key). Conflicting writes overwrite the previous row.
type PostgresStore struct {
	db       *bun.DB
	codec    Codec
	pageSize int
}

type checkpointRow struct {
	bun.BaseModel `bun:"table:checkpoints,alias:cp"`

	ThreadID     string            `bun:"thread_id,pk"`
	SortKey      string            `bun:"sort_key,pk"`
	CheckpointID string            `bun:"checkpoint_id,notnull"`
	ParentID     string            `bun:"parent_id"`
	State        []byte            `bun:"state"`
	Versions     []byte            `bun:"versions"`
	Seen         []byte            `bun:"seen"`
	Metadata     map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt    time.Time         `bun:"created_at,notnull"`
	Codec        string            `bun:"codec,notnull"`
}

// PostgresOption customizes a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresCodec overrides the snapshot codec.
func WithPostgresCodec(codec Codec) PostgresOption {
	return func(s *PostgresStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithPostgresPageSize overrides how many rows List scans per query.
func WithPostgresPageSize(n int) PostgresOption {
	return func(s *PostgresStore) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(cfg PostgresConfig, opts ...PostgresOption) (*PostgresStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())

	ctx, cancel := context.WithTimeout(context.Background(), postgresDialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStoreFromDB(db, opts...), nil
}

// NewPostgresStoreFromDB wraps an existing bun handle, e.g. a test database.
func NewPostgresStoreFromDB(db *bun.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:       db,
		codec:    DefaultCodec(),
		pageSize: defaultPostgresPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the checkpoints table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*checkpointRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, threadID, namespace string, cp *Checkpoint) (string, error) {
	if err := validatePut(threadID, namespace, cp); err != nil {
		return "", err
	}
	row, err := s.toRow(threadID, namespace, cp)
	if err != nil {
		return "", fmt.Errorf("%w: encode checkpoint: %v", ErrWrite, err)
	}

	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (thread_id, sort_key) DO UPDATE").
		Set("checkpoint_id = EXCLUDED.checkpoint_id").
		Set("parent_id = EXCLUDED.parent_id").
		Set("state = EXCLUDED.state").
		Set("versions = EXCLUDED.versions").
		Set("seen = EXCLUDED.seen").
		Set("metadata = EXCLUDED.metadata").
		Set("created_at = EXCLUDED.created_at").
		Set("codec = EXCLUDED.codec").
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: thread=%s checkpoint=%s: %v", ErrWrite, threadID, cp.ID, err)
	}
	return cp.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, threadID, namespace, checkpointID string) (*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	row := new(checkpointRow)
	err := s.db.NewSelect().
		Model(row).
		Where("cp.thread_id = ?", threadID).
		Where("cp.sort_key = ?", SortKey(namespace, checkpointID)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: thread=%s checkpoint=%s", ErrNotFound, threadID, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: thread=%s checkpoint=%s: %v", ErrRead, threadID, checkpointID, err)
	}
	return s.fromRow(row)
}

func (s *PostgresStore) GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	lower, upper := namespaceBounds(namespace)

	row := new(checkpointRow)
	err := s.db.NewSelect().
		Model(row).
		Where("cp.thread_id = ?", threadID).
		Where("cp.sort_key >= ?", lower).
		Where("cp.sort_key < ?", upper).
		Order("sort_key DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: thread=%s namespace=%s", ErrNotFound, threadID, namespace)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: thread=%s namespace=%s: %v", ErrRead, threadID, namespace, err)
	}
	return s.fromRow(row)
}

func (s *PostgresStore) List(ctx context.Context, threadID, namespace string, opts ListOptions) ([]*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	lower, upper := namespaceBounds(namespace)
	cursor := upper
	if opts.Before != "" {
		cursor = SortKey(namespace, opts.Before)
	}

	var out []*Checkpoint
	for {
		var rows []checkpointRow
		err := s.db.NewSelect().
			Model(&rows).
			Where("cp.thread_id = ?", threadID).
			Where("cp.sort_key >= ?", lower).
			Where("cp.sort_key < ?", cursor).
			Order("sort_key DESC").
			Limit(s.pageSize).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: thread=%s namespace=%s: %v", ErrRead, threadID, namespace, err)
		}
		if len(rows) == 0 {
			return out, nil
		}

		for i := range rows {
			if !matchesFilter(rows[i].Metadata, opts.Filter) {
				continue
			}
			cp, err := s.fromRow(&rows[i])
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
			if opts.Limit > 0 && len(out) == opts.Limit {
				return out, nil
			}
		}
		if len(rows) < s.pageSize {
			return out, nil
		}
		cursor = rows[len(rows)-1].SortKey
	}
}

func (s *PostgresStore) toRow(threadID, namespace string, cp *Checkpoint) (*checkpointRow, error) {
	versions, err := marshalVersionMap(s.codec, cp.Versions)
	if err != nil {
		return nil, err
	}
	seen, err := marshalVersionMap(s.codec, cp.Seen)
	if err != nil {
		return nil, err
	}
	state := make([]byte, len(cp.State))
	copy(state, cp.State)
	return &checkpointRow{
		ThreadID:     threadID,
		SortKey:      SortKey(namespace, cp.ID),
		CheckpointID: cp.ID,
		ParentID:     cp.ParentID,
		State:        state,
		Versions:     versions,
		Seen:         seen,
		Metadata:     copyMetadata(cp.Metadata),
		CreatedAt:    cp.CreatedAt.UTC(),
		Codec:        s.codec.Name(),
	}, nil
}

func (s *PostgresStore) fromRow(row *checkpointRow) (*Checkpoint, error) {
	if row.Codec != "" && row.Codec != s.codec.Name() {
		return nil, fmt.Errorf("%w: codec mismatch: record=%s store=%s", ErrRead, row.Codec, s.codec.Name())
	}
	versions, err := unmarshalVersionMap(s.codec, row.Versions)
	if err != nil {
		return nil, fmt.Errorf("%w: decode versions: %v", ErrRead, err)
	}
	seen, err := unmarshalVersionMap(s.codec, row.Seen)
	if err != nil {
		return nil, fmt.Errorf("%w: decode seen: %v", ErrRead, err)
	}
	return &Checkpoint{
		ID:        row.CheckpointID,
		ParentID:  row.ParentID,
		State:     row.State,
		Versions:  versions,
		Seen:      seen,
		Metadata:  row.Metadata,
		CreatedAt: row.CreatedAt,
	}, nil
}
