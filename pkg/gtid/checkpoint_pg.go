package gtid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGCheckpointStore persists the checkpoint in PostgreSQL. Deployments
// that already run Postgres for control-plane state can keep the
// replication position there instead of on the node's local disk.
type PGCheckpointStore struct {
	pool   *pgxpool.Pool
	nodeID string
}

// NewPGCheckpointStore connects to PostgreSQL and ensures the
// checkpoint table exists. nodeID keys this node's row.
func NewPGCheckpointStore(ctx context.Context, databaseURL, nodeID string) (*PGCheckpointStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGCheckpointStore{pool: pool, nodeID: nodeID}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *PGCheckpointStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS repl_checkpoints (
			node_id    TEXT PRIMARY KEY,
			epoch      BIGINT NOT NULL,
			seq        BIGINT NOT NULL,
			last_ts    BIGINT NOT NULL,
			last_hash  BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// Save upserts this node's checkpoint row.
func (s *PGCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repl_checkpoints (node_id, epoch, seq, last_ts, last_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (node_id) DO UPDATE SET
			epoch = EXCLUDED.epoch,
			seq = EXCLUDED.seq,
			last_ts = EXCLUDED.last_ts,
			last_hash = EXCLUDED.last_hash,
			updated_at = now()`,
		s.nodeID, int64(cp.LastGTID.Epoch), int64(cp.LastGTID.Seq), cp.LastTs, int64(cp.LastHash))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load reads this node's checkpoint row.
func (s *PGCheckpointStore) Load(ctx context.Context) (Checkpoint, bool, error) {
	var epoch, seq, lastTs, lastHash int64
	err := s.pool.QueryRow(ctx, `
		SELECT epoch, seq, last_ts, last_hash
		FROM repl_checkpoints WHERE node_id = $1`, s.nodeID).
		Scan(&epoch, &seq, &lastTs, &lastHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return Checkpoint{
		LastGTID: GTID{Epoch: uint64(epoch), Seq: uint64(seq)},
		LastTs:   lastTs,
		LastHash: uint64(lastHash),
	}, true, nil
}

// Close closes the connection pool.
func (s *PGCheckpointStore) Close() error {
	s.pool.Close()
	return nil
}
