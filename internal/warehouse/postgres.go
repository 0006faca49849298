package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/models"
)

// PostgresSink appends activity rows to Postgres tables. It exists for
// deployments without a BigQuery project; the gate's contract is the same.
type PostgresSink struct {
	cfg config.WarehouseConfig
	db  *sql.DB
}

// NewPostgresSink creates a Postgres-backed warehouse sink.
func NewPostgresSink(cfg config.WarehouseConfig) (*PostgresSink, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("POSTGRES_URI is required for the postgres warehouse backend")
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresSink{cfg: cfg, db: db}, nil
}

// ResolveLocation returns the configured location; Postgres has no
// per-dataset storage region to discover.
func (s *PostgresSink) ResolveLocation(_ context.Context) (string, error) {
	if s.cfg.Location != "" {
		return s.cfg.Location, nil
	}
	return "local", nil
}

// EnsureTables creates both activity tables if absent.
func (s *PostgresSink) EnsureTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS system_jumps (
			snapshot_timestamp TIMESTAMPTZ NOT NULL,
			system_id BIGINT NOT NULL,
			ship_jumps BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS system_kills (
			snapshot_timestamp TIMESTAMPTZ NOT NULL,
			system_id BIGINT NOT NULL,
			ship_kills BIGINT,
			npc_kills BIGINT,
			pod_kills BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS system_jumps_system_id_idx ON system_jumps (system_id, snapshot_timestamp)`,
		`CREATE INDEX IF NOT EXISTS system_kills_system_id_idx ON system_kills (system_id, snapshot_timestamp)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

// AppendJumps bulk-appends jump rows via COPY.
func (s *PostgresSink) AppendJumps(ctx context.Context, rows []models.JumpRecord) error {
	if len(rows) == 0 {
		return nil
	}
	return s.copyRows(ctx, "system_jumps",
		[]string{"snapshot_timestamp", "system_id", "ship_jumps"},
		func(stmt *sql.Stmt) error {
			for _, r := range rows {
				if _, err := stmt.ExecContext(ctx, r.SnapshotTimestamp, r.SystemID, nullable(r.ShipJumps)); err != nil {
					return err
				}
			}
			return nil
		})
}

// AppendKills bulk-appends kill rows via COPY.
func (s *PostgresSink) AppendKills(ctx context.Context, rows []models.KillRecord) error {
	if len(rows) == 0 {
		return nil
	}
	return s.copyRows(ctx, "system_kills",
		[]string{"snapshot_timestamp", "system_id", "ship_kills", "npc_kills", "pod_kills"},
		func(stmt *sql.Stmt) error {
			for _, r := range rows {
				if _, err := stmt.ExecContext(ctx, r.SnapshotTimestamp, r.SystemID,
					nullable(r.ShipKills), nullable(r.NPCKills), nullable(r.PodKills)); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *PostgresSink) copyRows(ctx context.Context, table string, columns []string, fill func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("append %s: prepare copy: %w", table, err)
	}

	if err := fill(stmt); err != nil {
		stmt.Close()
		return fmt.Errorf("append %s: copy row: %w", table, err)
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("append %s: flush copy: %w", table, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("append %s: close copy: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append %s: commit: %w", table, err)
	}
	return nil
}

func nullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Compact copy-swaps each activity table down to the retention window.
func (s *PostgresSink) Compact(ctx context.Context, _ string, retention time.Duration) error {
	for _, table := range []string{"system_jumps", "system_kills"} {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("compact %s: begin: %w", table, err)
		}

		stmts := []string{
			fmt.Sprintf(`CREATE TABLE %s_compact AS SELECT * FROM %s WHERE snapshot_timestamp >= NOW() - INTERVAL '%d seconds'`,
				table, table, int(retention.Seconds())),
			fmt.Sprintf(`DROP TABLE %s`, table),
			fmt.Sprintf(`ALTER TABLE %s_compact RENAME TO %s`, table, table),
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("compact %s: %w", table, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("compact %s: commit: %w", table, err)
		}
	}
	return s.EnsureTables(ctx)
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
