// Package warehouse is the append-only sink for normalized activity rows.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/models"
)

// Sink is the minimal contract the ingestion gate needs from the
// warehouse: idempotent table creation, NDJSON-shaped appends, and the
// storage location some query operations must be told about.
type Sink interface {
	ResolveLocation(ctx context.Context) (string, error)
	EnsureTables(ctx context.Context) error
	AppendJumps(ctx context.Context, rows []models.JumpRecord) error
	AppendKills(ctx context.Context, rows []models.KillRecord) error
	Compact(ctx context.Context, location string, retention time.Duration) error
	Close() error
}

// NewSink creates a warehouse sink based on configuration.
func NewSink(cfg config.WarehouseConfig) (Sink, error) {
	switch cfg.Backend {
	case "bigquery":
		return NewBigQuerySink(cfg), nil
	case "postgres":
		return NewPostgresSink(cfg)
	default:
		return nil, fmt.Errorf("unsupported warehouse backend: %s", cfg.Backend)
	}
}
