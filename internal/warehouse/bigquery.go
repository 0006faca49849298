package warehouse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/models"
)

const (
	jumpsSchema = "snapshot_timestamp:TIMESTAMP,system_id:INTEGER,ship_jumps:INTEGER"
	killsSchema = "snapshot_timestamp:TIMESTAMP,system_id:INTEGER,ship_kills:INTEGER,npc_kills:INTEGER,pod_kills:INTEGER"
)

// Runner executes a bq CLI invocation and returns its stdout. It exists so
// tests can assert the exact argv without a toolchain installed.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "bq", args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("bq %s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("bq %s: %w", args[0], err)
	}
	return string(out), nil
}

// BigQuerySink loads rows through the bq command-line client: batch NDJSON
// loads only, no streaming inserts.
type BigQuerySink struct {
	cfg    config.WarehouseConfig
	runner Runner
	tmpDir string
}

// NewBigQuerySink creates a sink that shells out to bq.
func NewBigQuerySink(cfg config.WarehouseConfig) *BigQuerySink {
	return &BigQuerySink{cfg: cfg, runner: execRunner{}, tmpDir: os.TempDir()}
}

func (s *BigQuerySink) projectFlag() string {
	return "--project_id=" + s.cfg.Project
}

func (s *BigQuerySink) table(name string) string {
	return fmt.Sprintf("%s:%s.%s", s.cfg.Project, s.cfg.Dataset, name)
}

// ResolveLocation reads the dataset's storage location; query jobs against
// the dataset must name the same location.
func (s *BigQuerySink) ResolveLocation(ctx context.Context) (string, error) {
	if s.cfg.Location != "" {
		return s.cfg.Location, nil
	}

	out, err := s.runner.Run(ctx, s.projectFlag(), "show", "--format=json",
		fmt.Sprintf("%s:%s", s.cfg.Project, s.cfg.Dataset))
	if err != nil {
		return "", fmt.Errorf("resolve dataset location: %w", err)
	}

	var meta struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &meta); err != nil {
		return "", fmt.Errorf("resolve dataset location: parse bq show output: %w", err)
	}
	if meta.Location == "" {
		return "", fmt.Errorf("resolve dataset location: dataset %s reports no location", s.cfg.Dataset)
	}
	return meta.Location, nil
}

// EnsureTables creates both activity tables if absent, time-partitioned on
// snapshot_timestamp and clustered by system_id.
func (s *BigQuerySink) EnsureTables(ctx context.Context) error {
	for _, t := range []struct {
		name   string
		schema string
	}{
		{models.DatasetJumps.Table(), jumpsSchema},
		{models.DatasetKills.Table(), killsSchema},
	} {
		if s.tableExists(ctx, t.name) {
			continue
		}
		_, err := s.runner.Run(ctx, s.projectFlag(), "mk", "--table",
			"--schema="+t.schema,
			"--time_partitioning_field=snapshot_timestamp",
			"--clustering_fields=system_id",
			s.table(t.name))
		if err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
	}
	return nil
}

func (s *BigQuerySink) tableExists(ctx context.Context, name string) bool {
	_, err := s.runner.Run(ctx, s.projectFlag(), "show", "--format=none", s.table(name))
	return err == nil
}

// AppendJumps batch-loads jump rows.
func (s *BigQuerySink) AppendJumps(ctx context.Context, rows []models.JumpRecord) error {
	items := make([]any, len(rows))
	for i := range rows {
		items[i] = rows[i]
	}
	return s.load(ctx, models.DatasetJumps.Table(), jumpsSchema, items)
}

// AppendKills batch-loads kill rows.
func (s *BigQuerySink) AppendKills(ctx context.Context, rows []models.KillRecord) error {
	items := make([]any, len(rows))
	for i := range rows {
		items[i] = rows[i]
	}
	return s.load(ctx, models.DatasetKills.Table(), killsSchema, items)
}

func (s *BigQuerySink) load(ctx context.Context, table, schema string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}

	path, err := s.writeNDJSON(table, rows)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	_, err = s.runner.Run(ctx, s.projectFlag(), "load",
		"--source_format=NEWLINE_DELIMITED_JSON",
		"--schema="+schema,
		s.table(table), path)
	if err != nil {
		return fmt.Errorf("load %s: %w", table, err)
	}
	return nil
}

func (s *BigQuerySink) writeNDJSON(table string, rows []any) (string, error) {
	f, err := os.CreateTemp(s.tmpDir, table+"_*.ndjson")
	if err != nil {
		return "", fmt.Errorf("create ndjson temp file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("encode ndjson row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("flush ndjson file: %w", err)
	}
	return f.Name(), nil
}

// Compact rewrites each activity table keeping only rows within the
// retention window. CREATE OR REPLACE is the only storage-reclaim path
// available without DML support.
func (s *BigQuerySink) Compact(ctx context.Context, location string, retention time.Duration) error {
	days := int(retention.Hours() / 24)
	for _, table := range []string{models.DatasetJumps.Table(), models.DatasetKills.Table()} {
		sql := fmt.Sprintf(
			"CREATE OR REPLACE TABLE `%s.%s.%s` PARTITION BY DATE(snapshot_timestamp) CLUSTER BY system_id AS "+
				"SELECT * FROM `%s.%s.%s` WHERE snapshot_timestamp >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL %d DAY)",
			s.cfg.Project, s.cfg.Dataset, table,
			s.cfg.Project, s.cfg.Dataset, table, days)
		_, err := s.runner.Run(ctx, s.projectFlag(), "query",
			"--use_legacy_sql=false", "--quiet", "--location="+location, sql)
		if err != nil {
			return fmt.Errorf("compact %s: %w", table, err)
		}
	}
	return nil
}

// Close is a no-op; the bq client is stateless between invocations.
func (s *BigQuerySink) Close() error {
	return nil
}
