package warehouse

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/models"
)

// fakeRunner records every bq invocation and scripts per-command replies.
type fakeRunner struct {
	calls  [][]string
	stdout map[string]string // keyed by bq subcommand
	failOn map[string]error
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	cmd := args[1]
	if err, ok := f.failOn[cmd]; ok {
		return "", err
	}
	return f.stdout[cmd], nil
}

func newTestBigQuerySink(t *testing.T, runner *fakeRunner) *BigQuerySink {
	t.Helper()
	sink := NewBigQuerySink(config.WarehouseConfig{
		Backend: "bigquery",
		Project: "evescope-prod",
		Dataset: "universe",
	})
	sink.runner = runner
	sink.tmpDir = t.TempDir()
	return sink
}

func TestBigQuery_ResolveLocation(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{
		"show": `{"location":"US","id":"evescope-prod:universe"}`,
	}}
	sink := newTestBigQuerySink(t, runner)

	location, err := sink.ResolveLocation(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "US", location)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"--project_id=evescope-prod", "show", "--format=json", "evescope-prod:universe"}, runner.calls[0])
}

func TestBigQuery_ResolveLocationStaticOverride(t *testing.T) {
	runner := &fakeRunner{}
	sink := newTestBigQuerySink(t, runner)
	sink.cfg.Location = "EU"

	location, err := sink.ResolveLocation(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "EU", location)
	assert.Empty(t, runner.calls)
}

func TestBigQuery_ResolveLocationMissing(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{"show": `{}`}}
	sink := newTestBigQuerySink(t, runner)

	_, err := sink.ResolveLocation(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no location")
}

func TestBigQuery_EnsureTablesCreatesMissing(t *testing.T) {
	runner := &fakeRunner{failOn: map[string]error{
		"show": errors.New("Not found: Table"),
	}}
	sink := newTestBigQuerySink(t, runner)

	require.NoError(t, sink.EnsureTables(context.Background()))

	// show + mk for each of the two tables
	require.Len(t, runner.calls, 4)
	mk := runner.calls[1]
	assert.Equal(t, "mk", mk[1])
	assert.Contains(t, mk, "--table")
	assert.Contains(t, mk, "--schema=snapshot_timestamp:TIMESTAMP,system_id:INTEGER,ship_jumps:INTEGER")
	assert.Contains(t, mk, "--time_partitioning_field=snapshot_timestamp")
	assert.Contains(t, mk, "--clustering_fields=system_id")
	assert.Contains(t, mk, "evescope-prod:universe.system_jumps")

	assert.Contains(t, runner.calls[3], "evescope-prod:universe.system_kills")
}

func TestBigQuery_EnsureTablesSkipsExisting(t *testing.T) {
	runner := &fakeRunner{}
	sink := newTestBigQuerySink(t, runner)

	require.NoError(t, sink.EnsureTables(context.Background()))

	require.Len(t, runner.calls, 2)
	for _, call := range runner.calls {
		assert.Equal(t, "show", call[1])
	}
}

func TestBigQuery_AppendJumpsLoadsNDJSON(t *testing.T) {
	runner := &fakeRunner{}
	sink := newTestBigQuerySink(t, runner)

	jumps := int64(42)
	rows := []models.JumpRecord{{
		SnapshotTimestamp: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		SystemID:          30000142,
		ShipJumps:         &jumps,
	}}

	require.NoError(t, sink.AppendJumps(context.Background(), rows))

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "load", call[1])
	assert.Contains(t, call, "--source_format=NEWLINE_DELIMITED_JSON")
	assert.Contains(t, call, "evescope-prod:universe.system_jumps")

	// The staged NDJSON file is removed after the load.
	path := call[len(call)-1]
	assert.True(t, strings.HasSuffix(path, ".ndjson"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestBigQuery_AppendEmptyIsNoOp(t *testing.T) {
	runner := &fakeRunner{}
	sink := newTestBigQuerySink(t, runner)

	require.NoError(t, sink.AppendJumps(context.Background(), nil))
	require.NoError(t, sink.AppendKills(context.Background(), nil))
	assert.Empty(t, runner.calls)
}

func TestBigQuery_Compact(t *testing.T) {
	runner := &fakeRunner{}
	sink := newTestBigQuerySink(t, runner)

	require.NoError(t, sink.Compact(context.Background(), "US", 400*24*time.Hour))

	require.Len(t, runner.calls, 2)
	call := runner.calls[0]
	assert.Equal(t, "query", call[1])
	assert.Contains(t, call, "--use_legacy_sql=false")
	assert.Contains(t, call, "--location=US")

	sql := call[len(call)-1]
	assert.Contains(t, sql, "CREATE OR REPLACE TABLE `evescope-prod.universe.system_jumps`")
	assert.Contains(t, sql, "PARTITION BY DATE(snapshot_timestamp)")
	assert.Contains(t, sql, "CLUSTER BY system_id")
	assert.Contains(t, sql, "INTERVAL 400 DAY")

	assert.Contains(t, runner.calls[1][len(runner.calls[1])-1], "system_kills")
}

func TestBigQuery_LoadFailureSurfaces(t *testing.T) {
	runner := &fakeRunner{failOn: map[string]error{"load": errors.New("quota exceeded")}}
	sink := newTestBigQuerySink(t, runner)

	err := sink.AppendKills(context.Background(), []models.KillRecord{{SystemID: 1}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "system_kills")
}
