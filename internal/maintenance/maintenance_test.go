package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/models"
	"github.com/evescope/activity-ingest/internal/state"
)

// MockSink is a mock implementation of warehouse.Sink.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) ResolveLocation(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSink) EnsureTables(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSink) AppendJumps(ctx context.Context, rows []models.JumpRecord) error {
	return m.Called(ctx, rows).Error(0)
}

func (m *MockSink) AppendKills(ctx context.Context, rows []models.KillRecord) error {
	return m.Called(ctx, rows).Error(0)
}

func (m *MockSink) Compact(ctx context.Context, location string, retention time.Duration) error {
	return m.Called(ctx, location, retention).Error(0)
}

func (m *MockSink) Close() error {
	return m.Called().Error(0)
}

var maintNow = time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, sink *MockSink) (*Service, *state.FileStore) {
	t.Helper()

	cfg := config.ScheduleConfig{
		MaintenanceEvery:     7 * 24 * time.Hour,
		MaintenanceRetention: 400 * 24 * time.Hour,
	}
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.ndjson"))

	svc := NewService(cfg, store, sink, zap.NewNop())
	svc.now = func() time.Time { return maintNow }
	return svc, store
}

func TestRun_CompactsWhenDue(t *testing.T) {
	sink := new(MockSink)
	sink.On("ResolveLocation", mock.Anything).Return("US", nil)
	sink.On("Compact", mock.Anything, "US", 400*24*time.Hour).Return(nil)

	svc, store := newTestService(t, sink)

	ran, err := svc.Run(context.Background(), false)

	require.NoError(t, err)
	assert.True(t, ran)
	sink.AssertExpectations(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Maintenance.NextEligibleRunAt)
	assert.True(t, snap.Maintenance.NextEligibleRunAt.Equal(maintNow.Add(7*24*time.Hour)))
}

func TestRun_GatedUntilDue(t *testing.T) {
	sink := new(MockSink)
	svc, store := newTestService(t, sink)

	gate := maintNow.Add(48 * time.Hour)
	snap := state.NewSnapshot()
	snap.Maintenance.NextEligibleRunAt = &gate
	_, err := store.Save(context.Background(), snap)
	require.NoError(t, err)

	ran, err := svc.Run(context.Background(), false)

	require.NoError(t, err)
	assert.False(t, ran)
	sink.AssertNotCalled(t, "Compact", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ForceBypassesGate(t *testing.T) {
	sink := new(MockSink)
	sink.On("ResolveLocation", mock.Anything).Return("US", nil)
	sink.On("Compact", mock.Anything, "US", 400*24*time.Hour).Return(nil)

	svc, store := newTestService(t, sink)

	gate := maintNow.Add(48 * time.Hour)
	snap := state.NewSnapshot()
	snap.Maintenance.NextEligibleRunAt = &gate
	_, err := store.Save(context.Background(), snap)
	require.NoError(t, err)

	ran, err := svc.Run(context.Background(), true)

	require.NoError(t, err)
	assert.True(t, ran)
	sink.AssertExpectations(t)
}

func TestRun_CompactFailureDoesNotAdvanceSchedule(t *testing.T) {
	sink := new(MockSink)
	sink.On("ResolveLocation", mock.Anything).Return("US", nil)
	sink.On("Compact", mock.Anything, "US", mock.Anything).Return(assert.AnError)

	svc, store := newTestService(t, sink)

	ran, err := svc.Run(context.Background(), false)

	require.Error(t, err)
	assert.False(t, ran)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Maintenance.NextEligibleRunAt)
}

func TestRun_PreservesDatasetRecords(t *testing.T) {
	sink := new(MockSink)
	sink.On("ResolveLocation", mock.Anything).Return("US", nil)
	sink.On("Compact", mock.Anything, "US", mock.Anything).Return(nil)

	svc, store := newTestService(t, sink)

	snap := state.NewSnapshot()
	es := snap.Endpoints[models.DatasetJumps]
	es.Validator = `"j1"`
	snap.Endpoints[models.DatasetJumps] = es
	_, err := store.Save(context.Background(), snap)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), false)
	require.NoError(t, err)

	reloaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"j1"`, reloaded.Endpoints[models.DatasetJumps].Validator)
}
