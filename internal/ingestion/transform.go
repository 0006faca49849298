package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/evescope/activity-ingest/internal/models"
)

// snapshotTime picks the as-of timestamp attached to every row from this
// outcome: the server's Last-Modified assertion, falling back to the run's
// clock when the source omitted it.
func snapshotTime(outcome *models.FetchOutcome, now time.Time) time.Time {
	if outcome.LastModified != nil {
		return *outcome.LastModified
	}
	return now
}

func transformJumps(outcome *models.FetchOutcome, now time.Time) ([]models.JumpRecord, error) {
	ts := snapshotTime(outcome, now)
	rows := make([]models.JumpRecord, 0, len(outcome.Body))
	for i, rec := range outcome.Body {
		systemID, err := requiredInt(rec, "system_id")
		if err != nil {
			return nil, fmt.Errorf("jumps record %d: %w", i, err)
		}
		rows = append(rows, models.JumpRecord{
			SnapshotTimestamp: ts,
			SystemID:          systemID,
			ShipJumps:         optionalInt(rec, "ship_jumps"),
		})
	}
	return rows, nil
}

func transformKills(outcome *models.FetchOutcome, now time.Time) ([]models.KillRecord, error) {
	ts := snapshotTime(outcome, now)
	rows := make([]models.KillRecord, 0, len(outcome.Body))
	for i, rec := range outcome.Body {
		systemID, err := requiredInt(rec, "system_id")
		if err != nil {
			return nil, fmt.Errorf("kills record %d: %w", i, err)
		}
		rows = append(rows, models.KillRecord{
			SnapshotTimestamp: ts,
			SystemID:          systemID,
			ShipKills:         optionalInt(rec, "ship_kills"),
			NPCKills:          optionalInt(rec, "npc_kills"),
			PodKills:          optionalInt(rec, "pod_kills"),
		})
	}
	return rows, nil
}

func requiredInt(rec map[string]any, key string) (int64, error) {
	v, ok := rec[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, ok := coerceInt(v)
	if !ok {
		return 0, fmt.Errorf("non-numeric %s: %v", key, v)
	}
	return n, nil
}

func optionalInt(rec map[string]any, key string) *int64 {
	v, ok := rec[key]
	if !ok {
		return nil
	}
	n, ok := coerceInt(v)
	if !ok {
		return nil
	}
	return &n
}

func coerceInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
