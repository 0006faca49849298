// Package state persists the per-dataset validators and the run gate.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/models"
)

// MaintenanceID is the endpoint_id of the warehouse-maintenance schedule
// line that shares the state file with the dataset records.
const MaintenanceID = "maintenance"

// Snapshot is the full persisted state: one record per tracked dataset,
// one for maintenance scheduling, plus any unrecognized lines carried
// through untouched.
type Snapshot struct {
	Endpoints   map[models.Dataset]models.EndpointState
	Maintenance models.EndpointState
	Extra       []string
}

// NewSnapshot returns the all-empty default used on first run and after
// corruption recovery.
func NewSnapshot() *Snapshot {
	endpoints := make(map[models.Dataset]models.EndpointState, len(models.Datasets))
	for _, d := range models.Datasets {
		endpoints[d] = models.EndpointState{EndpointID: string(d)}
	}
	return &Snapshot{
		Endpoints:   endpoints,
		Maintenance: models.EndpointState{EndpointID: MaintenanceID},
	}
}

// Store is the durable, atomic record of snapshot state.
//
// Load self-heals: missing, empty, or unparseable storage yields the
// default snapshot, never an error, at the cost of one unconditional fetch.
// Save is all-or-nothing and reports false when the serialized content was
// already persisted byte-for-byte.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) (bool, error)
	Close() error
}

// NewStore creates a state store based on configuration.
func NewStore(cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.FilePath), nil
	case "dynamodb":
		return NewDynamoDBStore(cfg)
	case "mongodb":
		return NewMongoStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", cfg.Backend)
	}
}

// Encode renders the snapshot as line-delimited JSON, one record per
// dataset in stable order, the maintenance line, then preserved extras.
func Encode(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	for _, d := range models.Datasets {
		es := snap.Endpoints[d]
		es.EndpointID = string(d)
		if err := writeLine(&buf, es); err != nil {
			return nil, err
		}
	}
	maint := snap.Maintenance
	maint.EndpointID = MaintenanceID
	if err := writeLine(&buf, maint); err != nil {
		return nil, err
	}
	for _, raw := range snap.Extra {
		buf.WriteString(raw)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func writeLine(buf *bytes.Buffer, es models.EndpointState) error {
	data, err := json.Marshal(es)
	if err != nil {
		return fmt.Errorf("encode state record %s: %w", es.EndpointID, err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

// Decode parses line-delimited state content. Unknown but well-formed lines
// are preserved; any syntactically broken line marks the whole content as
// corrupt and the caller falls back to the default snapshot.
func Decode(data []byte) (*Snapshot, bool) {
	snap := NewSnapshot()
	if len(bytes.TrimSpace(data)) == 0 {
		return snap, true
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var es models.EndpointState
		if err := json.Unmarshal([]byte(line), &es); err != nil {
			return nil, false
		}
		switch es.EndpointID {
		case string(models.DatasetJumps), string(models.DatasetKills):
			snap.Endpoints[models.Dataset(es.EndpointID)] = es
		case MaintenanceID:
			snap.Maintenance = es
		default:
			snap.Extra = append(snap.Extra, line)
		}
	}
	return snap, true
}
