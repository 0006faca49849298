package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evescope/activity-ingest/internal/config"
)

// MongoStore keeps the whole snapshot in a single document; each save is
// one upsert ReplaceOne and therefore atomic.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type stateDocument struct {
	ID      string `bson:"_id"`
	Payload string `bson:"payload"`
}

// NewMongoStore creates a MongoDB-backed state store.
func NewMongoStore(cfg config.StateConfig) (*MongoStore, error) {
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required for the mongodb state backend")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.MongoDB).Collection("state"),
	}, nil
}

// Load reads the snapshot document. A missing document or unparseable
// payload yields the default snapshot.
func (m *MongoStore) Load(ctx context.Context) (*Snapshot, error) {
	var doc stateDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": snapshotKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("find state document: %w", err)
	}

	snap, ok := Decode([]byte(doc.Payload))
	if !ok {
		return NewSnapshot(), nil
	}
	return snap, nil
}

// Save replaces the snapshot document in a single upsert. Identical
// content is detected beforehand and skipped.
func (m *MongoStore) Save(ctx context.Context, snap *Snapshot) (bool, error) {
	data, err := Encode(snap)
	if err != nil {
		return false, err
	}

	var current stateDocument
	if err := m.collection.FindOne(ctx, bson.M{"_id": snapshotKey}).Decode(&current); err == nil {
		if current.Payload == string(data) {
			return false, nil
		}
	}

	doc := stateDocument{ID: snapshotKey, Payload: string(data)}
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": snapshotKey}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("replace state document: %w", err)
	}
	return true, nil
}

// Close disconnects the MongoDB client.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
