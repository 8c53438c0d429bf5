package cachefabric

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MetadataConfig configures the durable metadata store (cache-entry
// bookkeeping: sizes, engines, negative-cache markers, version stamps).
type MetadataConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Entry is the persisted record for one cache key: what tier it lives in,
// how large it is, and which cache-version generation it belongs to.
type Entry struct {
	Key       string    `bson:"key" json:"key"`
	Kind      string    `bson:"kind" json:"kind"` // ctan|bundle|wasm|aux|doc|fmt, or "version" for tier stamps
	Version   int       `bson:"version" json:"version"`
	Size      int64     `bson:"size,omitempty" json:"size,omitempty"`
	NotFound  bool      `bson:"notFound,omitempty" json:"notFound,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// MetadataStore is the authoritative record of what is cached and at which
// cache-version generation, independent of whether the bytes currently sit
// in the memory overlay or only in the blob store.
type MetadataStore struct {
	client *mongo.Client
	dbName string
}

// Connect opens a Mongo connection and pings it, mirroring the teacher's
// connect-then-ping pattern for fail-fast startup.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("metadata store connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("metadata store ping: %w", err)
	}
	return client, nil
}

// NewMetadataStore wraps an already-connected client.
func NewMetadataStore(client *mongo.Client, dbName string) *MetadataStore {
	return &MetadataStore{client: client, dbName: dbName}
}

func (s *MetadataStore) collection() *mongo.Collection {
	return s.client.Database(s.dbName).Collection("cache_entries")
}

// Upsert records or refreshes an entry's metadata.
func (s *MetadataStore) Upsert(ctx context.Context, e *Entry) error {
	now := e.UpdatedAt
	if now.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	filter := bson.M{"key": e.Key}
	set := bson.M{"key": e.Key, "kind": e.Kind, "version": e.Version, "size": e.Size, "notFound": e.NotFound, "updatedAt": e.UpdatedAt}
	update := bson.M{"$set": set, "$setOnInsert": bson.M{"createdAt": e.CreatedAt}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.collection().UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("upsert cache entry %s: %w", e.Key, err)
	}
	return nil
}

// Get loads an entry's metadata. Returns (nil, nil) when absent.
func (s *MetadataStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.collection().FindOne(ctx, bson.M{"key": key}).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes an entry's metadata record.
func (s *MetadataStore) Delete(ctx context.Context, key string) error {
	_, err := s.collection().DeleteOne(ctx, bson.M{"key": key})
	return err
}

// DeleteByKindBelowVersion removes every entry of a given kind whose
// recorded version is older than currentVersion — the bookkeeping half of
// wholesale eviction on a cache-version bump.
func (s *MetadataStore) DeleteByKindBelowVersion(ctx context.Context, kind string, currentVersion int) (int64, error) {
	res, err := s.collection().DeleteMany(ctx, bson.M{"kind": kind, "version": bson.M{"$lt": currentVersion}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
