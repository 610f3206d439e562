package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string // default "checkpoints"
}

// mongoRecord is the document shape of one checkpoint.
type mongoRecord struct {
	ThreadID  string    `bson:"thread_id"`
	Sequence  int64     `bson:"sequence_no"`
	Blob      []byte    `bson:"state_blob"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoStore persists checkpoints to a MongoDB collection with a unique
// index on (thread_id, sequence_no).
type MongoStore struct {
	client     *mongo.Client
	coll       *mongo.Collection
	ownsClient bool
	closed     atomic.Bool
}

// NewMongoStore connects, pings and ensures the index exists.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s, err := NewMongoStoreFromClient(ctx, client, cfg.Database, cfg.Collection)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewMongoStoreFromClient uses an existing client. Close does not
// disconnect it.
func NewMongoStoreFromClient(ctx context.Context, client *mongo.Client, database, collection string) (*MongoStore, error) {
	if collection == "" {
		collection = "checkpoints"
	}
	coll := client.Database(database).Collection(collection)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "sequence_no", Value: -1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

// Put implements Store.
func (s *MongoStore) Put(ctx context.Context, cp Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := validate(cp); err != nil {
		return err
	}
	cp = stamp(cp)

	_, err := s.coll.InsertOne(ctx, mongoRecord{
		ThreadID:  cp.ThreadID,
		Sequence:  cp.Sequence,
		Blob:      cp.Blob,
		CreatedAt: cp.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrSequenceConflict
	}
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *MongoStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence_no", Value: -1}})
	return s.findOne(ctx, bson.D{{Key: "thread_id", Value: threadID}}, opts)
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, threadID string, sequence int64) (Checkpoint, error) {
	return s.findOne(ctx, bson.D{
		{Key: "thread_id", Value: threadID},
		{Key: "sequence_no", Value: sequence},
	}, options.FindOne())
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, opts *options.FindOneOptionsBuilder) (Checkpoint, error) {
	if s.closed.Load() {
		return Checkpoint{}, ErrStoreClosed
	}

	var rec mongoRecord
	err := s.coll.FindOne(ctx, filter, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return Checkpoint{
		ThreadID:  rec.ThreadID,
		Sequence:  rec.Sequence,
		Blob:      rec.Blob,
		CreatedAt: rec.CreatedAt.UTC(),
	}, nil
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context, threadID string) ([]Info, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	cursor, err := s.coll.Find(ctx,
		bson.D{{Key: "thread_id", Value: threadID}},
		options.Find().SetSort(bson.D{{Key: "sequence_no", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer cursor.Close(ctx)

	infos := []Info{}
	for cursor.Next(ctx) {
		var rec mongoRecord
		if err := cursor.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		infos = append(infos, Info{
			ThreadID:  rec.ThreadID,
			Sequence:  rec.Sequence,
			CreatedAt: rec.CreatedAt.UTC(),
			Size:      int64(len(rec.Blob)),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return infos, nil
}

// DeleteThread implements Store.
func (s *MongoStore) DeleteThread(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if _, err := s.coll.DeleteMany(ctx, bson.D{{Key: "thread_id", Value: threadID}}); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *MongoStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.client.Disconnect(ctx)
	}
	return nil
}
