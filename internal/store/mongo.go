package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tracos/syncbridge/internal/schema"
)

// MongoStore keeps work orders as documents in a MongoDB collection.
type MongoStore struct {
	uri        string
	database   string
	collection string
	log        zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	client   *mongo.Client
	coll     *mongo.Collection
	injected bool
}

var (
	_ Store       = (*MongoStore)(nil)
	_ Reconnector = (*MongoStore)(nil)
)

// NewMongoStore returns a store for the deployment at uri. Nothing is dialled
// until Connect.
func NewMongoStore(uri string, opts Options) *MongoStore {
	opts = opts.withDefaults()
	return &MongoStore{
		uri:        uri,
		database:   opts.Database,
		collection: opts.Collection,
		log:        opts.Logger.With().Str("cmp", "store").Str("backend", "mongo").Logger(),
		now:        opts.Now,
	}
}

// NewMongoStoreWithCollection wraps an existing collection. Connect and
// Disconnect leave the owning client alone.
func NewMongoStoreWithCollection(coll *mongo.Collection, opts Options) *MongoStore {
	s := NewMongoStore("", opts)
	s.client = coll.Database().Client()
	s.coll = coll
	s.database = coll.Database().Name()
	s.collection = coll.Name()
	s.injected = true
	return s
}

// Connect dials the deployment, pings the primary and ensures the unique
// index on number.
func (s *MongoStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coll != nil {
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return connectionError("connect mongo", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return connectionError("ping mongo", err)
	}

	coll := client.Database(s.database).Collection(s.collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "number", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ensure number index: %w", err)
	}

	s.client = client
	s.coll = coll
	s.log.Debug().Str("database", s.database).Str("collection", s.collection).Msg("connected")
	return nil
}

// Reconnect drops the client and dials again. An injected collection is
// only pinged.
func (s *MongoStore) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.injected {
		client := s.client
		s.mu.Unlock()
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return connectionError("ping mongo", err)
		}
		return nil
	}
	if s.client != nil {
		_ = s.client.Disconnect(ctx)
	}
	s.client = nil
	s.coll = nil
	s.mu.Unlock()
	return s.Connect(ctx)
}

func (s *MongoStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.injected || s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect mongo: %w", err)
	}
	return nil
}

func (s *MongoStore) collectionHandle() (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll == nil {
		return nil, ErrNotConnected
	}
	return s.coll, nil
}

func (s *MongoStore) Unsynced(ctx context.Context) ([]schema.TracOSWorkorder, error) {
	coll, err := s.collectionHandle()
	if err != nil {
		return nil, err
	}

	filter := bson.M{"$or": bson.A{
		bson.M{"isSynced": false},
		bson.M{"isSynced": bson.M{"$exists": false}},
	}}
	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "number", Value: 1}})

	cur, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced workorders: %w", err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read unsynced workorders: %w", err)
	}

	out := make([]schema.TracOSWorkorder, 0, len(docs))
	for _, doc := range docs {
		wo, err := schema.TracOSFromDocument(doc)
		if err != nil {
			s.log.Warn().Err(err).Interface("_id", doc["_id"]).Int64("number", wo.Number).Msg("undecodable document")
			wo.DecodeErr = err
		}
		out = append(out, wo)
	}
	return out, nil
}

func (s *MongoStore) Upsert(ctx context.Context, wo schema.TracOSWorkorder) (UpsertResult, error) {
	coll, err := s.collectionHandle()
	if err != nil {
		return UpsertResult{}, err
	}

	var existing bson.M
	err = coll.FindOne(ctx, bson.M{"number": wo.Number}).Decode(&existing)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		if wo.ID == "" {
			wo.ID = schema.NewDocumentID()
		}
		if _, err := coll.InsertOne(ctx, wo.Document()); err != nil {
			return UpsertResult{}, fmt.Errorf("failed to insert workorder %d: %w", wo.Number, err)
		}
		return UpsertResult{ID: wo.ID, Created: true}, nil

	case err != nil:
		return UpsertResult{}, fmt.Errorf("failed to look up workorder %d: %w", wo.Number, err)
	}

	set := wo.Document()
	delete(set, "_id")
	if wo.DeletedAt == nil {
		set["deletedAt"] = nil
	}
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": existing["_id"]}, bson.M{"$set": set}); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to update workorder %d: %w", wo.Number, err)
	}

	prev, err := schema.TracOSFromDocument(existing)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to decode existing workorder %d: %w", wo.Number, err)
	}
	return UpsertResult{ID: prev.ID}, nil
}

func (s *MongoStore) MarkSynced(ctx context.Context, id schema.DocumentID) error {
	coll, err := s.collectionHandle()
	if err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{"isSynced": true, "syncedAt": s.now().UTC()}}

	res, err := coll.UpdateOne(ctx, idFilter(id), update)
	if err != nil {
		return fmt.Errorf("failed to mark workorder %s as synced: %w", id, err)
	}
	if res.MatchedCount == 0 {
		s.log.Warn().Str("id", id.String()).Msg("no workorder matched, nothing marked as synced")
	}
	return nil
}

// idFilter matches id whether the document stores it as an ObjectID or as
// a plain string.
func idFilter(id schema.DocumentID) bson.M {
	if oid, ok := id.ObjectID(); ok {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, string(id)}}}
	}
	return bson.M{"_id": string(id)}
}

func (s *MongoStore) Get(ctx context.Context, number int64) (schema.TracOSWorkorder, error) {
	coll, err := s.collectionHandle()
	if err != nil {
		return schema.TracOSWorkorder{}, err
	}

	var doc bson.M
	if err := coll.FindOne(ctx, bson.M{"number": number}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return schema.TracOSWorkorder{}, ErrNotFound
		}
		return schema.TracOSWorkorder{}, fmt.Errorf("failed to get workorder %d: %w", number, err)
	}
	return schema.TracOSFromDocument(doc)
}

func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	coll, err := s.collectionHandle()
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count workorders: %w", err)
	}
	return n, nil
}
