package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/tracos/syncbridge/internal/dates"
	"github.com/tracos/syncbridge/internal/schema"
)

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	newStore := func(mt *mtest.T) *MongoStore {
		s := NewMongoStoreWithCollection(mt.Coll, Options{Logger: zerolog.Nop(), Now: fixedNow})
		require.NoError(mt, s.Connect(context.Background()))
		return s
	}
	ns := func(mt *mtest.T) string {
		return mt.Coll.Database().Name() + "." + mt.Coll.Name()
	}

	mt.Run("unsynced decodes documents", func(mt *mtest.T) {
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(1, ns(mt), mtest.FirstBatch, bson.D{
				{Key: "_id", Value: oid},
				{Key: "number", Value: int32(100)},
				{Key: "status", Value: "completed"},
				{Key: "title", Value: "TracOS Workorder 100"},
				{Key: "description", Value: "Completed maintenance task"},
				{Key: "createdAt", Value: primitive.NewDateTimeFromTime(baseTime)},
				{Key: "deleted", Value: false},
			}),
			mtest.CreateCursorResponse(0, ns(mt), mtest.NextBatch),
		)

		got, err := newStore(mt).Unsynced(context.Background())
		require.NoError(mt, err)
		require.Len(mt, got, 1)
		assert.Equal(mt, schema.DocumentID(oid.Hex()), got[0].ID)
		assert.Equal(mt, int64(100), got[0].Number)
		assert.Equal(mt, schema.StatusCompleted, got[0].Status)
		assert.Nil(mt, got[0].IsSynced)
	})

	mt.Run("unsynced keeps undecodable documents", func(mt *mtest.T) {
		broken := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(1, ns(mt), mtest.FirstBatch,
				bson.D{
					{Key: "_id", Value: broken},
					{Key: "number", Value: int32(7)},
					{Key: "status", Value: "pending"},
					{Key: "createdAt", Value: "garbage"},
				},
				bson.D{
					{Key: "_id", Value: primitive.NewObjectID()},
					{Key: "number", Value: int32(8)},
					{Key: "status", Value: "pending"},
					{Key: "createdAt", Value: primitive.NewDateTimeFromTime(baseTime)},
				},
			),
			mtest.CreateCursorResponse(0, ns(mt), mtest.NextBatch),
		)

		got, err := newStore(mt).Unsynced(context.Background())
		require.NoError(mt, err)
		require.Len(mt, got, 2)

		assert.Equal(mt, int64(7), got[0].Number)
		assert.Equal(mt, schema.DocumentID(broken.Hex()), got[0].ID)
		assert.ErrorIs(mt, got[0].DecodeErr, dates.ErrInvalidDateFormat)
		assert.ErrorIs(mt, got[0].Validate(), dates.ErrInvalidDateFormat)

		assert.Equal(mt, int64(8), got[1].Number)
		assert.NoError(mt, got[1].DecodeErr)
	})

	mt.Run("mark synced", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		err := newStore(mt).MarkSynced(context.Background(), schema.NewDocumentID())
		assert.NoError(mt, err)
	})

	mt.Run("mark synced unknown id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))
		err := newStore(mt).MarkSynced(context.Background(), schema.NewDocumentID())
		assert.NoError(mt, err)
	})

	mt.Run("upsert inserts new number", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch),
			mtest.CreateSuccessResponse(),
		)
		wo := workorder(200, baseTime, boolPtr(false))
		res, err := newStore(mt).Upsert(context.Background(), wo)
		require.NoError(mt, err)
		assert.True(mt, res.Created)
		assert.Equal(mt, wo.ID, res.ID)
	})

	mt.Run("upsert keeps existing identity", func(mt *mtest.T) {
		existing := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bson.D{
				{Key: "_id", Value: existing},
				{Key: "number", Value: int64(200)},
				{Key: "status", Value: "pending"},
			}),
			mtest.CreateSuccessResponse(
				bson.E{Key: "n", Value: 1},
				bson.E{Key: "nModified", Value: 1},
			),
		)
		res, err := newStore(mt).Upsert(context.Background(), workorder(200, baseTime, boolPtr(false)))
		require.NoError(mt, err)
		assert.False(mt, res.Created)
		assert.Equal(mt, schema.DocumentID(existing.Hex()), res.ID)
	})

	mt.Run("get not found", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))
		_, err := newStore(mt).Get(context.Background(), 1)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("disconnect leaves injected client", func(mt *mtest.T) {
		s := newStore(mt)
		require.NoError(mt, s.Disconnect(context.Background()))
		_, err := s.collectionHandle()
		assert.NoError(mt, err)
	})
}

func TestIDFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	got := idFilter(schema.DocumentID(oid.Hex()))
	assert.Equal(t, bson.M{"_id": bson.M{"$in": bson.A{oid, oid.Hex()}}}, got)

	assert.Equal(t, bson.M{"_id": "wo-100"}, idFilter("wo-100"))
}

func TestMongoStore_NotConnected(t *testing.T) {
	s := NewMongoStore("mongodb://localhost:27017", Options{Logger: zerolog.Nop()})
	_, err := s.Unsynced(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, s.Disconnect(context.Background()))
}
