package storage_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/roomcast/internal/storage"
)

// fakeCollection stores documents by _id as raw BSON.
type fakeCollection struct {
	mu   sync.Mutex
	docs map[string]bson.Raw
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]bson.Raw)}
}

func idOf(filter interface{}) string {
	return filter.(bson.M)["_id"].(string)
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[idOf(filter)]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (f *fakeCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, _ ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	raw, err := bson.Marshal(replacement)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[idOf(filter)] = raw
	return &mongo.UpdateResult{MatchedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, idOf(filter))
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func (f *fakeCollection) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

func TestMongo_ReadMissing(t *testing.T) {
	m := storage.NewMongo(newFakeCollection(), "retained")

	_, err := m.Read(ctx)
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

func TestMongo_WriteReadDelete(t *testing.T) {
	coll := newFakeCollection()
	m := storage.NewMongo(coll, "retained")

	require.NoError(t, m.Write(ctx, []byte("snapshot")))
	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), got)

	require.NoError(t, m.Archive(ctx, []byte("broken")))
	assert.True(t, coll.has("retained"+storage.CorruptSuffix))

	require.NoError(t, m.Delete(ctx))
	_, err = m.Read(ctx)
	assert.ErrorIs(t, err, storage.ErrNotExist)
	assert.NoError(t, m.Close())
}

func TestOpenMongo_RequiresSettings(t *testing.T) {
	_, err := storage.OpenMongo(ctx, storage.MongoOptions{URI: "mongodb://localhost"})
	assert.Error(t, err)
}
