package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection is the subset of [mongo.Collection] used by [Mongo].
type MongoCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Mongo stores the artifact as one document in a MongoDB collection, keyed
// by the artifact name.
type Mongo struct {
	coll   MongoCollection
	id     string
	client *mongo.Client
	now    func() time.Time
}

// MongoOptions configures OpenMongo.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	Name       string
}

type mongoArtifact struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// OpenMongo connects to MongoDB and returns a backend bound to opts.Name.
// Close disconnects the client.
func OpenMongo(ctx context.Context, opts MongoOptions) (*Mongo, error) {
	if opts.URI == "" || opts.Database == "" || opts.Collection == "" || opts.Name == "" {
		return nil, errors.New("storage: mongo uri, database, collection and name are required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("storage: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage: ping mongo: %w", err)
	}

	m := NewMongo(client.Database(opts.Database).Collection(opts.Collection), opts.Name)
	m.client = client
	return m, nil
}

// NewMongo returns a backend on an existing collection.
func NewMongo(coll MongoCollection, name string) *Mongo {
	return &Mongo{coll: coll, id: name, now: time.Now}
}

func (m *Mongo) Read(ctx context.Context) ([]byte, error) {
	var doc mongoArtifact
	err := m.coll.FindOne(ctx, bson.M{"_id": m.id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && doc.ID == "") {
		return nil, fmt.Errorf("storage: read mongo document %s: %w", m.id, ErrNotExist)
	}
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (m *Mongo) Write(ctx context.Context, data []byte) error {
	return m.replace(ctx, m.id, data)
}

func (m *Mongo) Delete(ctx context.Context) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": m.id})
	return err
}

func (m *Mongo) Archive(ctx context.Context, data []byte) error {
	return m.replace(ctx, m.id+CorruptSuffix, data)
}

func (m *Mongo) replace(ctx context.Context, id string, data []byte) error {
	doc := mongoArtifact{ID: id, Data: data, UpdatedAt: m.now().UTC()}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

// Close disconnects the client opened by OpenMongo. It is a no-op for
// backends built with NewMongo.
func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(context.Background())
}

var (
	_ Backend  = (*Mongo)(nil)
	_ Archiver = (*Mongo)(nil)
)
