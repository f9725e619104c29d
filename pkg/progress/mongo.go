package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
)

const mongoCollection = "transfer_progress"

type progressDocument struct {
	Key                     string    `bson:"_id"`
	models.TransferProgress `bson:",inline"`
	UpdatedAt               time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per key in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// connectToMongoDB establishes a connection to MongoDB with the given URI
func connectToMongoDB(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetMaxPoolSize(10)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)
	clientOptions.SetCompressors([]string{"snappy"})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	err = client.Ping(ctx, nil)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// OpenMongoStore connects to uri and uses the transfer_progress collection of
// database.
func OpenMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := connectToMongoDB(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(mongoCollection),
	}, nil
}

// NewMongoStore uses an existing collection. Close does not disconnect its
// client.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Load(ctx context.Context, key string) (*models.TransferProgress, error) {
	var doc progressDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.NewTransferProgress(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	p := doc.TransferProgress
	p.Normalize()
	return &p, nil
}

func (s *MongoStore) Save(ctx context.Context, key string, p *models.TransferProgress) error {
	doc := progressDocument{
		Key:              key,
		TransferProgress: *p,
		UpdatedAt:        time.Now().UTC(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}
