package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// checkpointDoc is the one-document-per-thread layout. ReplaceOne with
// upsert gives document-level last-writer-wins atomicity.
type checkpointDoc struct {
	ThreadID  string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	WrittenAt time.Time `bson:"written_at"`
}

// MongoStore is a document-store Store.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore connects to MongoDB and selects the checkpoint collection.
func NewMongoStore(cfg Config, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := cfg.Mongo.Database
	if dbName == "" {
		dbName = "erpagent"
	}
	collName := cfg.Mongo.Collection
	if collName == "" {
		collName = "checkpoints"
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
		logger: logger.With(zap.String("component", "mongo_checkpoint_store")),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, threadID string) (*types.ExecutionState, error) {
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	var doc checkpointDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": threadID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	state, uerr := types.UnmarshalExecutionState(doc.Data)
	if uerr != nil {
		s.logger.Warn("corrupt checkpoint, treating as new thread",
			zap.String("thread_id", threadID),
			zap.Error(uerr),
		)
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *MongoStore) Put(ctx context.Context, state *types.ExecutionState) error {
	if state == nil || state.ThreadID == "" {
		return ErrInvalidThread
	}

	data, err := state.Marshal()
	if err != nil {
		return err
	}

	doc := checkpointDoc{ThreadID: state.ThreadID, Data: data, WrittenAt: time.Now()}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": state.ThreadID}, doc,
		options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Delete(ctx context.Context, threadID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": threadID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

var _ Store = (*MongoStore)(nil)
