package persistence

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
)

const collectionPostQueue = "post_queue"

// MongoQueueArchive keeps a copy of every accepted batch.
type MongoQueueArchive struct {
	collection *mongo.Collection
}

var _ out.QueueArchive = (*MongoQueueArchive)(nil)

func NewMongoQueueArchive(db *mongo.Database) *MongoQueueArchive {
	return &MongoQueueArchive{collection: db.Collection(collectionPostQueue)}
}

type queueDocument struct {
	RunID     string         `bson:"_id"`
	CreatedAt time.Time      `bson:"created_at"`
	Count     int            `bson:"count"`
	Posts     []postDocument `bson:"posts"`
}

type postDocument struct {
	Category     string   `bson:"category"`
	OpeningStyle string   `bson:"opening_style"`
	Text         string   `bson:"text"`
	Language     string   `bson:"language"`
	Tags         []string `bson:"tags"`
}

func newQueueDocument(batch out.QueueBatch) queueDocument {
	doc := queueDocument{
		RunID:     batch.RunID,
		CreatedAt: batch.CreatedAt.UTC(),
		Count:     len(batch.Queue),
		Posts:     make([]postDocument, len(batch.Queue)),
	}
	for i, c := range batch.Queue {
		doc.Posts[i] = postDocument{
			Category:     c.Category,
			OpeningStyle: string(c.OpeningStyle),
			Text:         c.Text,
			Language:     c.Language,
			Tags:         append([]string{}, c.Tags...),
		}
	}
	return doc
}

// EnsureIndexes creates the created_at index.
func (a *MongoQueueArchive) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: -1}},
		Options: options.Index().SetName("created_at_desc"),
	})
	if err != nil {
		return apperr.StorageError("create post_queue index", err)
	}
	return nil
}

// Archive upserts by run id so a retried archive call does not duplicate.
func (a *MongoQueueArchive) Archive(ctx context.Context, batch out.QueueBatch) error {
	doc := newQueueDocument(batch)
	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.RunID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return apperr.StorageError("archive queue", err)
	}
	return nil
}
