package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"popcornstream/internal/domain"
)

type watchProgressDoc struct {
	ID        string  `bson:"_id"`
	MediaID   string  `bson:"mediaId"`
	Kind      string  `bson:"kind"`
	Fraction  float64 `bson:"fraction"`
	UpdatedAt int64   `bson:"updatedAt"`
}

// WatchProgressRepository stores the last playback position per media item.
type WatchProgressRepository struct {
	collection *mongo.Collection
}

func NewWatchProgressRepository(client *mongo.Client, dbName, collectionName string) *WatchProgressRepository {
	return &WatchProgressRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func watchDocID(kind domain.MediaKind, id domain.MediaID) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

func (r *WatchProgressRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: -1}},
	})
	return err
}

func (r *WatchProgressRepository) Upsert(ctx context.Context, p domain.WatchProgress) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	update := bson.M{
		"$set": bson.M{
			"mediaId":   string(p.MediaID),
			"kind":      string(p.Kind),
			"fraction":  p.Fraction,
			"updatedAt": updated.UTC().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": watchDocID(p.Kind, p.MediaID)},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *WatchProgressRepository) Get(ctx context.Context, kind domain.MediaKind, id domain.MediaID) (domain.WatchProgress, error) {
	var doc watchProgressDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": watchDocID(kind, id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.WatchProgress{}, domain.ErrNotFound
		}
		return domain.WatchProgress{}, err
	}
	return watchDocToProgress(doc), nil
}

func watchDocToProgress(doc watchProgressDoc) domain.WatchProgress {
	return domain.WatchProgress{
		MediaID:   domain.MediaID(doc.MediaID),
		Kind:      domain.MediaKind(doc.Kind),
		Fraction:  doc.Fraction,
		UpdatedAt: time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}
