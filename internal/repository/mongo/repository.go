package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"popcornstream/internal/domain"
)

// DownloadRepository is the Mongo backed download registry. Records are
// keyed by the stable media id.
type DownloadRepository struct {
	collection *mongo.Collection
}

type downloadDoc struct {
	ID        string  `bson:"_id"`
	Title     string  `bson:"title"`
	Status    string  `bson:"status"`
	LocalFile string  `bson:"localFile"`
	LocalDir  string  `bson:"localDir"`
	Progress  float64 `bson:"progress"`
	UpdatedAt int64   `bson:"updatedAt"`
}

func NewDownloadRepository(client *mongo.Client, dbName, collectionName string) *DownloadRepository {
	return &DownloadRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *DownloadRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *DownloadRepository) ActiveDownloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.find(ctx, bson.M{"status": bson.M{"$in": []string{
		string(domain.DownloadActive),
		string(domain.DownloadPaused),
	}}})
}

func (r *DownloadRepository) CompletedDownloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.find(ctx, bson.M{"status": string(domain.DownloadCompleted)})
}

// List returns every record, most recently updated first.
func (r *DownloadRepository) List(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.find(ctx, bson.M{})
}

func (r *DownloadRepository) find(ctx context.Context, query bson.M) ([]domain.DownloadRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []downloadDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func (r *DownloadRepository) Get(ctx context.Context, id domain.MediaID) (domain.DownloadRecord, error) {
	var doc downloadDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.DownloadRecord{}, domain.ErrNotFound
		}
		return domain.DownloadRecord{}, err
	}
	return fromDoc(doc), nil
}

func (r *DownloadRepository) Upsert(ctx context.Context, rec domain.DownloadRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	doc := toDoc(rec)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *DownloadRepository) Delete(ctx context.Context, id domain.MediaID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toDoc(rec domain.DownloadRecord) downloadDoc {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return downloadDoc{
		ID:        string(rec.MediaID),
		Title:     rec.Title,
		Status:    string(rec.Status),
		LocalFile: rec.LocalFile,
		LocalDir:  rec.LocalDir,
		Progress:  rec.Progress,
		UpdatedAt: updated.UTC().Unix(),
	}
}

func fromDoc(doc downloadDoc) domain.DownloadRecord {
	return domain.DownloadRecord{
		MediaID:   domain.MediaID(doc.ID),
		Title:     doc.Title,
		Status:    domain.DownloadStatus(doc.Status),
		LocalFile: doc.LocalFile,
		LocalDir:  doc.LocalDir,
		Progress:  doc.Progress,
		UpdatedAt: timeFromUnix(doc.UpdatedAt),
	}
}

func fromDocs(docs []downloadDoc) []domain.DownloadRecord {
	out := make([]domain.DownloadRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromDoc(doc))
	}
	return out
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}
