package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"popcornstream/internal/domain"
)

const defaultRegistryKey = "popcorn:downloads:v1"

// DownloadRegistry keeps download records as JSON values in one Redis hash,
// one field per media id.
type DownloadRegistry struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

func NewDownloadRegistry(client redis.UniversalClient, key string, logger *slog.Logger) *DownloadRegistry {
	storeKey := strings.TrimSpace(key)
	if storeKey == "" {
		storeKey = defaultRegistryKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadRegistry{client: client, key: storeKey, logger: logger}
}

func (r *DownloadRegistry) ActiveDownloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.load(ctx, func(s domain.DownloadStatus) bool {
		return s == domain.DownloadActive || s == domain.DownloadPaused
	})
}

func (r *DownloadRegistry) CompletedDownloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.load(ctx, func(s domain.DownloadStatus) bool {
		return s == domain.DownloadCompleted
	})
}

func (r *DownloadRegistry) List(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.load(ctx, func(domain.DownloadStatus) bool { return true })
}

func (r *DownloadRegistry) Upsert(ctx context.Context, rec domain.DownloadRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key, string(rec.MediaID), encoded).Err()
}

func (r *DownloadRegistry) Delete(ctx context.Context, id domain.MediaID) error {
	n, err := r.client.HDel(ctx, r.key, string(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DownloadRegistry) load(ctx context.Context, keep func(domain.DownloadStatus) bool) ([]domain.DownloadRecord, error) {
	items, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	records, skipped := decodeRecords(items, keep)
	if skipped > 0 {
		r.logger.Warn("redis registry: skipped undecodable records",
			slog.String("key", r.key),
			slog.Int("skipped", skipped),
		)
	}
	return records, nil
}

// decodeRecords parses hash values, newest first. Corrupt entries are
// counted and skipped.
func decodeRecords(items map[string]string, keep func(domain.DownloadStatus) bool) ([]domain.DownloadRecord, int) {
	out := make([]domain.DownloadRecord, 0, len(items))
	skipped := 0
	for field, encoded := range items {
		var rec domain.DownloadRecord
		if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
			skipped++
			continue
		}
		if rec.MediaID == "" {
			rec.MediaID = domain.MediaID(field)
		}
		if keep(rec.Status) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].MediaID < out[j].MediaID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, skipped
}
