package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
)

var _ ports.DownloadRegistry = (*DownloadRegistry)(nil)

func encode(t *testing.T, rec domain.DownloadRecord) string {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestDecodeRecords(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := map[string]string{
		"a":    encode(t, domain.DownloadRecord{MediaID: "a", Status: domain.DownloadActive, UpdatedAt: now}),
		"b":    encode(t, domain.DownloadRecord{MediaID: "b", Status: domain.DownloadCompleted, LocalFile: "/b.mkv", UpdatedAt: now.Add(time.Hour)}),
		"c":    encode(t, domain.DownloadRecord{Status: domain.DownloadPaused, UpdatedAt: now.Add(2 * time.Hour)}),
		"junk": "{not json",
	}

	all, skipped := decodeRecords(items, func(domain.DownloadStatus) bool { return true })
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if len(all) != 3 || all[0].MediaID != "c" || all[2].MediaID != "a" {
		t.Fatalf("records = %+v", all)
	}

	completed, _ := decodeRecords(items, func(s domain.DownloadStatus) bool { return s == domain.DownloadCompleted })
	if len(completed) != 1 || completed[0].LocalFile != "/b.mkv" {
		t.Fatalf("completed = %+v", completed)
	}
}

func TestNewDownloadRegistryDefaultKey(t *testing.T) {
	r := NewDownloadRegistry(nil, "  ", nil)
	if r.key != defaultRegistryKey {
		t.Fatalf("key = %q", r.key)
	}
}

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegrationRegistry(t *testing.T) {
	client := testClient(t)
	key := fmt.Sprintf("popcorn:test:%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = client.Del(context.Background(), key).Err() })

	reg := NewDownloadRegistry(client, key, nil)
	ctx := context.Background()

	if recs, err := reg.CompletedDownloads(ctx); err != nil || len(recs) != 0 {
		t.Fatalf("empty registry = %+v, %v", recs, err)
	}
	if err := reg.Upsert(ctx, domain.DownloadRecord{MediaID: "m1", Status: domain.DownloadCompleted, LocalFile: "/m1.mkv", Progress: 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := reg.Upsert(ctx, domain.DownloadRecord{MediaID: "m2", Status: domain.DownloadActive, Progress: 0.4}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := reg.Upsert(ctx, domain.DownloadRecord{Status: domain.DownloadActive}); err == nil {
		t.Fatal("invalid record should be rejected")
	}

	completed, err := reg.CompletedDownloads(ctx)
	if err != nil || len(completed) != 1 || completed[0].MediaID != "m1" {
		t.Fatalf("CompletedDownloads = %+v, %v", completed, err)
	}
	active, err := reg.ActiveDownloads(ctx)
	if err != nil || len(active) != 1 || active[0].MediaID != "m2" {
		t.Fatalf("ActiveDownloads = %+v, %v", active, err)
	}
	if err := reg.Delete(ctx, "m2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := reg.Delete(ctx, "m2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second Delete = %v", err)
	}
}
