package usecase

import (
	"context"
	"errors"
	"testing"

	"popcornstream/internal/domain"
)

func TestFindExisting(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{
		active: []domain.DownloadRecord{
			{MediaID: "a", Status: domain.DownloadActive, LocalFile: "/dl/a.part"},
			{MediaID: "b", Status: domain.DownloadPaused, LocalFile: "/dl/b.part"},
		},
		completed: []domain.DownloadRecord{
			{MediaID: "a", Status: domain.DownloadCompleted, LocalFile: "/dl/a.mkv"},
		},
	}

	got, err := FindExisting(ctx, reg, "a")
	if err != nil || got == nil || got.Kind != domain.AssetCompleted || got.Record.LocalFile != "/dl/a.mkv" {
		t.Fatalf("a = %+v, %v", got, err)
	}
	got, err = FindExisting(ctx, reg, "b")
	if err != nil || got == nil || got.Kind != domain.AssetInProgress {
		t.Fatalf("b = %+v, %v", got, err)
	}
	got, err = FindExisting(ctx, reg, "c")
	if err != nil || got != nil {
		t.Fatalf("c = %+v, %v", got, err)
	}
	if got, err := FindExisting(ctx, nil, "a"); got != nil || err != nil {
		t.Fatalf("nil registry = %+v, %v", got, err)
	}
}

func TestFindExistingSkipsRecordsWithoutFile(t *testing.T) {
	reg := &fakeRegistry{
		active: []domain.DownloadRecord{
			{MediaID: "a", Status: domain.DownloadActive, Progress: 0.01},
			{MediaID: "b", Status: domain.DownloadActive, LocalFile: "/dl/b.part"},
		},
		completed: []domain.DownloadRecord{
			{MediaID: "b", Status: domain.DownloadCompleted},
		},
	}

	got, err := FindExisting(context.Background(), reg, "a")
	if err != nil || got != nil {
		t.Fatalf("a = %+v, %v", got, err)
	}
	got, err = FindExisting(context.Background(), reg, "b")
	if err != nil || got == nil || got.Kind != domain.AssetInProgress || got.Record.LocalFile != "/dl/b.part" {
		t.Fatalf("b = %+v, %v", got, err)
	}
}

func TestFindExistingRegistryError(t *testing.T) {
	_, err := FindExisting(context.Background(), &fakeRegistry{err: errBoom}, "a")
	if !errors.Is(err, ErrRepository) {
		t.Fatalf("error = %v", err)
	}
}
