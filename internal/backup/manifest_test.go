package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerpart/ledgerpart/pkg/types"
)

func openTestManifest(t *testing.T) *SQLiteManifest {
	t.Helper()
	m, err := NewSQLiteManifest(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatalf("failed to open manifest: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManifestRegisterAndList(t *testing.T) {
	m := openTestManifest(t)
	ctx := context.Background()

	first := types.BackupInfo{
		ID:        "b1",
		Path:      "/backups/a.dump",
		SizeBytes: 1024,
		Checksum:  "00ff",
		CreatedAt: time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC),
	}
	second := types.BackupInfo{
		ID:        "b2",
		Path:      "/backups/b.dump",
		SizeBytes: 2048,
		Checksum:  "11aa",
		CreatedAt: time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC),
	}
	for _, info := range []types.BackupInfo{first, second} {
		if err := m.Register(ctx, info); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	backups, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(backups))
	}
	if backups[0].ID != "b2" {
		t.Errorf("expected newest first, got %s", backups[0].ID)
	}
	if backups[1].SizeBytes != 1024 || backups[1].Checksum != "00ff" {
		t.Errorf("record round-trip mismatch: %+v", backups[1])
	}
}

func TestManifestLatestCreatedAt(t *testing.T) {
	m := openTestManifest(t)
	ctx := context.Background()

	_, ok, err := m.LatestCreatedAt(ctx)
	if err != nil {
		t.Fatalf("LatestCreatedAt failed: %v", err)
	}
	if ok {
		t.Error("empty manifest must report no latest backup")
	}

	created := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	if err := m.Register(ctx, types.BackupInfo{ID: "b1", Path: "/b.dump", CreatedAt: created}); err != nil {
		t.Fatal(err)
	}

	latest, ok, err := m.LatestCreatedAt(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a latest backup, ok=%v err=%v", ok, err)
	}
	if !latest.Equal(created) {
		t.Errorf("latest = %s, want %s", latest, created)
	}
}

func TestManifestRemoveAndReplicated(t *testing.T) {
	m := openTestManifest(t)
	ctx := context.Background()

	if err := m.Register(ctx, types.BackupInfo{ID: "b1", Path: "/b.dump", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkReplicated(ctx, "b1"); err != nil {
		t.Fatalf("MarkReplicated failed: %v", err)
	}
	if err := m.Remove(ctx, "b1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	backups, err := m.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 0 {
		t.Errorf("expected empty manifest after remove, got %d", len(backups))
	}
}
