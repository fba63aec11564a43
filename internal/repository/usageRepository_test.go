package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rightly/dsar-gateway/internal/storage"
	"github.com/rightly/dsar-gateway/internal/usage"
)

func newTestSQLite(t *testing.T) *storage.SQLite {
	t.Helper()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUsageRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, err := NewUsageRepository(newTestSQLite(t))
	if err != nil {
		t.Fatal(err)
	}

	got, err := repo.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty load = %+v, %v; want nil, nil", got, err)
	}

	first := usage.Counters{APICalls: 12, Exports: 1, TeamMembers: 2, Storage: 3.5, Reports: 0}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := first
	second.APICalls = 13
	if err := repo.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err = repo.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != second {
		t.Errorf("loaded = %+v, want %+v", got, second)
	}
}

func TestUsageRepository_BacksTracker(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	repo, err := NewUsageRepository(db)
	if err != nil {
		t.Fatal(err)
	}

	tracker := usage.NewTracker(usage.WithStore(repo))
	tracker.TrackReport()
	tracker.TrackTeamMember()
	if err := tracker.Save(ctx); err != nil {
		t.Fatal(err)
	}

	// Schema creation is idempotent
	again, err := NewUsageRepository(db)
	if err != nil {
		t.Fatal(err)
	}
	restored := usage.NewTracker(usage.WithStore(again))
	if err := restored.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if got := restored.Metrics().Current; got.Reports != 1 || got.TeamMembers != 2 {
		t.Errorf("restored = %+v", got)
	}
}
