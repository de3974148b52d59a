package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"), BackendConfig{})
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func sampleRecord(model string, failed bool, at time.Time) Record {
	return Record{
		AccountID:    "main",
		ProjectName:  "proj-1",
		KeyName:      "main/proj-1",
		Model:        model,
		BatchID:      "batch-1",
		ChunkName:    "part_1_lines_1-100",
		Outcome:      "success",
		RequestedAt:  at,
		Failed:       failed,
		PromptTokens: 120,
		LinesIn:      100,
		LinesOut:     100,
		DurationMs:   900,
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	b := openSQLite(t)
	ctx := context.Background()
	now := time.Now()

	b.Enqueue(sampleRecord("gemini-2.5-flash", false, now))
	b.Enqueue(sampleRecord("gemini-2.5-flash", false, now))
	b.Enqueue(sampleRecord("gemini-2.5-pro", true, now))
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats, err := b.QueryGlobalStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if stats.TotalRequests != 3 || stats.SuccessCount != 2 || stats.FailureCount != 1 {
		t.Errorf("global stats = %+v", stats)
	}
	if stats.PromptTokens != 360 || stats.LinesTranslated != 300 {
		t.Errorf("sums = tokens %d / lines %d", stats.PromptTokens, stats.LinesTranslated)
	}
}

func TestSQLiteModelAndAccountStats(t *testing.T) {
	b := openSQLite(t)
	ctx := context.Background()
	now := time.Now()

	b.Enqueue(sampleRecord("gemini-2.5-flash", false, now))
	rec := sampleRecord("gemini-2.5-pro", false, now)
	rec.AccountID = "backup"
	b.Enqueue(rec)
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	models, err := b.QueryModelStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryModelStats: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("model rows = %d, want 2", len(models))
	}

	accounts, err := b.QueryAccountStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryAccountStats: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("account rows = %d, want 2", len(accounts))
	}
	for _, a := range accounts {
		if a.Requests != 1 || a.AvgLatencyMs != 900 {
			t.Errorf("account stats = %+v", a)
		}
	}
}

func TestSQLiteCleanup(t *testing.T) {
	b := openSQLite(t)
	ctx := context.Background()
	now := time.Now()

	b.Enqueue(sampleRecord("m", false, now.AddDate(0, 0, -60)))
	b.Enqueue(sampleRecord("m", false, now))
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	deleted, err := b.Cleanup(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	stats, err := b.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("remaining rows = %d, want 1", stats.TotalRequests)
	}
}

func TestSQLiteStopFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	b, err := NewSQLiteBackend(path, BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}

	b.Enqueue(sampleRecord("m", false, time.Now()))
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	reopened, err := NewSQLiteBackend(path, BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.db.Close()

	stats, err := reopened.QueryGlobalStats(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("rows after stop = %d, want 1 (pending record lost)", stats.TotalRequests)
	}
}
