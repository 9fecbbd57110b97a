package catalog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ferret-scan/ferret/pkg/models"
	"github.com/ferret-scan/ferret/pkg/store"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog_test.db")
	pool, err := store.Open(path, 2, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	c, err := New(context.Background(), pool)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func sampleFiles() []models.FileRecord {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return []models.FileRecord{
		{Name: "a.docx", Path: `\\fs\docs\a.docx`, Extension: ".docx", Size: 1000, FastHash: "hash-a", LastModified: now},
		{Name: "b.xlsx", Path: `\\fs\docs\b.xlsx`, Extension: ".xlsx", Size: 2000, FastHash: "hash-b", LastModified: now},
		{Name: "c.txt", Path: `\\fs\docs\c.txt`, Extension: ".txt", Size: 300, FastHash: "hash-c", LastModified: now},
	}
}

func TestImportAndPending(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	n, err := c.ImportFiles(ctx, sampleFiles())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 imported, got %d", n)
	}

	// Duplicate paths are ignored on re-import.
	n, err = c.ImportFiles(ctx, sampleFiles())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 re-imported, got %d", n)
	}

	pending, err := c.Pending(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if pending[0].FastHash == "" {
		t.Error("fast hash not round-tripped")
	}
}

func TestPendingOrderedByPriority(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if _, err := c.ImportFiles(ctx, sampleFiles()); err != nil {
		t.Fatal(err)
	}
	pending, _ := c.Pending(ctx, 10, 0)
	if err := c.SetPriority(ctx, pending[2].ID, 90, "hidden_file"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPriority(ctx, pending[0].ID, 40, ""); err != nil {
		t.Fatal(err)
	}

	ordered, err := c.Pending(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ordered[0].ID != pending[2].ID {
		t.Errorf("expected highest priority first, got id %d", ordered[0].ID)
	}

	// Threshold filters low scores out.
	high, err := c.Pending(ctx, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(high) != 1 || high[0].ID != pending[2].ID {
		t.Errorf("expected only the high-priority file, got %v", high)
	}
}

func TestStoreResultMarksCompleted(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if _, err := c.ImportFiles(ctx, sampleFiles()); err != nil {
		t.Fatal(err)
	}
	pending, _ := c.Pending(ctx, 1, 0)
	fileID := pending[0].ID

	result := &models.Classification{
		TaskID:       "task-7",
		Security:     json.RawMessage(`{"level":"high"}`),
		Confidence:   92,
		ProcessingMs: 1500,
		TokensUsed:   800,
		Resume:       "payroll spreadsheet",
	}
	if err := c.StoreResult(ctx, fileID, result, false); err != nil {
		t.Fatal(err)
	}

	got, err := c.ResultForFile(ctx, fileID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TaskID != "task-7" || got.Confidence != 92 {
		t.Errorf("unexpected result: %+v", got)
	}
	if string(got.Security) != `{"level":"high"}` {
		t.Errorf("security analysis not round-tripped: %s", got.Security)
	}
	if got.GDPR != nil {
		t.Errorf("expected empty gdpr analysis, got %s", got.GDPR)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Pending != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.AvgProcessingMs != 1500 {
		t.Errorf("expected avg 1500ms, got %f", stats.AvgProcessingMs)
	}
}

func TestUpdateStatus(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if _, err := c.ImportFiles(ctx, sampleFiles()); err != nil {
		t.Fatal(err)
	}
	pending, _ := c.Pending(ctx, 10, 0)

	if err := c.UpdateStatus(ctx, pending[0].ID, models.StatusExcluded, "blocked_extension"); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateStatus(ctx, pending[1].ID, models.StatusError, "remote: task failed"); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Excluded != 1 || stats.Errors != 1 || stats.Pending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
