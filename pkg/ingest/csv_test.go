package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ferret-scan/ferret/pkg/catalog"
	"github.com/ferret-scan/ferret/pkg/store"
)

const testHeader = "Name,Host,Extension,UNCDirectory,FileSize,Owner,FastHash,LastWriteTime,FileAttributes,FileSignature\n"

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest_test.db")
	pool, err := store.Open(path, 2, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	c, err := catalog.New(context.Background(), pool)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	cat := newTestCatalog(t)
	csvPath := writeCSV(t, testHeader+
		`a.docx,FS01,.docx,\\fs01\docs,1000,alice,hash-a,2026-01-15 10:30:00,Archive,a.docx`+"\n"+
		`b.xlsx,FS01,.xlsx,\\fs01\finance,2000,bob,hash-b,2026-01-16T08:00:00,"Hidden, Archive",b.xlsx`+"\n")

	result, err := New(10, nil).Parse(context.Background(), csvPath, cat)
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 2 {
		t.Fatalf("expected 2 imported, got %d", result.Imported)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected row errors: %v", result.Errors)
	}

	pending, err := cat.Pending(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending files, got %d", len(pending))
	}
	if pending[0].Path != `\\fs01\docs\a.docx` && pending[1].Path != `\\fs01\docs\a.docx` {
		t.Errorf("UNC path not assembled: %+v", pending)
	}
}

func TestParseMissingColumns(t *testing.T) {
	cat := newTestCatalog(t)
	csvPath := writeCSV(t, "Name,Host\nx,y\n")

	if _, err := New(10, nil).Parse(context.Background(), csvPath, cat); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestParseReportsBadRows(t *testing.T) {
	cat := newTestCatalog(t)
	csvPath := writeCSV(t, testHeader+
		`a.docx,FS01,.docx,\\fs01\docs,not-a-number,alice,hash-a,2026-01-15 10:30:00,,`+"\n"+
		`b.xlsx,FS01,.xlsx,\\fs01\docs,2000,bob,hash-b,2026-01-16 08:00:00,,`+"\n")

	result, err := New(10, nil).Parse(context.Background(), csvPath, cat)
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 1 {
		t.Errorf("expected 1 imported, got %d", result.Imported)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 row error, got %v", result.Errors)
	}
}

func TestParseChunks(t *testing.T) {
	cat := newTestCatalog(t)

	content := testHeader
	for i := 0; i < 25; i++ {
		content += `f` + string(rune('a'+i%26)) + string(rune('0'+i/10)) + string(rune('0'+i%10)) +
			`.txt,FS01,.txt,\\fs01\bulk,100,carol,hash-` + string(rune('a'+i%26)) + string(rune('0'+i)) +
			`,2026-01-15 10:30:00,,` + "\n"
	}
	csvPath := writeCSV(t, content)

	result, err := New(7, nil).Parse(context.Background(), csvPath, cat)
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 25 {
		t.Errorf("expected 25 imported across chunks, got %d", result.Imported)
	}
}
