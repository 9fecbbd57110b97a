// Package catalog persists the file inventory and classification results.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ferret-scan/ferret/pkg/models"
	"github.com/ferret-scan/ferret/pkg/store"
)

// Catalog stores scanned files and their classification results through a
// shared store pool.
type Catalog struct {
	pool *store.Pool
}

const createTables = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	host TEXT,
	extension TEXT,
	path TEXT UNIQUE NOT NULL,
	size INTEGER NOT NULL,
	owner TEXT,
	fast_hash TEXT,
	attributes TEXT,
	signature TEXT,
	last_modified DATETIME,
	status TEXT NOT NULL DEFAULT 'pending',
	exclusion_reason TEXT,
	priority_score INTEGER NOT NULL DEFAULT 0,
	special_flags TEXT,
	processed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_files_status ON files(status, priority_score DESC);

CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL REFERENCES files(id),
	task_id TEXT NOT NULL,
	security_analysis TEXT,
	gdpr_analysis TEXT,
	finance_analysis TEXT,
	legal_analysis TEXT,
	confidence INTEGER,
	processing_ms INTEGER,
	tokens_used INTEGER,
	resume TEXT,
	raw_response TEXT,
	from_cache INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_file ON results(file_id);
`

// New creates a Catalog on the given pool and runs auto-migration.
func New(ctx context.Context, pool *store.Pool) (*Catalog, error) {
	c := &Catalog{pool: pool}
	err := pool.WithWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(createTables)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return c, nil
}

// ImportFiles inserts file records, skipping paths already present.
// Returns the number of newly imported rows.
func (c *Catalog) ImportFiles(ctx context.Context, files []models.FileRecord) (int, error) {
	imported := 0
	err := c.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`INSERT OR IGNORE INTO files
				(name, host, extension, path, size, owner, fast_hash, attributes, signature, last_modified, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare import: %w", err)
		}
		defer stmt.Close()

		for _, f := range files {
			res, err := stmt.Exec(
				f.Name, f.Host, f.Extension, f.Path, f.Size, f.Owner,
				f.FastHash, f.Attributes, f.Signature, f.LastModified.UTC(),
				models.StatusPending,
			)
			if err != nil {
				return fmt.Errorf("import %s: %w", f.Path, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				imported++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}

// Pending returns pending files at or above the priority threshold,
// highest priority first.
func (c *Catalog) Pending(ctx context.Context, limit, priorityThreshold int) ([]models.FileRecord, error) {
	var files []models.FileRecord
	err := c.pool.WithRead(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id, name, host, extension, path, size, owner, fast_hash, attributes, signature,
				last_modified, status, COALESCE(exclusion_reason, ''), priority_score, COALESCE(special_flags, '')
			 FROM files
			 WHERE status = ? AND priority_score >= ?
			 ORDER BY priority_score DESC, id ASC
			 LIMIT ?`,
			models.StatusPending, priorityThreshold, limit,
		)
		if err != nil {
			return fmt.Errorf("query pending: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var f models.FileRecord
			if err := rows.Scan(
				&f.ID, &f.Name, &f.Host, &f.Extension, &f.Path, &f.Size, &f.Owner,
				&f.FastHash, &f.Attributes, &f.Signature, &f.LastModified,
				&f.Status, &f.ExclusionReason, &f.PriorityScore, &f.SpecialFlags,
			); err != nil {
				return fmt.Errorf("scan pending file: %w", err)
			}
			files = append(files, f)
		}
		return rows.Err()
	})
	return files, err
}

// SetPriority records the computed priority score and special flags.
func (c *Catalog) SetPriority(ctx context.Context, fileID int64, score int, flags string) error {
	return c.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE files SET priority_score = ?, special_flags = ? WHERE id = ?`,
			score, flags, fileID,
		)
		if err != nil {
			return fmt.Errorf("set priority: %w", err)
		}
		return nil
	})
}

// UpdateStatus moves a file to a new status; reason is stored for
// excluded and errored files.
func (c *Catalog) UpdateStatus(ctx context.Context, fileID int64, status, reason string) error {
	return c.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE files SET status = ?, exclusion_reason = ?, processed_at = ? WHERE id = ?`,
			status, reason, time.Now().UTC(), fileID,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

// StoreResult persists one classification and marks the file completed,
// inside a single write transaction.
func (c *Catalog) StoreResult(ctx context.Context, fileID int64, result *models.Classification, fromCache bool) error {
	return c.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO results
				(file_id, task_id, security_analysis, gdpr_analysis, finance_analysis, legal_analysis,
				 confidence, processing_ms, tokens_used, resume, raw_response, from_cache, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, result.TaskID,
			rawOrNull(result.Security), rawOrNull(result.GDPR),
			rawOrNull(result.Finance), rawOrNull(result.Legal),
			result.Confidence, result.ProcessingMs, result.TokensUsed,
			result.Resume, result.RawResponse, fromCache, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("store result: %w", err)
		}

		_, err = tx.Exec(
			`UPDATE files SET status = ?, processed_at = ? WHERE id = ?`,
			models.StatusCompleted, time.Now().UTC(), fileID,
		)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return nil
	})
}

// ResultForFile returns the most recent classification stored for a file.
func (c *Catalog) ResultForFile(ctx context.Context, fileID int64) (*models.Classification, error) {
	var result models.Classification
	var security, gdpr, finance, legal sql.NullString
	err := c.pool.WithRead(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			`SELECT task_id, security_analysis, gdpr_analysis, finance_analysis, legal_analysis,
				confidence, processing_ms, tokens_used, COALESCE(resume, ''), COALESCE(raw_response, '')
			 FROM results WHERE file_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
			fileID,
		).Scan(
			&result.TaskID, &security, &gdpr, &finance, &legal,
			&result.Confidence, &result.ProcessingMs, &result.TokensUsed,
			&result.Resume, &result.RawResponse,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("result for file %d: %w", fileID, err)
	}
	result.Security = rawFromNull(security)
	result.GDPR = rawFromNull(gdpr)
	result.Finance = rawFromNull(finance)
	result.Legal = rawFromNull(legal)
	return &result, nil
}

// Stats summarizes catalog progress.
func (c *Catalog) Stats(ctx context.Context) (models.CatalogStats, error) {
	var stats models.CatalogStats
	err := c.pool.WithRead(ctx, func(db *sql.DB) error {
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*),
				COALESCE(SUM(status = ?), 0),
				COALESCE(SUM(status = ?), 0),
				COALESCE(SUM(status = ?), 0),
				COALESCE(SUM(status = ?), 0)
			 FROM files`,
			models.StatusPending, models.StatusExcluded, models.StatusCompleted, models.StatusError,
		).Scan(&stats.Total, &stats.Pending, &stats.Excluded, &stats.Completed, &stats.Errors)
		if err != nil {
			return fmt.Errorf("catalog stats: %w", err)
		}
		return db.QueryRowContext(ctx,
			`SELECT COALESCE(AVG(processing_ms), 0) FROM results`,
		).Scan(&stats.AvgProcessingMs)
	})
	return stats, err
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawFromNull(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}
