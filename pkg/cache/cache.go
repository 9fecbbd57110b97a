// Package cache is the persistent classification result cache.
//
// Results are keyed by content fingerprint, file size and prompt template
// version, so a template change naturally stops matching old entries
// without a destructive migration. Expiration is lazy: an expired row is
// treated as absent by Lookup even if no sweep has run.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ferret-scan/ferret/pkg/models"
	"github.com/ferret-scan/ferret/pkg/store"
)

// Key identifies one cacheable classification.
type Key struct {
	Fingerprint     string
	Size            int64
	TemplateVersion string
}

// String renders the key for logs and request coalescing.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Fingerprint, k.Size, k.TemplateVersion)
}

// Entry is one cached classification result.
type Entry struct {
	Key          Key
	Payload      []byte
	PayloadBytes int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	HitCount     int64
}

// Manager stores classification results in SQLite through a shared pool.
type Manager struct {
	pool     *store.Pool
	ttl      time.Duration
	maxBytes int64
	log      logrus.FieldLogger
	now      func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	template_version TEXT NOT NULL,
	payload BLOB NOT NULL,
	payload_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	last_hit_at INTEGER,
	PRIMARY KEY (fingerprint, size_bytes, template_version)
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// New creates a Manager on the given pool and runs schema migration.
func New(ctx context.Context, pool *store.Pool, ttl time.Duration, maxBytes int64, log logrus.FieldLogger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		pool:     pool,
		ttl:      ttl,
		maxBytes: maxBytes,
		log:      log,
		now:      time.Now,
	}
	err := pool.WithWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(createCacheTable)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return m, nil
}

// Lookup returns the live entry for key, or ok=false on a miss. An expired
// row is removed and reported as a miss. On a hit, the hit counter is
// incremented in the same transaction as the read.
func (m *Manager) Lookup(ctx context.Context, key Key) (*Entry, bool, error) {
	var entry *Entry
	err := m.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		var payload []byte
		var payloadBytes, createdAt, expiresAt, hitCount int64
		err := tx.QueryRow(
			`SELECT payload, payload_bytes, created_at, expires_at, hit_count
			 FROM cache_entries
			 WHERE fingerprint = ? AND size_bytes = ? AND template_version = ?`,
			key.Fingerprint, key.Size, key.TemplateVersion,
		).Scan(&payload, &payloadBytes, &createdAt, &expiresAt, &hitCount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cache lookup: %w", err)
		}

		now := m.now().UTC()
		if now.Unix() >= expiresAt {
			_, err = tx.Exec(
				`DELETE FROM cache_entries WHERE fingerprint = ? AND size_bytes = ? AND template_version = ?`,
				key.Fingerprint, key.Size, key.TemplateVersion,
			)
			if err != nil {
				return fmt.Errorf("cache expire: %w", err)
			}
			return nil
		}

		_, err = tx.Exec(
			`UPDATE cache_entries SET hit_count = hit_count + 1, last_hit_at = ?
			 WHERE fingerprint = ? AND size_bytes = ? AND template_version = ?`,
			now.Unix(), key.Fingerprint, key.Size, key.TemplateVersion,
		)
		if err != nil {
			return fmt.Errorf("cache hit update: %w", err)
		}

		entry = &Entry{
			Key:          key,
			Payload:      payload,
			PayloadBytes: payloadBytes,
			CreatedAt:    time.Unix(createdAt, 0).UTC(),
			ExpiresAt:    time.Unix(expiresAt, 0).UTC(),
			HitCount:     hitCount + 1,
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		m.misses.Add(1)
		return nil, false, nil
	}
	m.hits.Add(1)
	return entry, true, nil
}

// Insert upserts a payload under key. If the insert would push retained
// payload bytes over the budget, expired entries are evicted first, then
// least-recently-used entries, all inside the same write transaction.
// Payloads larger than the whole budget are not cached.
func (m *Manager) Insert(ctx context.Context, key Key, payload []byte) error {
	payloadBytes := int64(len(payload))
	if m.maxBytes > 0 && payloadBytes > m.maxBytes {
		m.log.WithFields(logrus.Fields{
			"key":   key.String(),
			"bytes": payloadBytes,
		}).Warn("payload exceeds cache budget, not cached")
		return nil
	}

	now := m.now().UTC()
	return m.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		if m.maxBytes > 0 {
			if err := m.evictLocked(tx, key, payloadBytes, now); err != nil {
				return err
			}
		}

		_, err := tx.Exec(
			`INSERT INTO cache_entries
				(fingerprint, size_bytes, template_version, payload, payload_bytes, created_at, expires_at, hit_count, last_hit_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)
			 ON CONFLICT (fingerprint, size_bytes, template_version) DO UPDATE SET
				payload = excluded.payload,
				payload_bytes = excluded.payload_bytes,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at,
				hit_count = 0,
				last_hit_at = NULL`,
			key.Fingerprint, key.Size, key.TemplateVersion,
			payload, payloadBytes, now.Unix(), now.Add(m.ttl).Unix(),
		)
		if err != nil {
			return fmt.Errorf("cache insert: %w", err)
		}
		return nil
	})
}

// evictLocked frees room for an incoming payload. Runs inside the insert's
// write transaction. Expired rows go first in expiry order, then LRU rows
// by last hit (creation time if never hit).
func (m *Manager) evictLocked(tx *sql.Tx, incoming Key, incomingBytes int64, now time.Time) error {
	retained, err := m.retainedLocked(tx, incoming)
	if err != nil {
		return err
	}
	if retained+incomingBytes <= m.maxBytes {
		return nil
	}

	res, err := tx.Exec(`DELETE FROM cache_entries WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return fmt.Errorf("cache evict expired: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		m.log.WithField("evicted", n).Debug("evicted expired cache entries")
	}

	retained, err = m.retainedLocked(tx, incoming)
	if err != nil {
		return err
	}

	for retained+incomingBytes > m.maxBytes {
		var fp, version string
		var size, bytes int64
		err := tx.QueryRow(
			`SELECT fingerprint, size_bytes, template_version, payload_bytes
			 FROM cache_entries
			 WHERE NOT (fingerprint = ? AND size_bytes = ? AND template_version = ?)
			 ORDER BY COALESCE(last_hit_at, created_at) ASC
			 LIMIT 1`,
			incoming.Fingerprint, incoming.Size, incoming.TemplateVersion,
		).Scan(&fp, &size, &version, &bytes)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cache evict select: %w", err)
		}
		_, err = tx.Exec(
			`DELETE FROM cache_entries WHERE fingerprint = ? AND size_bytes = ? AND template_version = ?`,
			fp, size, version,
		)
		if err != nil {
			return fmt.Errorf("cache evict lru: %w", err)
		}
		retained -= bytes
	}
	return nil
}

func (m *Manager) retainedLocked(tx *sql.Tx, excluding Key) (int64, error) {
	var total int64
	err := tx.QueryRow(
		`SELECT COALESCE(SUM(payload_bytes), 0) FROM cache_entries
		 WHERE NOT (fingerprint = ? AND size_bytes = ? AND template_version = ?)`,
		excluding.Fingerprint, excluding.Size, excluding.TemplateVersion,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("cache retained bytes: %w", err)
	}
	return total, nil
}

// Invalidate removes the entry for key if present.
func (m *Manager) Invalidate(ctx context.Context, key Key) error {
	return m.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`DELETE FROM cache_entries WHERE fingerprint = ? AND size_bytes = ? AND template_version = ?`,
			key.Fingerprint, key.Size, key.TemplateVersion,
		)
		if err != nil {
			return fmt.Errorf("cache invalidate: %w", err)
		}
		return nil
	})
}

// Purge removes entries. If expiredOnly is true, only expired rows go.
// Returns the number of removed entries.
func (m *Manager) Purge(ctx context.Context, expiredOnly bool) (int64, error) {
	var removed int64
	err := m.pool.WithWrite(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if expiredOnly {
			res, err = tx.Exec(`DELETE FROM cache_entries WHERE expires_at <= ?`, m.now().UTC().Unix())
		} else {
			res, err = tx.Exec(`DELETE FROM cache_entries`)
		}
		if err != nil {
			return fmt.Errorf("cache purge: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// Stats returns cache size and hit/miss counters for this process.
func (m *Manager) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	err := m.pool.WithRead(ctx, func(db *sql.DB) error {
		return db.QueryRow(
			`SELECT COUNT(*), COALESCE(SUM(payload_bytes), 0) FROM cache_entries`,
		).Scan(&stats.Entries, &stats.RetainedBytes)
	})
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	stats.Hits = m.hits.Load()
	stats.Misses = m.misses.Load()
	return stats, nil
}
