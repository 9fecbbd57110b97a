// Package store provides shared access to an embedded SQLite database.
//
// All readers and writers of one database file go through a single Pool.
// Reads may proceed concurrently across slots; writes are serialized by a
// pool-wide mutex because SQLite does not tolerate interleaved writers
// across independent file handles.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrPoolExhausted is returned when no slot becomes available within the
// acquisition timeout.
var ErrPoolExhausted = errors.New("store: connection pool exhausted")

// Slot is one checked-out handle to the database. A slot is owned by a
// single goroutine between Acquire and Release.
type Slot struct {
	db     *sql.DB
	broken bool
}

// DB exposes the underlying handle for the duration of the checkout.
func (s *Slot) DB() *sql.DB { return s.db }

// Discard marks the slot's handle as unusable. The pool closes it on
// release and reopens a fresh handle on the next acquisition.
func (s *Slot) Discard() { s.broken = true }

// Pool holds a fixed set of long-lived SQLite handles to one database file.
type Pool struct {
	path           string
	acquireTimeout time.Duration
	slots          chan *Slot
	writeMu        chan struct{}
	log            logrus.FieldLogger
}

const initPragmas = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;
PRAGMA foreign_keys = ON;
`

// Open creates a Pool of size handles to the database at path.
func Open(path string, size int, acquireTimeout time.Duration, log logrus.FieldLogger) (*Pool, error) {
	if size <= 0 {
		size = 4
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pool{
		path:           path,
		acquireTimeout: acquireTimeout,
		slots:          make(chan *Slot, size),
		writeMu:        make(chan struct{}, 1),
		log:            log,
	}

	for i := 0; i < size; i++ {
		db, err := p.openHandle()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.slots <- &Slot{db: db}
	}

	return p, nil
}

func (p *Pool) openHandle() (*sql.DB, error) {
	db, err := sql.Open("sqlite", p.path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", p.path, err)
	}
	// One connection per handle; the pool itself is the unit of sharing.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(initPragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store %s: %w", p.path, err)
	}
	return db, nil
}

// Acquire blocks until a slot is available, the acquisition timeout
// elapses, or ctx is cancelled. Discarded slots are reopened here.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	var slot *Slot
	select {
	case slot = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrPoolExhausted
	}

	if slot.db == nil {
		db, err := p.openHandle()
		if err != nil {
			p.slots <- slot
			return nil, err
		}
		p.log.WithField("path", p.path).Debug("reopened discarded store handle")
		slot.db = db
	}
	return slot, nil
}

// Release returns a slot to the pool. Broken handles are closed; the slot
// reopens lazily on its next checkout.
func (p *Pool) Release(slot *Slot) {
	if slot == nil {
		return
	}
	if slot.broken {
		if slot.db != nil {
			slot.db.Close()
		}
		slot.db = nil
		slot.broken = false
	}
	p.slots <- slot
}

// WithRead runs fn with a checked-out handle. Concurrent readers are
// allowed across different slots.
func (p *Pool) WithRead(ctx context.Context, fn func(*sql.DB) error) error {
	slot, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(slot)

	err = fn(slot.db)
	if IsCorruption(err) {
		slot.Discard()
	}
	return err
}

// WithWrite runs fn inside a single write transaction. Only one write
// transaction is in flight across the whole pool at any time.
func (p *Pool) WithWrite(ctx context.Context, fn func(*sql.Tx) error) error {
	select {
	case p.writeMu <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.writeMu }()

	slot, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(slot)

	tx, err := slot.db.BeginTx(ctx, nil)
	if err != nil {
		if IsCorruption(err) {
			slot.Discard()
		}
		return fmt.Errorf("begin write: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		if IsCorruption(err) {
			slot.Discard()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if IsCorruption(err) {
			slot.Discard()
		}
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

// Close shuts down every pooled handle. In-flight slots are not waited for.
func (p *Pool) Close() error {
	var firstErr error
	for {
		select {
		case slot := <-p.slots:
			if slot.db != nil {
				if err := slot.db.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		default:
			return firstErr
		}
	}
}

// IsCorruption reports whether err indicates an unrecoverable handle-level
// failure that warrants discarding the slot.
func IsCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "disk I/O error")
}
