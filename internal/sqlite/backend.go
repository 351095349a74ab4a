// Package sqlite implements the SQLite document store. SQLite is the query
// engine; JSONL files in the data directory are the source of truth and are
// reloaded on every Attach.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const dbFileName = "docmodel.db"

// Backend implements types.Backend using SQLite and JSONL files.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB

	syncStrategy  string
	pendingWrites []pendingWrite
	batchMu       sync.Mutex
}

// pendingWrite is a deferred JSONL rewrite, queued by the on_close strategy.
type pendingWrite struct {
	file    string
	persist func() error
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, applies the schema, creates missing
// JSONL files and loads them into SQLite.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// SQLite is rebuilt from JSONL on every attach.
	dbPath := filepath.Join(dataDir, dbFileName)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}

	config.DataDir = dataDir
	b.db = db
	b.config = config
	b.syncStrategy = config.SyncStrategy()
	b.pendingWrites = nil

	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}

	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.attached = true
	return nil
}

// applySchema runs the embedded goose migrations against db.
func applySchema(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(context.Background(), db, "migrations")
}

// Detach releases all resources held by the backend. For the on_close
// strategy, pending JSONL writes are flushed first. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	if err := b.flushPendingWrites(); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}

	b.attached = false
	return nil
}

// checkAttached returns ErrStoreDetached when the backend is not attached.
// The caller must hold b.mu.
func (b *Backend) checkAttached() error {
	if !b.attached {
		return types.ErrStoreDetached
	}
	return nil
}

// nextRev returns the revision following current: "N-<32 hex>".
func nextRev(current string) string {
	gen := 0
	if head, _, ok := strings.Cut(current, "-"); ok {
		gen, _ = strconv.Atoi(head)
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%d-%s", gen+1, strings.ReplaceAll(id.String(), "-", ""))
}

// persist writes one JSONL file now or queues it, depending on the sync
// strategy. The caller must hold b.mu.
func (b *Backend) persist(file string) error {
	fn := func() error { return b.writeJSONLFile(file) }
	if b.syncStrategy == types.SyncImmediate {
		return fn()
	}

	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	for _, pw := range b.pendingWrites {
		if pw.file == file {
			return nil
		}
	}
	b.pendingWrites = append(b.pendingWrites, pendingWrite{file: file, persist: fn})
	return nil
}

// flushPendingWrites executes all queued writes. The caller must hold b.mu.
func (b *Backend) flushPendingWrites() error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	for _, pw := range b.pendingWrites {
		if err := pw.persist(); err != nil {
			return fmt.Errorf("flush %s: %w", pw.file, err)
		}
	}
	b.pendingWrites = nil
	return nil
}
