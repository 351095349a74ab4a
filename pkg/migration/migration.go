// Package migration evolves a database from one schema version to another.
//
// A Migration runs a hook that rewrites stored documents with Actions,
// writes the target schema, appends the hook's action logs to the
// $/migrations document, and then re-imports the schema. When any of the
// last three steps fails, the schema and log documents are put back as they
// were; documents the hook rewrote are not. The log is append-only.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docmodel/pkg/model"
	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// Migration errors.
var (
	ErrVersionMismatch = errors.New("version mismatch")
	ErrNotImplemented  = errors.New("migration step not implemented")
	ErrActionFailed    = errors.New("migration action failed")
)

// Log entry types.
const (
	TypeInit      = "init"
	TypeUpgrade   = "upgrade"
	TypeDowngrade = "downgrade"
)

// LogEntry is one record of the $/migrations log. When is Unix milliseconds.
type LogEntry struct {
	When    int64       `json:"when"`
	Type    string      `json:"type"`
	Version int         `json:"version"`
	Actions []ActionLog `json:"actions,omitempty"`
}

// Hooks rewrites stored documents for one migration step.
type Hooks interface {
	OnUpgrade(ctx context.Context, db *model.Database) ([]ActionLog, error)
	OnDowngrade(ctx context.Context, db *model.Database) ([]ActionLog, error)
}

// HookFunc is one migration step.
type HookFunc func(ctx context.Context, db *model.Database) ([]ActionLog, error)

// Funcs adapts plain functions to Hooks. A nil step fails with
// ErrNotImplemented.
type Funcs struct {
	Upgrade   HookFunc
	Downgrade HookFunc
}

// OnUpgrade runs the Upgrade step.
func (f Funcs) OnUpgrade(ctx context.Context, db *model.Database) ([]ActionLog, error) {
	if f.Upgrade == nil {
		return nil, fmt.Errorf("upgrade: %w", ErrNotImplemented)
	}
	return f.Upgrade(ctx, db)
}

// OnDowngrade runs the Downgrade step.
func (f Funcs) OnDowngrade(ctx context.Context, db *model.Database) ([]ActionLog, error) {
	if f.Downgrade == nil {
		return nil, fmt.Errorf("downgrade: %w", ErrNotImplemented)
	}
	return f.Downgrade(ctx, db)
}

// Migration moves a database between two schema versions.
type Migration struct {
	db    *model.Database
	from  int
	to    int
	hooks Hooks
	log   *zap.Logger
}

// New returns a migration from version from to version to.
func New(db *model.Database, from, to int, hooks Hooks) *Migration {
	return &Migration{
		db:    db,
		from:  from,
		to:    to,
		hooks: hooks,
		log:   db.Logger().With(zap.Int("from", from), zap.Int("to", to)),
	}
}

// FromVersion returns the source version.
func (m *Migration) FromVersion() int { return m.from }

// ToVersion returns the target version.
func (m *Migration) ToVersion() int { return m.to }

// Up upgrades the database. The database must be at FromVersion and a
// supplied schema must declare ToVersion. A nil schema keeps the installed
// model graph and only records the new version.
func (m *Migration) Up(ctx context.Context, schema *model.Schema) error {
	if v := m.db.Version(); v != m.from {
		return fmt.Errorf("%w: database is at version %d, migration starts at %d", ErrVersionMismatch, v, m.from)
	}
	if schema != nil && schema.Version != m.to {
		return fmt.Errorf("%w: schema declares version %d, migration targets %d", ErrVersionMismatch, schema.Version, m.to)
	}
	return m.run(ctx, TypeUpgrade, m.to, schema, m.hooks.OnUpgrade)
}

// Down reverts the database. The database must be at ToVersion and a
// supplied schema must declare FromVersion.
func (m *Migration) Down(ctx context.Context, schema *model.Schema) error {
	if v := m.db.Version(); v != m.to {
		return fmt.Errorf("%w: database is at version %d, migration ends at %d", ErrVersionMismatch, v, m.to)
	}
	if schema != nil && schema.Version != m.from {
		return fmt.Errorf("%w: schema declares version %d, migration reverts to %d", ErrVersionMismatch, schema.Version, m.from)
	}
	return m.run(ctx, TypeDowngrade, m.from, schema, m.hooks.OnDowngrade)
}

func (m *Migration) run(ctx context.Context, kind string, version int, schema *model.Schema, hook HookFunc) error {
	var prepared *model.PreparedSchema
	if schema != nil {
		p, err := m.db.PrepareSchema(schema)
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		prepared = p
	}

	actions, err := hook(ctx, m.db)
	if err != nil {
		m.log.Error("migration hook failed", zap.String("type", kind), zap.Error(err))
		return fmt.Errorf("%s: %w", kind, err)
	}

	before, err := m.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	entry := LogEntry{When: time.Now().UnixMilli(), Type: kind, Version: version, Actions: actions}
	if err := m.commit(ctx, entry, schema, prepared); err != nil {
		m.log.Error("migration commit failed", zap.String("type", kind), zap.Error(err))
		if rerr := m.restore(ctx, before); rerr != nil {
			m.log.Error("migration restore failed", zap.String("type", kind), zap.Error(rerr))
			err = errors.Join(err, rerr)
		}
		return fmt.Errorf("%s: %w", kind, err)
	}

	m.db.SetVersion(version)
	m.log.Info("migration applied", zap.String("type", kind), zap.Int("version", version), zap.Int("actions", len(actions)))
	return nil
}

// commit writes the schema and the log entry, then installs the prepared
// schema.
func (m *Migration) commit(ctx context.Context, entry LogEntry, schema *model.Schema, prepared *model.PreparedSchema) error {
	if err := m.writeSchema(ctx, entry.Version, schema); err != nil {
		return err
	}
	if err := m.appendLog(ctx, entry); err != nil {
		return err
	}
	if prepared != nil {
		return m.db.Install(ctx, prepared)
	}
	return nil
}

// backup holds the schema and log documents as they were before a commit.
// A nil log means the database had none.
type backup struct {
	schema types.Document
	log    types.Document
}

func (m *Migration) snapshot(ctx context.Context) (backup, error) {
	store := m.db.Store()
	schemaDoc, err := store.Get(ctx, model.SchemaDocID, types.GetOptions{})
	if err != nil {
		return backup{}, fmt.Errorf("read schema: %w", err)
	}
	logDoc, err := store.Get(ctx, model.MigrationsDocID, types.GetOptions{})
	switch {
	case errors.Is(err, types.ErrNotFound):
		logDoc = nil
	case err != nil:
		return backup{}, fmt.Errorf("read migrations log: %w", err)
	}
	return backup{schema: schemaDoc, log: logDoc}, nil
}

// restore puts the schema and log documents back to their saved contents.
func (m *Migration) restore(ctx context.Context, s backup) error {
	return errors.Join(
		m.restoreDoc(ctx, model.SchemaDocID, s.schema),
		m.restoreDoc(ctx, model.MigrationsDocID, s.log),
	)
}

func (m *Migration) restoreDoc(ctx context.Context, id string, prev types.Document) error {
	store := m.db.Store()
	current, err := store.Get(ctx, id, types.GetOptions{})
	switch {
	case errors.Is(err, types.ErrNotFound):
		if prev == nil {
			return nil
		}
		current = nil
	case err != nil:
		return fmt.Errorf("restore %s: %w", id, err)
	}
	if prev != nil && current.Rev() == prev.Rev() {
		return nil
	}

	if prev == nil {
		if _, err := store.Remove(ctx, id, current.Rev()); err != nil {
			return fmt.Errorf("restore %s: %w", id, err)
		}
		return nil
	}
	doc := prev.Clone()
	delete(doc, types.FieldRev)
	if current != nil {
		doc[types.FieldRev] = current.Rev()
	}
	if _, err := store.Put(ctx, doc); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	return nil
}

func (m *Migration) appendLog(ctx context.Context, entry LogEntry) error {
	store := m.db.Store()
	doc, err := store.Get(ctx, model.MigrationsDocID, types.GetOptions{})
	switch {
	case errors.Is(err, types.ErrNotFound):
		doc = types.Document{types.FieldID: model.MigrationsDocID}
	case err != nil:
		return fmt.Errorf("read migrations log: %w", err)
	}

	raw, err := toJSONValue(entry)
	if err != nil {
		return err
	}
	entries, _ := doc["log"].([]any)
	doc["log"] = append(entries, raw)
	if _, err := store.Put(ctx, doc); err != nil {
		return fmt.Errorf("write migrations log: %w", err)
	}
	return nil
}

// writeSchema stores the target schema, or only the new version when no
// schema is supplied.
func (m *Migration) writeSchema(ctx context.Context, version int, schema *model.Schema) error {
	store := m.db.Store()
	current, err := store.Get(ctx, model.SchemaDocID, types.GetOptions{})
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	doc := current
	if schema != nil {
		if doc, err = schema.Document(); err != nil {
			return err
		}
		doc[types.FieldRev] = current.Rev()
	}
	doc["version"] = version
	if _, err := store.Put(ctx, doc); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

// Log reads the migration history, oldest first.
func Log(ctx context.Context, store types.Store) ([]LogEntry, error) {
	doc, err := store.Get(ctx, model.MigrationsDocID, types.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("read migrations log: %w", err)
	}
	raw, err := json.Marshal(doc["log"])
	if err != nil {
		return nil, fmt.Errorf("decode migrations log: %w", err)
	}
	var entries []LogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode migrations log: %w", err)
	}
	return entries, nil
}

// Log reads the migration history of the migration's database.
func (m *Migration) Log(ctx context.Context) ([]LogEntry, error) {
	return Log(ctx, m.db.Store())
}

// toJSONValue converts v to the generic form a decoded document holds.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode log entry: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode log entry: %w", err)
	}
	return out, nil
}
