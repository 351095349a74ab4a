package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// CreateIndex registers a JSON expression index over def.Fields. An index
// whose name is already registered is left untouched.
func (b *Backend) CreateIndex(ctx context.Context, def types.IndexDef) (types.IndexResult, error) {
	if def.Name == "" || len(def.Fields) == 0 {
		return types.IndexResult{}, types.ErrInvalidIndex
	}
	for _, f := range def.Fields {
		if !fieldPattern.MatchString(f) {
			return types.IndexResult{}, fmt.Errorf("%w: field %q", types.ErrInvalidIndex, f)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAttached(); err != nil {
		return types.IndexResult{}, err
	}

	var existing string
	err := b.db.QueryRowContext(ctx, "SELECT fields FROM doc_indexes WHERE name = ?", def.Name).Scan(&existing)
	if err == nil {
		return types.IndexResult{Name: def.Name, Result: types.IndexExists}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.IndexResult{}, fmt.Errorf("reading index %s: %w", def.Name, err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return types.IndexResult{}, err
	}
	defer tx.Rollback()
	if err := createIndexTx(tx, def.Name, def.Fields); err != nil {
		return types.IndexResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.IndexResult{}, err
	}

	if err := b.persist(indexesJSONL); err != nil {
		return types.IndexResult{}, fmt.Errorf("persist indexes: %w", err)
	}
	return types.IndexResult{Name: def.Name, Result: types.IndexCreated}, nil
}

// createIndexTx records the index and creates its SQLite expression index.
func createIndexTx(tx *sql.Tx, name string, fields []string) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO doc_indexes (name, fields) VALUES (?, ?)", name, string(raw)); err != nil {
		return fmt.Errorf("registering index %s: %w", name, err)
	}

	exprs := make([]string, len(fields))
	for i, f := range fields {
		if !fieldPattern.MatchString(f) {
			return fmt.Errorf("%w: field %q", types.ErrInvalidIndex, f)
		}
		exprs[i] = fmt.Sprintf("json_extract(body, '$.%s')", f)
	}
	ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON documents (%s)", indexIdent(name), strings.Join(exprs, ", "))
	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	return nil
}

// indexIdent maps an index name to a quoted SQLite identifier.
func indexIdent(name string) string {
	var sb strings.Builder
	sb.WriteString(`"idx_`)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
