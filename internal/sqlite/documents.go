package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the live document with the given id, with attachment stubs
// (or inline data when opts.Attachments is set) under _attachments.
func (b *Backend) Get(ctx context.Context, id string, opts types.GetOptions) (types.Document, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	var body string
	var deleted int
	err := b.db.QueryRowContext(ctx, "SELECT body, deleted FROM documents WHERE doc_id = ?", id).Scan(&body, &deleted)
	if errors.Is(err, sql.ErrNoRows) || deleted == 1 {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", id, err)
	}

	doc, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	if err := addAttachments(ctx, b.db, doc, opts.Attachments); err != nil {
		return nil, err
	}
	return doc, nil
}

// Put creates or updates one document.
func (b *Backend) Put(ctx context.Context, doc types.Document) (types.PutResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAttached(); err != nil {
		return types.PutResult{}, err
	}

	res, err := b.putOne(ctx, doc)
	if err != nil {
		return types.PutResult{ID: doc.ID(), Error: err.Error()}, err
	}
	if err := b.persistDocuments(); err != nil {
		return res, err
	}
	return res, nil
}

// BulkDocs writes each document in its own transaction. A failure leaves
// earlier and later documents unaffected.
func (b *Backend) BulkDocs(ctx context.Context, docs []types.Document) ([]types.PutResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	results := make([]types.PutResult, len(docs))
	written := 0
	for i, doc := range docs {
		res, err := b.putOne(ctx, doc)
		if err != nil {
			results[i] = types.PutResult{ID: doc.ID(), Error: err.Error()}
			continue
		}
		results[i] = res
		written++
	}
	if written > 0 {
		if err := b.persistDocuments(); err != nil {
			return results, err
		}
	}
	return results, nil
}

// Remove writes a tombstone for id. rev must be the current revision.
func (b *Backend) Remove(ctx context.Context, id, rev string) (types.PutResult, error) {
	if id == "" {
		return types.PutResult{}, types.ErrInvalidID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAttached(); err != nil {
		return types.PutResult{}, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return types.PutResult{}, err
	}
	defer tx.Rollback()

	var curRev string
	var deleted int
	err = tx.QueryRowContext(ctx, "SELECT rev, deleted FROM documents WHERE doc_id = ?", id).Scan(&curRev, &deleted)
	if errors.Is(err, sql.ErrNoRows) || deleted == 1 {
		return types.PutResult{}, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	if err != nil {
		return types.PutResult{}, fmt.Errorf("reading document %s: %w", id, err)
	}
	if rev != curRev {
		return types.PutResult{}, fmt.Errorf("%w: %s", types.ErrConflict, id)
	}

	newRev := nextRev(curRev)
	body, err := json.Marshal(types.Document{types.FieldID: id, types.FieldRev: newRev, types.FieldDeleted: true})
	if err != nil {
		return types.PutResult{}, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET rev = ?, deleted = 1, body = ? WHERE doc_id = ?", newRev, string(body), id); err != nil {
		return types.PutResult{}, fmt.Errorf("removing document %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE doc_id = ?", id); err != nil {
		return types.PutResult{}, fmt.Errorf("removing attachments of %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return types.PutResult{}, err
	}

	res := types.PutResult{ID: id, Rev: newRev}
	if err := b.persistDocuments(); err != nil {
		return res, err
	}
	return res, nil
}

// AllDocs returns live documents whose id starts with prefix.
func (b *Backend) AllDocs(ctx context.Context, prefix string) ([]types.Document, error) {
	return b.Find(ctx, types.Query{Prefix: prefix})
}

// GetAttachment returns the bytes of one attachment.
func (b *Backend) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.QueryRowContext(ctx, "SELECT data FROM attachments WHERE doc_id = ? AND name = ?", id, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", types.ErrNotFound, id, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s/%s: %w", id, name, err)
	}
	return data, nil
}

// putOne writes doc in its own transaction. The caller must hold b.mu.
func (b *Backend) putOne(ctx context.Context, doc types.Document) (types.PutResult, error) {
	id := doc.ID()
	if id == "" {
		return types.PutResult{}, types.ErrInvalidID
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return types.PutResult{}, err
	}
	defer tx.Rollback()

	var curRev string
	var curDeleted int
	exists := true
	err = tx.QueryRowContext(ctx, "SELECT rev, deleted FROM documents WHERE doc_id = ?", id).Scan(&curRev, &curDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return types.PutResult{}, fmt.Errorf("reading document %s: %w", id, err)
	}

	rev := doc.Rev()
	switch {
	case !exists && rev != "",
		exists && curDeleted == 0 && rev != curRev,
		exists && curDeleted == 1 && rev != "" && rev != curRev:
		return types.PutResult{}, fmt.Errorf("%w: %s", types.ErrConflict, id)
	}

	newRev := nextRev(curRev)
	deleted := doc.Deleted()
	body := doc.Clone()
	atts := body[types.FieldAttachments]
	delete(body, types.FieldAttachments)
	body[types.FieldRev] = newRev
	if !deleted {
		delete(body, types.FieldDeleted)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return types.PutResult{}, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO documents (doc_id, rev, deleted, body) VALUES (?, ?, ?, ?)",
		id, newRev, boolToInt(deleted), string(raw))
	if err != nil {
		return types.PutResult{}, fmt.Errorf("writing document %s: %w", id, err)
	}

	if deleted {
		_, err = tx.ExecContext(ctx, "DELETE FROM attachments WHERE doc_id = ?", id)
	} else {
		err = syncAttachments(ctx, tx, id, atts)
	}
	if err != nil {
		return types.PutResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.PutResult{}, err
	}
	return types.PutResult{ID: id, Rev: newRev}, nil
}

// syncAttachments makes the stored attachments of id match atts. Entries
// with data are written, stub entries keep the stored bytes, and names
// missing from atts are dropped.
func syncAttachments(ctx context.Context, tx *sql.Tx, id string, atts any) error {
	entries := map[string]any{}
	if atts != nil {
		m, ok := atts.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: _attachments must be an object", types.ErrInvalidData)
		}
		entries = m
	}

	for name, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: attachment %q", types.ErrInvalidData, name)
		}
		if stub, _ := entry["stub"].(bool); stub {
			continue
		}
		data, err := decodeAttachmentData(entry["data"])
		if err != nil {
			return fmt.Errorf("%w: attachment %q: %v", types.ErrInvalidData, name, err)
		}
		contentType, _ := entry["content_type"].(string)
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO attachments (doc_id, name, content_type, length, data) VALUES (?, ?, ?, ?, ?)",
			id, name, contentType, len(data), data)
		if err != nil {
			return fmt.Errorf("writing attachment %s/%s: %w", id, name, err)
		}
	}

	stored, err := attachmentNames(ctx, tx, id)
	if err != nil {
		return err
	}
	for _, name := range stored {
		if _, ok := entries[name]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE doc_id = ? AND name = ?", id, name); err != nil {
			return fmt.Errorf("dropping attachment %s/%s: %w", id, name, err)
		}
	}
	return nil
}

func attachmentNames(ctx context.Context, q querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM attachments WHERE doc_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("listing attachments of %s: %w", id, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// decodeAttachmentData accepts raw bytes or a base64 string.
func decodeAttachmentData(v any) ([]byte, error) {
	switch data := v.(type) {
	case []byte:
		return data, nil
	case string:
		return base64.StdEncoding.DecodeString(data)
	case nil:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("unsupported data type %T", v)
	}
}

// addAttachments sets doc's _attachments from the attachments table.
func addAttachments(ctx context.Context, q querier, doc types.Document, withData bool) error {
	id := doc.ID()
	rows, err := q.QueryContext(ctx, "SELECT name, content_type, length, data FROM attachments WHERE doc_id = ? ORDER BY name", id)
	if err != nil {
		return fmt.Errorf("reading attachments of %s: %w", id, err)
	}
	defer rows.Close()

	atts := map[string]any{}
	for rows.Next() {
		var name, contentType string
		var length int
		var data []byte
		if err := rows.Scan(&name, &contentType, &length, &data); err != nil {
			return fmt.Errorf("scanning attachment: %w", err)
		}
		entry := map[string]any{"content_type": contentType, "length": length}
		if withData {
			entry["data"] = base64.StdEncoding.EncodeToString(data)
		} else {
			entry["stub"] = true
		}
		atts[name] = entry
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(atts) > 0 {
		doc[types.FieldAttachments] = atts
	}
	return nil
}

func decodeBody(body string) (types.Document, error) {
	var doc types.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// persistDocuments rewrites the document and attachment JSONL files.
// The caller must hold b.mu.
func (b *Backend) persistDocuments() error {
	if err := b.persist(documentsJSONL); err != nil {
		return fmt.Errorf("persist documents: %w", err)
	}
	if err := b.persist(attachmentsJSONL); err != nil {
		return fmt.Errorf("persist attachments: %w", err)
	}
	return nil
}
