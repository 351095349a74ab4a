package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
)

// loadAllJSONL reads the JSONL files from dataDir into SQLite. Loading is
// transactional: all succeed or the database stays empty. Malformed lines
// and records without an id are skipped; unknown fields are kept in the body.
func loadAllJSONL(db *sql.DB, dataDir string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	if err := loadDocuments(tx, filepath.Join(dataDir, documentsJSONL)); err != nil {
		return err
	}
	if err := loadAttachments(tx, filepath.Join(dataDir, attachmentsJSONL)); err != nil {
		return err
	}
	if err := loadIndexes(tx, filepath.Join(dataDir, indexesJSONL)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// docHeader holds the reserved fields read from a stored body.
type docHeader struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev"`
	Deleted bool   `json:"_deleted"`
}

func loadDocuments(tx *sql.Tx, path string) error {
	records, err := readJSONL(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", documentsJSONL, err)
	}
	for _, rec := range records {
		var h docHeader
		if err := json.Unmarshal(rec, &h); err != nil || h.ID == "" || h.Rev == "" {
			continue
		}
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO documents (doc_id, rev, deleted, body) VALUES (?, ?, ?, ?)",
			h.ID, h.Rev, boolToInt(h.Deleted), string(rec))
		if err != nil {
			return fmt.Errorf("inserting document %s: %w", h.ID, err)
		}
	}
	return nil
}

func loadAttachments(tx *sql.Tx, path string) error {
	records, err := readJSONL(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", attachmentsJSONL, err)
	}
	for _, raw := range records {
		var rec attachmentRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.DocID == "" || rec.Name == "" {
			continue
		}
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO attachments (doc_id, name, content_type, length, data) VALUES (?, ?, ?, ?, ?)",
			rec.DocID, rec.Name, rec.ContentType, len(rec.Data), rec.Data)
		if err != nil {
			return fmt.Errorf("inserting attachment %s/%s: %w", rec.DocID, rec.Name, err)
		}
	}
	return nil
}

func loadIndexes(tx *sql.Tx, path string) error {
	records, err := readJSONL(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", indexesJSONL, err)
	}
	for _, raw := range records {
		var rec indexRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.Name == "" {
			continue
		}
		if err := createIndexTx(tx, rec.Name, rec.Fields); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
