package sqlite

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// JSONL files kept in the data directory.
const (
	documentsJSONL   = "documents.jsonl"
	attachmentsJSONL = "attachments.jsonl"
	indexesJSONL     = "indexes.jsonl"
)

var jsonlFiles = []string{documentsJSONL, attachmentsJSONL, indexesJSONL}

// attachmentRecord is one line of attachments.jsonl.
type attachmentRecord struct {
	DocID       string `json:"doc_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Length      int    `json:"length"`
	Data        []byte `json:"data"`
}

// indexRecord is one line of indexes.jsonl.
type indexRecord struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}


// initJSONLFiles creates empty JSONL files that do not exist yet.
func initJSONLFiles(dataDir string) error {
	for _, name := range jsonlFiles {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
	}
	return nil
}

// writeJSONLFile rewrites one JSONL file from the current SQLite contents.
// The caller must hold b.mu.
func (b *Backend) writeJSONLFile(file string) error {
	var (
		records []json.RawMessage
		err     error
	)
	switch file {
	case documentsJSONL:
		records, err = dumpDocuments(b.db)
	case attachmentsJSONL:
		records, err = dumpAttachments(b.db)
	case indexesJSONL:
		records, err = dumpIndexes(b.db)
	default:
		return fmt.Errorf("unknown JSONL file %q", file)
	}
	if err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.config.DataDir, file), records)
}

func dumpDocuments(db *sql.DB) ([]json.RawMessage, error) {
	rows, err := db.Query("SELECT body FROM documents ORDER BY doc_id")
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		records = append(records, json.RawMessage(body))
	}
	return records, rows.Err()
}

func dumpAttachments(db *sql.DB) ([]json.RawMessage, error) {
	rows, err := db.Query("SELECT doc_id, name, content_type, length, data FROM attachments ORDER BY doc_id, name")
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var rec attachmentRecord
		if err := rows.Scan(&rec.DocID, &rec.Name, &rec.ContentType, &rec.Length, &rec.Data); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		records = append(records, raw)
	}
	return records, rows.Err()
}

func dumpIndexes(db *sql.DB) ([]json.RawMessage, error) {
	rows, err := db.Query("SELECT name, fields FROM doc_indexes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var name, fields string
		if err := rows.Scan(&name, &fields); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		rec := indexRecord{Name: name}
		if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
			return nil, fmt.Errorf("parsing index fields: %w", err)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		records = append(records, raw)
	}
	return records, rows.Err()
}
