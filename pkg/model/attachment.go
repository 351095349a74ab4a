package model

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
)

// attachmentSep joins an attachment slot name and a filename into the
// store's attachment key.
const attachmentSep = "|"

// AttachmentFile is one file held by an Attachment. A stub knows its
// metadata only and loads its bytes from the store on demand.
type AttachmentFile struct {
	Filename    string
	ContentType string
	Length      int

	owner  *Attachment
	data   []byte
	loaded bool
}

// Key returns the store key "name|filename".
func (f *AttachmentFile) Key() string {
	return f.owner.name + attachmentSep + f.Filename
}

// Stub reports whether the bytes have not been loaded.
func (f *AttachmentFile) Stub() bool { return !f.loaded }

// Data returns the file bytes, fetching them from the store on first use.
func (f *AttachmentFile) Data(ctx context.Context) ([]byte, error) {
	if f.loaded {
		return f.data, nil
	}
	e := f.owner.entity
	store := e.namespace.db.Store()
	data, err := store.GetAttachment(ctx, e.id, f.Key())
	if err != nil {
		return nil, fmt.Errorf("load attachment %s: %w", f.Key(), err)
	}
	f.data, f.loaded = data, true
	return data, nil
}

// Attachment is one attachment slot of an entity.
type Attachment struct {
	name   string
	def    *AttachmentDefinition
	entity *Entity
	files  []*AttachmentFile
}

// Name returns the slot name.
func (a *Attachment) Name() string { return a.name }

// Definition returns the declarative definition.
func (a *Attachment) Definition() *AttachmentDefinition { return a.def }

// Add stores a new file after checking the slot's constraints.
func (a *Attachment) Add(filename, contentType string, data []byte) error {
	if err := a.check(filename, contentType, len(data)); err != nil {
		return err
	}
	a.files = append(a.files, &AttachmentFile{
		Filename:    filename,
		ContentType: contentType,
		Length:      len(data),
		owner:       a,
		data:        data,
		loaded:      true,
	})
	return nil
}

// DefineStub records a file whose bytes already live in the store.
func (a *Attachment) DefineStub(filename, contentType string, length int) error {
	if err := a.check(filename, contentType, length); err != nil {
		return err
	}
	a.files = append(a.files, &AttachmentFile{
		Filename:    filename,
		ContentType: contentType,
		Length:      length,
		owner:       a,
	})
	return nil
}

func (a *Attachment) check(filename, contentType string, length int) error {
	if filename == "" || strings.Contains(filename, attachmentSep) {
		return a.errorf("invalid filename %q", filename)
	}
	if len(a.def.Filters) > 0 && !slices.Contains(a.def.Filters, contentType) {
		return a.errorf("content type %q is not accepted", contentType)
	}
	if !a.def.Multiple && len(a.files) > 0 {
		return a.errorf("only one file is allowed")
	}
	if a.def.Multiple && a.def.Limit > 0 && len(a.files) >= a.def.Limit {
		return a.errorf("at most %d files are allowed", a.def.Limit)
	}
	if a.File(filename) != nil {
		return a.errorf("file %q already exists", filename)
	}
	if a.def.Size > 0 && length > a.def.Size*1024 {
		return a.errorf("file %q exceeds %d KB", filename, a.def.Size)
	}
	return nil
}

// Remove drops a file by name.
func (a *Attachment) Remove(filename string) error {
	for i, f := range a.files {
		if f.Filename == filename {
			a.files = append(a.files[:i], a.files[i+1:]...)
			return nil
		}
	}
	return a.errorf("file %q not found", filename)
}

// File returns the named file or nil.
func (a *Attachment) File(filename string) *AttachmentFile {
	for _, f := range a.files {
		if f.Filename == filename {
			return f
		}
	}
	return nil
}

// Files returns the files in insertion order.
func (a *Attachment) Files() []*AttachmentFile {
	return append([]*AttachmentFile(nil), a.files...)
}

// Count returns the number of files.
func (a *Attachment) Count() int { return len(a.files) }

// Clean drops every file.
func (a *Attachment) Clean() { a.files = nil }

// Validate enforces the required flag.
func (a *Attachment) Validate() error {
	if a.def.Required && len(a.files) == 0 {
		return &ValidationError{Property: a.name, Message: "attachment is required", Err: ErrRequired}
	}
	return nil
}

func (a *Attachment) errorf(format string, args ...any) error {
	return &ValidationError{Property: a.name, Message: fmt.Sprintf(format, args...), Err: ErrAttachment}
}

// exportTo writes the slot's files into an _attachments map.
func (a *Attachment) exportTo(out map[string]any) {
	for _, f := range a.files {
		if f.loaded {
			out[f.Key()] = map[string]any{
				"content_type": f.ContentType,
				"data":         f.data,
			}
			continue
		}
		out[f.Key()] = map[string]any{
			"content_type": f.ContentType,
			"length":       f.Length,
			"stub":         true,
		}
	}
}

// load adds one stored file without running the slot's checks.
func (a *Attachment) load(filename string, entry map[string]any) error {
	f := &AttachmentFile{Filename: filename, owner: a}
	f.ContentType, _ = entry["content_type"].(string)
	if n, ok := toInt(entry["length"]); ok {
		f.Length = n
	}
	switch data := entry["data"].(type) {
	case []byte:
		f.data, f.loaded, f.Length = data, true, len(data)
	case string:
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return fmt.Errorf("%w: %s data is not base64", ErrAttachment, f.Key())
		}
		f.data, f.loaded, f.Length = raw, true, len(raw)
	}
	a.files = append(a.files, f)
	return nil
}
