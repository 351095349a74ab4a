package types

import (
	"context"
	"errors"
)

// Store is the revision-controlled document store the entity layer writes
// through. Every write carries the document's current _rev; a stale revision
// is rejected with ErrConflict and never retried by the store.
type Store interface {
	// Get returns the live document with the given id.
	// Returns ErrNotFound if the id is unknown or the document is deleted.
	Get(ctx context.Context, id string, opts GetOptions) (Document, error)

	// Put creates or updates one document and returns its new revision.
	// Returns ErrConflict if _rev does not match the stored revision.
	Put(ctx context.Context, doc Document) (PutResult, error)

	// BulkDocs writes each document independently. The returned slice has one
	// entry per input document; failed entries carry Error and no Rev.
	BulkDocs(ctx context.Context, docs []Document) ([]PutResult, error)

	// Remove writes a tombstone for id at revision rev.
	Remove(ctx context.Context, id, rev string) (PutResult, error)

	// Find returns live documents matching the query, ordered by id.
	Find(ctx context.Context, q Query) ([]Document, error)

	// AllDocs returns live documents whose id starts with prefix, ordered by id.
	AllDocs(ctx context.Context, prefix string) ([]Document, error)

	// CreateIndex requests a secondary index. Redefining an existing index
	// succeeds with Result "exists".
	CreateIndex(ctx context.Context, def IndexDef) (IndexResult, error)

	// GetAttachment returns the bytes stored under name for document id.
	GetAttachment(ctx context.Context, id, name string) ([]byte, error)
}

// Backend is a Store with an explicit attach/detach lifecycle. Callers attach
// with a Config, use the Store, and detach when done.
type Backend interface {
	Store

	// Attach opens the backend described by config. Returns
	// ErrAlreadyAttached if called while attached.
	Attach(config Config) error

	// Detach releases resources and flushes pending writes. Idempotent.
	Detach() error
}

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
)

// Document operation errors.
var (
	ErrNotFound        = errors.New("document not found")
	ErrConflict        = errors.New("document update conflict")
	ErrInvalidID       = errors.New("invalid document id")
	ErrInvalidData     = errors.New("invalid document data")
	ErrInvalidSelector = errors.New("invalid selector")
	ErrInvalidIndex    = errors.New("invalid index definition")
)
