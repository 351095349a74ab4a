// Package sqlite provides the public factory for the SQLite document store
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/docmodel/internal/sqlite"
	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// NewBackend creates a new SQLite document store.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	store := sqlite.NewBackend()
//	err := store.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".docmodel-db",
//	})
//	defer store.Detach()
func NewBackend() types.Backend {
	return sqlite.NewBackend()
}
