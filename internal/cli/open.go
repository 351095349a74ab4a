package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docmodel/internal/paths"
	"github.com/mesh-intelligence/docmodel/pkg/model"
	"github.com/mesh-intelligence/docmodel/pkg/security"
	"github.com/mesh-intelligence/docmodel/pkg/sqlite"
	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// userErrors are failures caused by the command's input rather than the
// environment.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrConflict,
	types.ErrInvalidID,
	types.ErrInvalidSelector,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrSyncStrategyUnknown,
	model.ErrInvalidSchema,
	model.ErrInvalidRelationship,
	model.ErrDuplicateProperty,
	model.ErrDatabaseExists,
	model.ErrNamespaceNotFound,
	model.ErrModelNotFound,
	model.ErrTypeNotFound,
	model.ErrNotPersistent,
	model.ErrUnknownProperty,
	model.ErrReadOnly,
	model.ErrComputed,
	model.ErrMultiplicity,
	model.ErrInvalidValue,
	model.ErrRequired,
	model.ErrNoEncrypter,
	security.ErrEmptySecret,
}

// classify wraps err with the exit code it deserves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return userError(err)
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return userError(err)
		}
	}
	return sysError(err)
}

// storeConfig builds the backend configuration from flags and config.yaml.
func (a *app) storeConfig() (types.Config, error) {
	dataDir, err := paths.ResolveDataDir(a.dataDir, a.cfg.GetString(cfgKeyDataDir))
	if err != nil {
		return types.Config{}, sysError(fmt.Errorf("resolve data dir: %w", err))
	}
	cfg := types.Config{
		Backend: a.cfg.GetString(cfgKeyBackend),
		DataDir: dataDir,
		Sync:    a.cfg.GetString(cfgKeySync),
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, userError(fmt.Errorf("config: %w", err))
	}
	return cfg, nil
}

// attach opens the document store. The caller must Detach it.
func (a *app) attach() (types.Backend, error) {
	cfg, err := a.storeConfig()
	if err != nil {
		return nil, err
	}
	backend := sqlite.NewBackend()
	if err := backend.Attach(cfg); err != nil {
		return nil, sysError(fmt.Errorf("attach store: %w", err))
	}
	return backend, nil
}

// options returns the database options for the current configuration.
func (a *app) options() ([]model.Option, error) {
	opts := []model.Option{model.WithLogger(a.log)}
	if secret := a.cfg.GetString(cfgKeySecret); secret != "" {
		c, err := security.NewCipher(secret)
		if err != nil {
			return nil, userError(err)
		}
		opts = append(opts, model.WithSecurity(nil, c))
	}
	return opts, nil
}

// open attaches the store and opens the database recorded in it.
func (a *app) open(ctx context.Context) (*model.Database, func(), error) {
	backend, err := a.attach()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := backend.Detach(); err != nil {
			a.log.Warn("detach store failed", zap.Error(err))
		}
	}
	opts, err := a.options()
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	db, err := model.Open(ctx, backend, nil, opts...)
	if err != nil {
		closeFn()
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil, userError(fmt.Errorf("no database found, run docmodel init: %w", err))
		}
		return nil, nil, classify(err)
	}
	return db, closeFn, nil
}
