package model

import (
	"errors"
	"fmt"
)

// Property and validation errors.
var (
	ErrRequired         = errors.New("value is required")
	ErrInvalidValue     = errors.New("invalid value")
	ErrModelMismatch    = errors.New("model mismatch")
	ErrReadOnly         = errors.New("property is read-only")
	ErrComputed         = errors.New("property is computed")
	ErrMultiplicity     = errors.New("value multiplicity does not match property")
	ErrUnknownProperty  = errors.New("unknown property")
	ErrNoEncrypter      = errors.New("no encrypter configured")
	ErrAttachment       = errors.New("attachment rejected")
	ErrTypeMismatch     = errors.New("document type does not match entity")
	ErrQueryNotFound    = errors.New("query not found")
	ErrNotPersistent    = errors.New("model has no data service")
	ErrInvalidReference = errors.New("invalid reference")
	ErrDuplicateID      = errors.New("id already exists")
	ErrIDNotFound       = errors.New("id not found")
)

// Schema errors.
var (
	ErrInvalidSchema       = errors.New("invalid schema")
	ErrInvalidRelationship = errors.New("invalid relationship")
	ErrDuplicateProperty   = errors.New("duplicate property name")
	ErrModelNotFound       = errors.New("model not found")
	ErrNamespaceNotFound   = errors.New("namespace not found")
	ErrTypeNotFound        = errors.New("property type not found")
	ErrInvalidName         = errors.New("invalid database name")
	ErrDatabaseExists      = errors.New("database already exists")
)

// ValidationError reports a failed validation on one entity field. Property
// is empty for entity-level rules.
type ValidationError struct {
	Entity   string
	Property string
	Message  string
	Err      error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Entity != "" && e.Property != "":
		return fmt.Sprintf("%s.%s: %s", e.Entity, e.Property, e.Message)
	case e.Property != "":
		return fmt.Sprintf("%s: %s", e.Property, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s: %s", e.Entity, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// withEntity sets the entity type on a ValidationError that lacks one.
func withEntity(err error, entityType string) error {
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Entity == "" {
		ve.Entity = entityType
	}
	return err
}
