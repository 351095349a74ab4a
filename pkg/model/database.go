package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docmodel/pkg/security"
	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// Database binds a schema to a store. It owns the namespaces, the
// relationships and the property type registry, and hands out entities and
// data services.
type Database struct {
	mu sync.RWMutex

	store     types.Store
	log       *zap.Logger
	hasher    security.Hasher
	encrypter security.Encrypter
	types     map[string]*PropertyType

	version       int
	schema        *Schema
	namespaces    map[string]*Namespace
	relationships map[string]*Relationship
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(db *Database) {
		if log != nil {
			db.log = log
		}
	}
}

// WithSecurity sets the transforms used by hashed and encrypted
// properties. A nil hasher keeps the SHA-256 default.
func WithSecurity(hasher security.Hasher, encrypter security.Encrypter) Option {
	return func(db *Database) {
		if hasher != nil {
			db.hasher = hasher
		}
		db.encrypter = encrypter
	}
}

// WithTypes registers additional property types, replacing standard types
// of the same name.
func WithTypes(ts ...*PropertyType) Option {
	return func(db *Database) {
		for _, t := range ts {
			db.types[t.Name] = t
		}
	}
}

func newDatabase(store types.Store, opts []Option) *Database {
	db := &Database{
		store:         store,
		log:           zap.NewNop(),
		hasher:        security.SHA256{},
		types:         make(map[string]*PropertyType),
		namespaces:    make(map[string]*Namespace),
		relationships: make(map[string]*Relationship),
	}
	for _, t := range StandardTypes() {
		db.types[t.Name] = t
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Create initializes a new database in store: it writes the $/schema
// document and a $/migrations log holding the init entry, then imports the
// schema. A schema without a version is stored as version 1.
func Create(ctx context.Context, store types.Store, schema *Schema, opts ...Option) (*Database, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: no schema", ErrInvalidSchema)
	}
	db := newDatabase(store, opts)
	if schema.Version == 0 {
		schema.Version = 1
	}
	prepared, err := db.PrepareSchema(schema)
	if err != nil {
		return nil, err
	}

	doc, err := schema.Document()
	if err != nil {
		return nil, err
	}
	if _, err := store.Put(ctx, doc); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return nil, ErrDatabaseExists
		}
		return nil, fmt.Errorf("write schema: %w", err)
	}
	trail := types.Document{
		types.FieldID: MigrationsDocID,
		"log": []any{map[string]any{
			"when":    time.Now().UnixMilli(),
			"type":    "init",
			"version": schema.Version,
		}},
	}
	if _, err := store.Put(ctx, trail); err != nil {
		return nil, fmt.Errorf("write migrations log: %w", err)
	}

	if err := db.Install(ctx, prepared); err != nil {
		return nil, err
	}
	db.SetVersion(schema.Version)
	db.log.Info("database created", zap.Int("version", schema.Version))
	return db, nil
}

// Open attaches to an existing database. The stored version is kept; the
// supplied schema is imported, or the stored one when schema is nil.
func Open(ctx context.Context, store types.Store, schema *Schema, opts ...Option) (*Database, error) {
	db := newDatabase(store, opts)
	doc, err := store.Get(ctx, SchemaDocID, types.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	stored, err := SchemaFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		schema = stored
	}
	if err := db.ImportSchema(ctx, schema); err != nil {
		return nil, err
	}
	db.SetVersion(stored.Version)
	db.log.Info("database opened", zap.Int("version", stored.Version))
	return db, nil
}

// PreparedSchema is a validated schema ready to be installed.
type PreparedSchema struct {
	schema        *Schema
	namespaces    map[string]*Namespace
	relationships map[string]*Relationship
}

// Schema returns the prepared schema.
func (p *PreparedSchema) Schema() *Schema { return p.schema }

// PrepareSchema validates schema and builds its namespaces and
// relationships without touching the database's current state.
func (db *Database) PrepareSchema(schema *Schema) (*PreparedSchema, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: no schema", ErrInvalidSchema)
	}
	p := &PreparedSchema{
		schema:        schema,
		namespaces:    make(map[string]*Namespace, len(schema.Namespaces)),
		relationships: make(map[string]*Relationship, len(schema.Relationships)),
	}

	for _, name := range sortedKeys(schema.Namespaces) {
		def := schema.Namespaces[name]
		if err := db.checkNamespace(name, def); err != nil {
			return nil, err
		}
		p.namespaces[name] = newNamespace(db, name, def)
	}
	for _, name := range sortedKeys(schema.Namespaces) {
		for _, m := range schema.Namespaces[name].Models {
			if err := db.checkModel(p, name, m); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range sortedKeys(schema.Relationships) {
		r, err := NewRelationship(name, schema.Relationships[name])
		if err != nil {
			return nil, err
		}
		if err := checkRelationship(p, r); err != nil {
			return nil, err
		}
		p.relationships[name] = r
	}
	return p, nil
}

func (db *Database) checkNamespace(name string, def *NamespaceDefinition) error {
	if name == "" || strings.ContainsAny(name, "/$") {
		return fmt.Errorf("%w: namespace name %q", ErrInvalidSchema, name)
	}
	if def == nil {
		return fmt.Errorf("%w: namespace %s has no definition", ErrInvalidSchema, name)
	}
	seen := make(map[string]bool, len(def.Models))
	for _, m := range def.Models {
		if m == nil || m.TypeName == "" || strings.Contains(m.TypeName, "/") {
			return fmt.Errorf("%w: namespace %s has a model without a valid typeName", ErrInvalidSchema, name)
		}
		if seen[m.TypeName] {
			return fmt.Errorf("%w: %s/%s is declared twice", ErrInvalidSchema, name, m.TypeName)
		}
		seen[m.TypeName] = true
		switch m.Service {
		case "", ServiceNone, ServiceSingleton, ServiceCollection:
		default:
			return fmt.Errorf("%w: %s/%s has unknown service %q", ErrInvalidSchema, name, m.TypeName, m.Service)
		}
	}
	return nil
}

func (db *Database) checkModel(p *PreparedSchema, ns string, m *Model) error {
	for _, name := range sortedKeys(m.Properties) {
		def := m.Properties[name]
		if def == nil {
			return fmt.Errorf("%w: %s/%s.%s has no definition", ErrInvalidSchema, ns, m.TypeName, name)
		}
		if name == FieldType || name == FieldDraft || strings.HasPrefix(name, "_") {
			return fmt.Errorf("%w: %s/%s.%s is a reserved name", ErrInvalidSchema, ns, m.TypeName, name)
		}
		if _, ok := m.Attachments[name]; ok {
			return fmt.Errorf("%w: %s/%s.%s", ErrDuplicateProperty, ns, m.TypeName, name)
		}
		if def.Type != "" {
			if _, err := db.PropertyType(def.Type); err != nil {
				return fmt.Errorf("%s/%s.%s: %w", ns, m.TypeName, name, err)
			}
		}
		if def.Model != "" {
			nestedNS, typeName := ns, def.Model
			if a, b, ok := splitType(def.Model); ok {
				nestedNS, typeName = a, b
			}
			if _, err := p.model(nestedNS, typeName); err != nil {
				return fmt.Errorf("%s/%s.%s: %w", ns, m.TypeName, name, err)
			}
		}
		if def.Hashed && def.Encrypted {
			return fmt.Errorf("%w: %s/%s.%s cannot be both hashed and encrypted", ErrInvalidSchema, ns, m.TypeName, name)
		}
	}
	return nil
}

func (p *PreparedSchema) model(ns, typeName string) (*Model, error) {
	n, ok := p.namespaces[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}
	return n.Model(typeName)
}

// checkRelationship ensures both sides are persisted models and that no
// derived member collides with a declared field.
func checkRelationship(p *PreparedSchema, r *Relationship) error {
	left, err := p.model(r.leftNS, r.leftType)
	if err != nil {
		return fmt.Errorf("relationship %s: %w", r.Name, err)
	}
	right, err := p.model(r.rightNS, r.rightType)
	if err != nil {
		return fmt.Errorf("relationship %s: %w", r.Name, err)
	}
	if left.Service == ServiceNone || right.Service == ServiceNone {
		return fmt.Errorf("%w: %s links a model without a data service", ErrInvalidRelationship, r.Name)
	}
	var leftMember, rightMember string
	switch r.Type {
	case OneToMany:
		leftMember, rightMember = r.Left.QueryName, r.Right.PropertyName
	case ManyToMany:
		leftMember, rightMember = r.Left.PropertyName, r.Right.QueryName
	}
	if declared(left, leftMember) || declared(right, rightMember) {
		return fmt.Errorf("%w: relationship %s", ErrDuplicateProperty, r.Name)
	}
	return nil
}

func declared(m *Model, name string) bool {
	_, p := m.Properties[name]
	_, a := m.Attachments[name]
	return p || a
}

// Install requests the indexes that serve relationship queries, then makes
// the prepared schema current. A failed index request leaves the installed
// schema in place.
func (db *Database) Install(ctx context.Context, p *PreparedSchema) error {
	for _, name := range sortedKeys(p.relationships) {
		def := p.relationships[name].Index()
		res, err := db.store.CreateIndex(ctx, def)
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
		db.log.Debug("relationship index", zap.String("name", res.Name), zap.String("result", res.Result))
	}

	db.mu.Lock()
	db.schema = p.schema
	db.namespaces = p.namespaces
	db.relationships = p.relationships
	db.mu.Unlock()
	return nil
}

// ImportSchema prepares and installs schema, replacing namespaces,
// relationships and services.
func (db *Database) ImportSchema(ctx context.Context, schema *Schema) error {
	p, err := db.PrepareSchema(schema)
	if err != nil {
		return err
	}
	return db.Install(ctx, p)
}

// Version returns the current schema version.
func (db *Database) Version() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.version
}

// SetVersion records the schema version after a migration.
func (db *Database) SetVersion(v int) {
	db.mu.Lock()
	db.version = v
	db.mu.Unlock()
}

// Schema returns the installed schema.
func (db *Database) Schema() *Schema {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.schema
}

// Namespace returns the named namespace.
func (db *Database) Namespace(name string) (*Namespace, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ns, ok := db.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
	}
	return ns, nil
}

// Namespaces returns the namespace names in order.
func (db *Database) Namespaces() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return sortedKeys(db.namespaces)
}

// Service returns the data service of ns/typeName.
func (db *Database) Service(ns, typeName string) (*Service, error) {
	n, err := db.Namespace(ns)
	if err != nil {
		return nil, err
	}
	return n.Service(typeName)
}

// CreateEntity builds a new entity of ns/typeName.
func (db *Database) CreateEntity(ns, typeName string) (*Entity, error) {
	n, err := db.Namespace(ns)
	if err != nil {
		return nil, err
	}
	return n.CreateEntity(typeName)
}

// Relationships returns the installed relationships by name.
func (db *Database) Relationships() map[string]*Relationship {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[string]*Relationship, len(db.relationships))
	for k, v := range db.relationships {
		out[k] = v
	}
	return out
}

// Store returns the underlying store.
func (db *Database) Store() types.Store { return db.store }

// Logger returns the database logger.
func (db *Database) Logger() *zap.Logger { return db.log }

// PropertyType returns a registered property type.
func (db *Database) PropertyType(name string) (*PropertyType, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	return t, nil
}
