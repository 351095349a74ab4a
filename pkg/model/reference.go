package model

import (
	"context"
	"fmt"
	"strings"
)

// target identifies the model a reference points at.
type target struct {
	db        *Database
	namespace string
	typeName  string
}

func (t target) String() string { return t.namespace + "/" + t.typeName }

// checkID verifies that id names an entity of the target model.
func (t target) checkID(id string) error {
	m, err := t.model()
	if err != nil {
		return err
	}
	parts := strings.Split(id, "/")
	want := 3
	if m.Service == ServiceSingleton {
		want = 2
	}
	if len(parts) != want || parts[0] != t.namespace || parts[1] != t.typeName {
		return fmt.Errorf("%w: %q is not a %s id", ErrInvalidReference, id, t)
	}
	return nil
}

func (t target) checkEntity(e *Entity) error {
	if e.namespace.name != t.namespace || e.model.TypeName != t.typeName {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidReference, t, e.Type())
	}
	return nil
}

// resolve turns an entity or id argument into an id and optional cache.
func (t target) resolve(value any) (string, *Entity, error) {
	switch v := value.(type) {
	case *Entity:
		if v == nil {
			return "", nil, fmt.Errorf("%w: nil entity", ErrInvalidReference)
		}
		if err := t.checkEntity(v); err != nil {
			return "", nil, err
		}
		return v.id, v, nil
	case string:
		if err := t.checkID(v); err != nil {
			return "", nil, err
		}
		return v, nil, nil
	}
	return "", nil, fmt.Errorf("%w: unsupported value %T", ErrInvalidReference, value)
}

func (t target) model() (*Model, error) {
	ns, err := t.db.Namespace(t.namespace)
	if err != nil {
		return nil, err
	}
	return ns.Model(t.typeName)
}

func (t target) fetch(ctx context.Context, id string) (*Entity, error) {
	svc, err := t.db.Service(t.namespace, t.typeName)
	if err != nil {
		return nil, err
	}
	return svc.Get(ctx, id)
}

// Reference is a single pointer from an entity to another entity by id,
// with a lazily resolved cache.
type Reference struct {
	name     string
	required bool
	target   target

	id    string
	cache *Entity
}

// Name returns the field name the reference is exported under.
func (r *Reference) Name() string { return r.name }

// Target returns the "namespace/typeName" the reference points at.
func (r *Reference) Target() string { return r.target.String() }

// ID returns the referenced id or "".
func (r *Reference) ID() string { return r.id }

// Entity returns the cached entity without hitting the store.
func (r *Reference) Entity() *Entity { return r.cache }

// Set points the reference at an entity or id; nil or "" clears it.
func (r *Reference) Set(value any) error {
	if value == nil {
		r.id, r.cache = "", nil
		return nil
	}
	if s, ok := value.(string); ok && s == "" {
		r.id, r.cache = "", nil
		return nil
	}
	id, cache, err := r.target.resolve(value)
	if err != nil {
		return err
	}
	r.id, r.cache = id, cache
	return nil
}

// Get returns the referenced entity, fetching it on first use or when
// force is set. It returns nil when the reference is empty.
func (r *Reference) Get(ctx context.Context, force bool) (*Entity, error) {
	if r.id == "" {
		return nil, nil
	}
	if r.cache != nil && !force {
		return r.cache, nil
	}
	e, err := r.target.fetch(ctx, r.id)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", r.name, err)
	}
	r.cache = e
	return e, nil
}

// Validate enforces the required flag.
func (r *Reference) Validate() error {
	if r.required && r.id == "" {
		return &ValidationError{Property: r.name, Message: "value is required", Err: ErrRequired}
	}
	return nil
}

func (r *Reference) load(raw any) error {
	r.cache = nil
	switch v := raw.(type) {
	case nil:
		r.id = ""
	case string:
		r.id = v
	default:
		return fmt.Errorf("%w: %s holds %T", ErrInvalidReference, r.name, raw)
	}
	return nil
}

func (r *Reference) export() any {
	if r.id == "" {
		return nil
	}
	return r.id
}

// ReferenceList is an ordered set of ids pointing at entities of one model.
type ReferenceList struct {
	name     string
	required bool
	target   target

	ids   []string
	cache map[string]*Entity
}

// Name returns the field name the list is exported under.
func (l *ReferenceList) Name() string { return l.name }

// Target returns the "namespace/typeName" the list points at.
func (l *ReferenceList) Target() string { return l.target.String() }

// IDs returns a copy of the ids in insertion order.
func (l *ReferenceList) IDs() []string { return append([]string(nil), l.ids...) }

// Len returns the number of ids.
func (l *ReferenceList) Len() int { return len(l.ids) }

// Contains reports whether id is in the list.
func (l *ReferenceList) Contains(id string) bool { return l.index(id) >= 0 }

func (l *ReferenceList) index(id string) int {
	for i, v := range l.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Add appends an entity or id. Adding an id twice fails with ErrDuplicateID.
func (l *ReferenceList) Add(value any) error {
	id, cache, err := l.target.resolve(value)
	if err != nil {
		return err
	}
	if l.Contains(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	l.ids = append(l.ids, id)
	if cache != nil {
		l.cacheEntity(cache)
	}
	return nil
}

// Remove drops an entity or id. Missing ids fail with ErrIDNotFound.
func (l *ReferenceList) Remove(value any) error {
	var id string
	switch v := value.(type) {
	case *Entity:
		if v == nil {
			return fmt.Errorf("%w: nil entity", ErrInvalidReference)
		}
		id = v.id
	case string:
		id = v
	default:
		return fmt.Errorf("%w: unsupported value %T", ErrInvalidReference, value)
	}
	i := l.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrIDNotFound, id)
	}
	l.ids = append(l.ids[:i], l.ids[i+1:]...)
	delete(l.cache, id)
	return nil
}

// Set replaces the list. Every value is checked before anything changes.
func (l *ReferenceList) Set(value any) error {
	if value == nil {
		l.ids, l.cache = nil, nil
		return nil
	}
	items, ok := toSlice(value)
	if !ok {
		return fmt.Errorf("%w: %s expects a list", ErrInvalidReference, l.name)
	}
	ids := make([]string, 0, len(items))
	cache := make(map[string]*Entity)
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		id, e, err := l.target.resolve(item)
		if err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = true
		ids = append(ids, id)
		if e != nil {
			cache[id] = e
		}
	}
	l.ids, l.cache = ids, cache
	return nil
}

// Get returns the entity for id, fetching it unless cached.
func (l *ReferenceList) Get(ctx context.Context, id string) (*Entity, error) {
	if !l.Contains(id) {
		return nil, fmt.Errorf("%w: %s", ErrIDNotFound, id)
	}
	if e, ok := l.cache[id]; ok {
		return e, nil
	}
	e, err := l.target.fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", l.name, err)
	}
	l.cacheEntity(e)
	return e, nil
}

// GetAll resolves every id in order.
func (l *ReferenceList) GetAll(ctx context.Context) ([]*Entity, error) {
	out := make([]*Entity, 0, len(l.ids))
	for _, id := range l.ids {
		e, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Validate enforces the required flag: a required list must not be empty.
func (l *ReferenceList) Validate() error {
	if l.required && len(l.ids) == 0 {
		return &ValidationError{Property: l.name, Message: "value is required", Err: ErrRequired}
	}
	return nil
}

func (l *ReferenceList) cacheEntity(e *Entity) {
	if l.cache == nil {
		l.cache = make(map[string]*Entity)
	}
	l.cache[e.id] = e
}

func (l *ReferenceList) load(raw any) error {
	l.ids, l.cache = nil, nil
	if raw == nil {
		return nil
	}
	items, ok := toSlice(raw)
	if !ok {
		return fmt.Errorf("%w: %s holds %T", ErrInvalidReference, l.name, raw)
	}
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		id, ok := item.(string)
		if !ok {
			return fmt.Errorf("%w: %s holds %T", ErrInvalidReference, l.name, item)
		}
		if seen[id] {
			return fmt.Errorf("%w: %s holds %s twice", ErrDuplicateID, l.name, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	l.ids = ids
	return nil
}

func (l *ReferenceList) export() any {
	out := make([]any, len(l.ids))
	for i, id := range l.ids {
		out[i] = id
	}
	return out
}
