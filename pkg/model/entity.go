package model

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docmodel/pkg/security"
	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// Reserved entity document keys besides the store's own.
const (
	FieldType  = "type"
	FieldDraft = "draft"
)

// Entity is a live instance of a Model. It is built by an EntityFactory
// and is not safe for concurrent use.
type Entity struct {
	namespace *Namespace
	model     *Model

	id      string
	rev     string
	deleted bool
	draft   bool

	properties     map[string]*Property
	attachments    map[string]*Attachment
	attachOrder    []string
	references     map[string]*Reference
	referenceLists map[string]*ReferenceList
	queries        map[string]QueryFunc
}

// ID returns the entity's immutable id.
func (e *Entity) ID() string { return e.id }

// Rev returns the last known store revision or "".
func (e *Entity) Rev() string { return e.rev }

// Key returns the trailing id segment, or "" for singletons.
func (e *Entity) Key() string {
	parts := strings.Split(e.id, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-1]
}

// Type returns "namespace/typeName".
func (e *Entity) Type() string { return e.namespace.name + "/" + e.model.TypeName }

// TypeName returns the model's type name.
func (e *Entity) TypeName() string { return e.model.TypeName }

// Namespace returns the owning namespace.
func (e *Entity) Namespace() *Namespace { return e.namespace }

// Model returns the entity's model.
func (e *Entity) Model() *Model { return e.model }

// Deleted reports whether the entity has been removed from the store.
func (e *Entity) Deleted() bool { return e.deleted }

// Draft reports whether validation is suspended.
func (e *Entity) Draft() bool { return e.draft }

// SetDraft toggles draft mode on the entity and every nested entity.
func (e *Entity) SetDraft(draft bool) {
	e.draft = draft
	for _, p := range e.properties {
		for _, sub := range p.nested() {
			sub.SetDraft(draft)
		}
	}
}

// Property returns the named property or nil.
func (e *Entity) Property(name string) *Property { return e.properties[name] }

// Reference returns the named reference or nil.
func (e *Entity) Reference(name string) *Reference { return e.references[name] }

// ReferenceList returns the named reference list or nil.
func (e *Entity) ReferenceList(name string) *ReferenceList { return e.referenceLists[name] }

// Attachment returns the named attachment slot or nil.
func (e *Entity) Attachment(name string) *Attachment { return e.attachments[name] }

// Get returns a member's value: a property's read value, a reference's id,
// a reference list's ids, or an attachment slot.
func (e *Entity) Get(name string) (any, error) {
	if p, ok := e.properties[name]; ok {
		return p.Get()
	}
	if r, ok := e.references[name]; ok {
		return r.ID(), nil
	}
	if l, ok := e.referenceLists[name]; ok {
		return l.IDs(), nil
	}
	if a, ok := e.attachments[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.Type(), name)
}

// MustGet is Get for callers that know the member exists and is readable.
func (e *Entity) MustGet(name string) any {
	v, err := e.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Set writes a property, reference or reference list.
func (e *Entity) Set(name string, value any) error {
	var err error
	switch {
	case e.properties[name] != nil:
		err = e.properties[name].Set(value)
	case e.references[name] != nil:
		err = e.references[name].Set(value)
	case e.referenceLists[name] != nil:
		err = e.referenceLists[name].Set(value)
	default:
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.Type(), name)
	}
	return withEntity(err, e.Type())
}

// Query runs a relationship query method by name.
func (e *Entity) Query(ctx context.Context, name string) ([]*Entity, error) {
	q, ok := e.queries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrQueryNotFound, e.Type(), name)
	}
	return q(ctx)
}

// Queries returns the names of the entity's query methods.
func (e *Entity) Queries() []string { return sortedKeys(e.queries) }

// Validate checks properties, attachments, references and then the
// model's entity rules. Drafts always pass.
func (e *Entity) Validate() error {
	if e.draft {
		return nil
	}
	for _, name := range sortedKeys(e.properties) {
		if err := e.properties[name].Validate(); err != nil {
			return withEntity(err, e.Type())
		}
	}
	for _, name := range e.attachOrder {
		if err := e.attachments[name].Validate(); err != nil {
			return withEntity(err, e.Type())
		}
	}
	for _, name := range sortedKeys(e.references) {
		if err := e.references[name].Validate(); err != nil {
			return withEntity(err, e.Type())
		}
	}
	for _, name := range sortedKeys(e.referenceLists) {
		if err := e.referenceLists[name].Validate(); err != nil {
			return withEntity(err, e.Type())
		}
	}
	for _, rule := range e.model.Rules {
		if err := rule(e); err != nil {
			return withEntity(err, e.Type())
		}
	}
	return nil
}

// Import loads a stored document. Fields absent from doc keep their
// current values; stored values bypass the write pipeline.
func (e *Entity) Import(doc map[string]any) error {
	if t, ok := doc[FieldType].(string); ok && t != e.Type() {
		return fmt.Errorf("%w: %s is not %s", ErrTypeMismatch, t, e.Type())
	}
	if id, ok := doc[types.FieldID].(string); ok && id != "" {
		e.id = id
	}
	if rev, ok := doc[types.FieldRev].(string); ok {
		e.rev = rev
	}
	e.deleted, _ = doc[types.FieldDeleted].(bool)
	draft, _ := doc[FieldDraft].(bool)
	e.draft = draft

	for name, p := range e.properties {
		if raw, ok := doc[name]; ok {
			if err := p.load(raw); err != nil {
				return withEntity(err, e.Type())
			}
		}
	}
	for name, r := range e.references {
		if raw, ok := doc[name]; ok {
			if err := r.load(raw); err != nil {
				return err
			}
		}
	}
	for name, l := range e.referenceLists {
		if raw, ok := doc[name]; ok {
			if err := l.load(raw); err != nil {
				return err
			}
		}
	}
	if raw, ok := doc[types.FieldAttachments].(map[string]any); ok {
		if err := e.importAttachments(raw); err != nil {
			return err
		}
	}
	if draft {
		e.SetDraft(true)
	}
	return nil
}

func (e *Entity) importAttachments(raw map[string]any) error {
	for _, a := range e.attachments {
		a.Clean()
	}
	for _, key := range sortedKeys(raw) {
		name, filename, ok := strings.Cut(key, attachmentSep)
		if !ok {
			continue
		}
		a, ok := e.attachments[name]
		if !ok {
			continue
		}
		entry, _ := raw[key].(map[string]any)
		if err := a.load(filename, entry); err != nil {
			return err
		}
	}
	return nil
}

// Export returns the entity as a store document.
func (e *Entity) Export() types.Document {
	doc := e.exportNested()
	if e.rev != "" {
		doc[types.FieldRev] = e.rev
	}
	if e.deleted {
		doc[types.FieldDeleted] = true
	}
	if len(e.attachments) > 0 {
		atts := make(map[string]any)
		for _, name := range e.attachOrder {
			e.attachments[name].exportTo(atts)
		}
		doc[types.FieldAttachments] = atts
	}
	return doc
}

// exportNested is the embedded form: no revision, tombstone or attachments.
func (e *Entity) exportNested() types.Document {
	doc := types.Document{
		types.FieldID: e.id,
		FieldType:     e.Type(),
	}
	if e.draft {
		doc[FieldDraft] = true
	}
	for name, p := range e.properties {
		if p.IsComputed() {
			continue
		}
		doc[name] = p.export()
	}
	for name, r := range e.references {
		doc[name] = r.export()
	}
	for name, l := range e.referenceLists {
		doc[name] = l.export()
	}
	return doc
}

func (e *Entity) service() (*Service, error) {
	return e.namespace.Service(e.model.TypeName)
}

// Save validates and writes the entity through its data service.
func (e *Entity) Save(ctx context.Context) error {
	svc, err := e.service()
	if err != nil {
		return err
	}
	return svc.Save(ctx, e)
}

// Delete writes a tombstone for the entity at its current revision.
func (e *Entity) Delete(ctx context.Context) error {
	svc, err := e.service()
	if err != nil {
		return err
	}
	res, err := svc.store.Remove(ctx, e.id, e.rev)
	if err != nil {
		svc.log.Error("delete failed", zap.String("id", e.id), zap.Error(err))
		return fmt.Errorf("delete %s: %w", e.id, err)
	}
	e.rev = res.Rev
	e.deleted = true
	return nil
}

// Refresh discards local state and reloads the stored document.
func (e *Entity) Refresh(ctx context.Context) error {
	doc, err := e.namespace.db.Store().Get(ctx, e.id, types.GetOptions{})
	if err != nil {
		return fmt.Errorf("refresh %s: %w", e.id, err)
	}
	if err := e.namespace.factory.build(e); err != nil {
		return err
	}
	return e.Import(doc)
}

// String returns the model's format, or "title:key" falling back to the
// entity type when there is no title.
func (e *Entity) String() string {
	if e.model.Format != nil {
		return e.model.Format(e)
	}
	label := e.Type()
	if p, ok := e.properties["title"]; ok {
		if v, err := p.Get(); err == nil && v != nil && v != "" {
			label = fmt.Sprint(v)
		}
	}
	return label + ":" + e.Key()
}

type securityConfig struct {
	hasher    security.Hasher
	encrypter security.Encrypter
}

func (e *Entity) security() securityConfig {
	db := e.namespace.db
	return securityConfig{hasher: db.hasher, encrypter: db.encrypter}
}

func (e *Entity) addQuery(name string, q QueryFunc) error {
	if err := e.checkFree(name); err != nil {
		return err
	}
	e.queries[name] = q
	return nil
}

func (e *Entity) addReference(r *Reference) error {
	if err := e.checkFree(r.name); err != nil {
		return err
	}
	e.references[r.name] = r
	return nil
}

func (e *Entity) addReferenceList(l *ReferenceList) error {
	if err := e.checkFree(l.name); err != nil {
		return err
	}
	e.referenceLists[l.name] = l
	return nil
}

// checkFree rejects a relationship member whose name is already taken.
func (e *Entity) checkFree(name string) error {
	_, p := e.properties[name]
	_, a := e.attachments[name]
	_, r := e.references[name]
	_, l := e.referenceLists[name]
	_, q := e.queries[name]
	if p || a || r || l || q {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateProperty, e.Type(), name)
	}
	return nil
}
