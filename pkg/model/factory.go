package model

import (
	"fmt"
)

// EntityFactory builds entities for the models of one namespace.
type EntityFactory struct {
	namespace *Namespace
}

// NewEntityFactory returns a factory bound to ns.
func NewEntityFactory(ns *Namespace) *EntityFactory {
	return &EntityFactory{namespace: ns}
}

// Create builds a new entity of typeName with a fresh id and defaults
// applied.
func (f *EntityFactory) Create(typeName string) (*Entity, error) {
	m, err := f.namespace.Model(typeName)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		namespace: f.namespace,
		model:     m,
		id:        newEntityID(f.namespace.name, m),
	}
	if err := f.build(e); err != nil {
		return nil, err
	}
	return e, nil
}

// build (re)creates the entity's members from its model. Identity is kept;
// every value returns to its default.
func (f *EntityFactory) build(e *Entity) error {
	db := f.namespace.db
	m := e.model

	e.properties = make(map[string]*Property, len(m.Properties))
	e.attachments = make(map[string]*Attachment, len(m.Attachments))
	e.attachOrder = nil
	e.references = make(map[string]*Reference)
	e.referenceLists = make(map[string]*ReferenceList)
	e.queries = make(map[string]QueryFunc)
	e.rev, e.deleted = "", false

	for _, name := range sortedKeys(m.Properties) {
		def := m.Properties[name]
		var ptype *PropertyType
		if def.Type != "" {
			t, err := db.PropertyType(def.Type)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", e.Type(), name, err)
			}
			ptype = t
		}
		e.properties[name] = newProperty(e, name, def, ptype)
	}
	for _, name := range sortedKeys(e.properties) {
		if err := e.properties[name].init(); err != nil {
			return withEntity(err, e.Type())
		}
	}

	for _, name := range sortedKeys(m.Attachments) {
		e.attachments[name] = &Attachment{name: name, def: m.Attachments[name], entity: e}
		e.attachOrder = append(e.attachOrder, name)
	}

	rels := db.Relationships()
	for _, name := range sortedKeys(rels) {
		r := rels[name]
		if !r.Contains(f.namespace.name, m.TypeName) {
			continue
		}
		if err := r.apply(e); err != nil {
			return fmt.Errorf("relationship %s: %w", name, err)
		}
	}
	return nil
}
