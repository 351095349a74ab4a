package model

import (
	"fmt"
	"sort"
)

// Namespace groups the models of one schema namespace and owns their
// factory and data services.
type Namespace struct {
	name        string
	title       string
	description string
	db          *Database
	models      map[string]*Model
	factory     *EntityFactory
	services    map[string]*Service
}

func newNamespace(db *Database, name string, def *NamespaceDefinition) *Namespace {
	ns := &Namespace{
		name:        name,
		title:       def.Title,
		description: def.Description,
		db:          db,
		models:      make(map[string]*Model, len(def.Models)),
		services:    make(map[string]*Service),
	}
	for _, m := range def.Models {
		if m.Service == "" {
			m.Service = ServiceCollection
		}
		ns.models[m.TypeName] = m
		if m.Service != ServiceNone {
			ns.services[m.TypeName] = newService(ns, m)
		}
	}
	ns.factory = NewEntityFactory(ns)
	return ns
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// Title returns the display title.
func (n *Namespace) Title() string { return n.title }

// Description returns the namespace description.
func (n *Namespace) Description() string { return n.description }

// Database returns the owning database.
func (n *Namespace) Database() *Database { return n.db }

// Model returns the named model.
func (n *Namespace) Model(typeName string) (*Model, error) {
	m, ok := n.models[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrModelNotFound, n.name, typeName)
	}
	return m, nil
}

// Models returns the namespace's models ordered by type name.
func (n *Namespace) Models() []*Model {
	out := make([]*Model, 0, len(n.models))
	for _, m := range n.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeName < out[j].TypeName })
	return out
}

// CreateEntity builds a new entity of typeName.
func (n *Namespace) CreateEntity(typeName string) (*Entity, error) {
	return n.factory.Create(typeName)
}

// Service returns the data service of a persisted model. Models declared
// with service "none" have none.
func (n *Namespace) Service(typeName string) (*Service, error) {
	m, err := n.Model(typeName)
	if err != nil {
		return nil, err
	}
	svc, ok := n.services[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s is %s", ErrNotPersistent, n.name, m.TypeName, m.Service)
	}
	return svc, nil
}
