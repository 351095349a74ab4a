package model

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// QueryFunc lists the entities related to the entity it is bound to.
type QueryFunc func(ctx context.Context) ([]*Entity, error)

// Relationship is a resolved RelationshipDefinition. One-to-many puts a
// Reference on the right model and a query on the left; many-to-many puts
// a ReferenceList on the left model and a query on the right.
type Relationship struct {
	Name        string
	Type        RelationshipType
	Title       string
	Description string
	Required    bool
	Left        RelationshipSide
	Right       RelationshipSide

	leftNS, leftType   string
	rightNS, rightType string
}

// NewRelationship validates def and fills in the derived names.
func NewRelationship(name string, def *RelationshipDefinition) (*Relationship, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: %s has no definition", ErrInvalidRelationship, name)
	}
	if def.Type != OneToMany && def.Type != ManyToMany {
		return nil, fmt.Errorf("%w: %s has unknown type %q", ErrInvalidRelationship, name, def.Type)
	}
	r := &Relationship{
		Name:        name,
		Type:        def.Type,
		Title:       def.Title,
		Description: def.Description,
		Required:    def.Required,
		Left:        def.Left,
		Right:       def.Right,
	}
	var ok bool
	if r.leftNS, r.leftType, ok = splitType(def.Left.Type); !ok {
		return nil, fmt.Errorf("%w: %s left side %q is not namespace/typeName", ErrInvalidRelationship, name, def.Left.Type)
	}
	if r.rightNS, r.rightType, ok = splitType(def.Right.Type); !ok {
		return nil, fmt.Errorf("%w: %s right side %q is not namespace/typeName", ErrInvalidRelationship, name, def.Right.Type)
	}

	switch r.Type {
	case OneToMany:
		q := def.Left.QueryName
		if q == "" {
			q = r.rightType + "List"
		}
		r.Left.QueryName = "get" + capitalize(q)
		if r.Right.PropertyName == "" {
			r.Right.PropertyName = r.leftType
		}
	case ManyToMany:
		if r.Left.PropertyName == "" {
			r.Left.PropertyName = r.rightType + "List"
		}
		q := def.Right.QueryName
		if q == "" {
			q = r.leftType + "List"
		}
		r.Right.QueryName = "get" + capitalize(q)
	}
	return r, nil
}

// Contains reports whether the model takes part in the relationship.
func (r *Relationship) Contains(ns, typeName string) bool {
	return r.isLeft(ns, typeName) || r.isRight(ns, typeName)
}

func (r *Relationship) isLeft(ns, typeName string) bool {
	return r.leftNS == ns && r.leftType == typeName
}

func (r *Relationship) isRight(ns, typeName string) bool {
	return r.rightNS == ns && r.rightType == typeName
}

// Index returns the secondary index that serves the relationship's query.
func (r *Relationship) Index() types.IndexDef {
	field := r.Right.PropertyName
	if r.Type == ManyToMany {
		field = r.Left.PropertyName
	}
	return types.IndexDef{Name: r.Name, Fields: []string{field}}
}

// side returns the side e's model takes in the relationship. A model on
// both sides is the left side.
func (r *Relationship) side(ns, typeName string) (left, right bool) {
	if r.isLeft(ns, typeName) {
		return true, false
	}
	return false, r.isRight(ns, typeName)
}

// apply adds the relationship's member for the side e's model takes.
func (r *Relationship) apply(e *Entity) error {
	isLeft, isRight := r.side(e.namespace.name, e.model.TypeName)
	left := target{db: e.namespace.db, namespace: r.leftNS, typeName: r.leftType}
	right := target{db: e.namespace.db, namespace: r.rightNS, typeName: r.rightType}

	switch {
	case r.Type == OneToMany && isLeft:
		return e.addQuery(r.Left.QueryName, r.oneToManyQuery(e))
	case r.Type == OneToMany && isRight:
		return e.addReference(&Reference{name: r.Right.PropertyName, required: r.Required, target: left})
	case r.Type == ManyToMany && isLeft:
		return e.addReferenceList(&ReferenceList{name: r.Left.PropertyName, required: r.Required, target: right})
	case r.Type == ManyToMany && isRight:
		return e.addQuery(r.Right.QueryName, r.manyToManyQuery(e))
	}
	return nil
}

// oneToManyQuery finds right-side entities whose reference holds e's id.
func (r *Relationship) oneToManyQuery(e *Entity) QueryFunc {
	return func(ctx context.Context) ([]*Entity, error) {
		svc, err := e.namespace.db.Service(r.rightNS, r.rightType)
		if err != nil {
			return nil, err
		}
		return svc.Find(ctx, types.Selector{r.Right.PropertyName: e.id}, nil)
	}
}

// manyToManyQuery finds left-side entities whose list contains e's id.
func (r *Relationship) manyToManyQuery(e *Entity) QueryFunc {
	return func(ctx context.Context) ([]*Entity, error) {
		svc, err := e.namespace.db.Service(r.leftNS, r.leftType)
		if err != nil {
			return nil, err
		}
		return svc.Find(ctx, types.Selector{r.Left.PropertyName: types.Contains(e.id)}, nil)
	}
}
