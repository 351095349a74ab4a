package model

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// DefaultPageSize is used by Find when a page has no size.
const DefaultPageSize = 25

// Page selects a window of Find results. Index is zero-based.
type Page struct {
	Size  int
	Index int
}

// Service is the data service of one persisted model. It reads and writes
// entities through the database's store.
type Service struct {
	namespace *Namespace
	model     *Model
	store     types.Store
	log       *zap.Logger
}

func newService(ns *Namespace, m *Model) *Service {
	return &Service{
		namespace: ns,
		model:     m,
		store:     ns.db.store,
		log:       ns.db.log.With(zap.String("type", ns.name+"/"+m.TypeName)),
	}
}

// Model returns the served model.
func (s *Service) Model() *Model { return s.model }

func (s *Service) typeID() string { return s.namespace.name + "/" + s.model.TypeName }

// Create builds a new, unsaved entity.
func (s *Service) Create() (*Entity, error) {
	return s.namespace.factory.Create(s.model.TypeName)
}

// Get loads the entity stored under id.
func (s *Service) Get(ctx context.Context, id string) (*Entity, error) {
	doc, err := s.store.Get(ctx, id, types.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return s.fromDocument(doc)
}

// Singleton loads the model's single entity.
func (s *Service) Singleton(ctx context.Context) (*Entity, error) {
	return s.Get(ctx, s.typeID())
}

// GetAll loads every stored entity of the model ordered by id.
func (s *Service) GetAll(ctx context.Context) ([]*Entity, error) {
	return s.Find(ctx, nil, nil)
}

// GetSome loads the entities with the given ids, in the given order.
func (s *Service) GetSome(ctx context.Context, ids ...string) ([]*Entity, error) {
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Find returns the model's entities matching selector. A nil page returns
// every match.
func (s *Service) Find(ctx context.Context, selector types.Selector, page *Page) ([]*Entity, error) {
	q := s.query(selector)
	if page != nil {
		size := page.Size
		if size <= 0 {
			size = DefaultPageSize
		}
		q.Limit = size
		q.Skip = page.Index * size
	}
	docs, err := s.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", s.typeID(), err)
	}
	out := make([]*Entity, 0, len(docs))
	for _, doc := range docs {
		e, err := s.fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// query scopes selector to the model's ids.
func (s *Service) query(selector types.Selector) types.Query {
	sel := types.Selector{}
	for k, v := range selector {
		sel[k] = v
	}
	if s.model.Service == ServiceSingleton {
		sel[types.FieldID] = s.typeID()
		return types.Query{Selector: sel}
	}
	return types.Query{Selector: sel, Prefix: s.typeID() + "/"}
}

// FindOne returns the first match or types.ErrNotFound.
func (s *Service) FindOne(ctx context.Context, selector types.Selector) (*Entity, error) {
	found, err := s.Find(ctx, selector, &Page{Size: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("find one %s: %w", s.typeID(), types.ErrNotFound)
	}
	return found[0], nil
}

// Exists reports whether a live document is stored under id.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.Get(ctx, id, types.GetOptions{})
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return true, nil
}

// Save validates e and writes it. On success e carries the new revision.
func (s *Service) Save(ctx context.Context, e *Entity) error {
	if err := s.check(e); err != nil {
		return err
	}
	res, err := s.store.Put(ctx, e.Export())
	if err != nil {
		s.log.Error("save failed", zap.String("id", e.id), zap.Error(err))
		return fmt.Errorf("save %s: %w", e.id, err)
	}
	e.rev = res.Rev
	s.log.Debug("saved", zap.String("id", e.id), zap.String("rev", res.Rev))
	return nil
}

// SaveAll validates every entity, then writes them in one bulk request.
// Writes are independent: successful entities get their new revision even
// when others fail, and the per-document results are returned.
func (s *Service) SaveAll(ctx context.Context, entities ...*Entity) ([]types.PutResult, error) {
	docs := make([]types.Document, len(entities))
	for i, e := range entities {
		if err := s.check(e); err != nil {
			return nil, err
		}
		docs[i] = e.Export()
	}
	results, err := s.store.BulkDocs(ctx, docs)
	if err != nil {
		s.log.Error("bulk save failed", zap.Int("count", len(docs)), zap.Error(err))
		return nil, fmt.Errorf("save all %s: %w", s.typeID(), err)
	}
	for i, res := range results {
		if i >= len(entities) {
			break
		}
		if res.OK() {
			entities[i].rev = res.Rev
			continue
		}
		s.log.Warn("bulk save entry failed", zap.String("id", res.ID), zap.String("error", res.Error))
	}
	return results, nil
}

func (s *Service) check(e *Entity) error {
	if e.namespace != s.namespace || e.model.TypeName != s.model.TypeName {
		return fmt.Errorf("%w: %s is not %s", ErrTypeMismatch, e.Type(), s.typeID())
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validation error of type %s: %w", s.typeID(), err)
	}
	return nil
}

// Delete removes the entity stored under id.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.Get(ctx, id, types.GetOptions{})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if _, err := s.store.Remove(ctx, id, doc.Rev()); err != nil {
		s.log.Error("delete failed", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DefineIndex requests a secondary index over the given fields.
func (s *Service) DefineIndex(ctx context.Context, name string, fields ...string) (types.IndexResult, error) {
	res, err := s.store.CreateIndex(ctx, types.IndexDef{Name: name, Fields: fields})
	if err != nil {
		return types.IndexResult{}, fmt.Errorf("define index %s: %w", name, err)
	}
	return res, nil
}

func (s *Service) fromDocument(doc types.Document) (*Entity, error) {
	e := &Entity{namespace: s.namespace, model: s.model, id: doc.ID()}
	if err := s.namespace.factory.build(e); err != nil {
		return nil, err
	}
	if err := e.Import(doc); err != nil {
		return nil, err
	}
	return e, nil
}
