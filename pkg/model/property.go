package model

import (
	"fmt"
	"reflect"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// Property is the live behavior of one entity field. It owns the field's
// stored value, which is the post-write-pipeline form that is persisted.
type Property struct {
	name   string
	def    *PropertyDefinition
	ptype  *PropertyType
	entity *Entity

	value   any
	initial any
}

func newProperty(e *Entity, name string, def *PropertyDefinition, ptype *PropertyType) *Property {
	return &Property{name: name, def: def, ptype: ptype, entity: e}
}

// Name returns the field name.
func (p *Property) Name() string { return p.name }

// Definition returns the declarative definition.
func (p *Property) Definition() *PropertyDefinition { return p.def }

// Type returns the assigned PropertyType or nil.
func (p *Property) Type() *PropertyType { return p.ptype }

// IsComputed reports whether the field is derived from the entity.
func (p *Property) IsComputed() bool { return p.def.Computed != nil }

// IsRequired evaluates the required flag or predicate.
func (p *Property) IsRequired() bool {
	if p.def.RequiredIf != nil {
		return p.def.RequiredIf(p.entity)
	}
	return p.def.Required
}

// IsReadOnly evaluates the readonly flag or predicate.
func (p *Property) IsReadOnly() bool {
	if p.def.ReadOnlyIf != nil {
		return p.def.ReadOnlyIf(p.entity)
	}
	return p.def.ReadOnly
}

func (p *Property) isNested() bool { return p.def.Model != "" }

// init applies the declared default through the write pipeline, or the
// empty value for the field's multiplicity.
func (p *Property) init() error {
	if p.IsComputed() {
		return nil
	}
	var v any
	switch {
	case p.def.DefaultFunc != nil:
		v = p.def.DefaultFunc()
	case p.def.Default != nil:
		v = p.def.Default
	case p.def.Multiple:
		p.value = []any{}
		return nil
	default:
		p.value = nil
		return nil
	}
	p.initial = v
	return p.write(v)
}

// Set writes value through the pipeline. Computed fields reject writes;
// read-only fields accept only their default. Set checks only the shape of
// the value; required and rule checks run in Validate.
func (p *Property) Set(value any) error {
	if p.IsComputed() {
		return p.errorf(ErrComputed, "cannot set a computed property")
	}
	if p.IsReadOnly() && !reflect.DeepEqual(value, p.initial) {
		return p.errorf(ErrReadOnly, "cannot set a read-only property")
	}
	return p.write(value)
}

func (p *Property) write(value any) error {
	if s, ok := toSlice(value); ok {
		value = s
	}
	if err := p.checkMultiplicity(value); err != nil {
		return err
	}

	if p.isNested() {
		if err := p.checkEntities(value); err != nil {
			return err
		}
		if s, ok := value.([]any); ok {
			value = append([]any(nil), s...)
		}
		p.value = value
		return nil
	}

	if !p.def.Multiple {
		stored, err := p.transform(value)
		if err != nil {
			return err
		}
		p.value = stored
		return nil
	}

	items := value.([]any)
	stored := make([]any, len(items))
	for i, item := range items {
		v, err := p.transform(item)
		if err != nil {
			return err
		}
		stored[i] = v
	}
	p.value = stored
	return nil
}

func (p *Property) checkMultiplicity(value any) error {
	_, many := value.([]any)
	if p.def.Multiple && !many {
		return p.errorf(ErrMultiplicity, "expected a list of values")
	}
	if !p.def.Multiple && many {
		return p.errorf(ErrMultiplicity, "expected a single value")
	}
	return nil
}

// checkEntities ensures nested fields only hold entities of the embedded
// model.
func (p *Property) checkEntities(value any) error {
	items := []any{value}
	if s, ok := value.([]any); ok {
		items = s
	}
	ns, typeName := p.nestedType()
	for _, item := range items {
		if item == nil {
			continue
		}
		e, ok := item.(*Entity)
		if !ok || e == nil || e.namespace.name != ns || e.model.TypeName != typeName {
			return p.errorf(ErrModelMismatch, fmt.Sprintf("model mismatch, expected %s/%s", ns, typeName))
		}
	}
	return nil
}

// transform runs the write hooks, then encrypts or hashes.
func (p *Property) transform(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if p.def.BeforeWrite != nil {
		v = p.def.BeforeWrite(v)
	}
	if p.ptype != nil && p.ptype.BeforeWrite != nil {
		v = p.ptype.BeforeWrite(v)
	}
	sec := p.entity.security()
	switch {
	case p.def.Encrypted:
		if sec.encrypter == nil {
			return nil, p.errorf(ErrNoEncrypter, "encrypted property needs an encrypter")
		}
		return sec.encrypter.Encrypt(v)
	case p.def.Hashed:
		return sec.hasher.Hash(v)
	}
	return v, nil
}

// Get returns the field's value: computed fields are evaluated, hashed
// values are returned as stored, and encrypted values are decrypted before
// the type's and the property's read hooks run. Decrypted values come back
// as JSON decodes them, so an untyped number reads as float64 while an
// Integer field reads as int.
func (p *Property) Get() (any, error) {
	if p.IsComputed() {
		return p.def.Computed(p.entity), nil
	}
	if p.isNested() {
		if s, ok := p.value.([]any); ok {
			return append([]any(nil), s...), nil
		}
		return p.value, nil
	}
	if !p.def.Multiple {
		return p.read(p.value)
	}
	items, _ := p.value.([]any)
	out := make([]any, len(items))
	for i, item := range items {
		v, err := p.read(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *Property) read(v any) (any, error) {
	if v == nil || p.def.Hashed {
		return v, nil
	}
	if p.def.Encrypted {
		sec := p.entity.security()
		if sec.encrypter == nil {
			return nil, p.errorf(ErrNoEncrypter, "encrypted property needs an encrypter")
		}
		plain, err := sec.encrypter.Decrypt(v)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", p.name, err)
		}
		v = plain
	}
	if p.ptype != nil && p.ptype.AfterRead != nil {
		v = p.ptype.AfterRead(v)
	}
	if p.def.AfterRead != nil {
		v = p.def.AfterRead(v)
	}
	return v, nil
}

// Validate checks the field's current value as Get returns it. Hashed
// values are only checked for presence.
func (p *Property) Validate() error {
	if p.IsComputed() {
		return nil
	}
	v, err := p.Get()
	if err != nil {
		return err
	}
	if p.def.Hashed {
		if p.IsRequired() && isEmptyValue(v) {
			return p.errorf(ErrRequired, "value is required")
		}
		return nil
	}
	return p.validateValue(v)
}

func (p *Property) validateValue(v any) error {
	if p.IsRequired() && isEmptyValue(v) {
		return p.errorf(ErrRequired, "value is required")
	}
	if v == nil {
		return nil
	}

	items := []any{v}
	if p.def.Multiple {
		if s, ok := v.([]any); ok {
			items = s
		}
	}

	if p.isNested() {
		return p.validateNested(items)
	}

	for _, item := range items {
		if err := p.runRules(item); err != nil {
			return err
		}
	}
	return nil
}

func (p *Property) validateNested(items []any) error {
	ns, typeName := p.nestedType()
	for _, item := range items {
		if item == nil {
			continue
		}
		e, ok := item.(*Entity)
		if !ok || e == nil || e.namespace.name != ns || e.model.TypeName != typeName {
			return p.errorf(ErrModelMismatch, fmt.Sprintf("model mismatch, expected %s/%s", ns, typeName))
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

// nestedType resolves the embedded model's namespace and type name.
func (p *Property) nestedType() (string, string) {
	if ns, typeName, ok := splitType(p.def.Model); ok {
		return ns, typeName
	}
	return p.entity.namespace.name, p.def.Model
}

func (p *Property) runRules(v any) error {
	var rules []Rule
	if p.ptype != nil {
		rules = append(rules, p.ptype.Rules...)
	}
	rules = append(rules, p.def.Rules...)
	for _, rule := range rules {
		if err := rule(v); err != nil {
			return p.errorf(ErrInvalidValue, "invalid value: "+err.Error())
		}
	}
	return nil
}

// load stores a persisted value without running the write pipeline.
func (p *Property) load(raw any) error {
	if p.IsComputed() {
		return nil
	}
	if p.isNested() {
		return p.loadNested(raw)
	}
	if s, ok := toSlice(raw); ok {
		raw = s
	}
	if p.def.Multiple {
		switch v := raw.(type) {
		case nil:
			raw = []any{}
		case []any:
		default:
			raw = []any{v}
		}
	}
	p.value = raw
	return nil
}

func (p *Property) loadNested(raw any) error {
	ns, typeName := p.nestedType()
	build := func(v any) (any, error) {
		if v == nil {
			return nil, nil
		}
		var m map[string]any
		switch doc := v.(type) {
		case map[string]any:
			m = doc
		case types.Document:
			m = doc
		}
		if m == nil {
			return nil, p.errorf(ErrModelMismatch, fmt.Sprintf("model mismatch, expected %s/%s", ns, typeName))
		}
		sub, err := p.entity.namespace.db.CreateEntity(ns, typeName)
		if err != nil {
			return nil, err
		}
		if err := sub.Import(m); err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		return sub, nil
	}

	if !p.def.Multiple {
		v, err := build(raw)
		if err != nil {
			return err
		}
		p.value = v
		return nil
	}
	items, _ := toSlice(raw)
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := build(item)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	p.value = out
	return nil
}

// export returns the persisted form of the field.
func (p *Property) export() any {
	if !p.isNested() {
		if s, ok := p.value.([]any); ok {
			return append([]any(nil), s...)
		}
		return p.value
	}
	exportOne := func(v any) any {
		if e, ok := v.(*Entity); ok && e != nil {
			return map[string]any(e.exportNested())
		}
		return nil
	}
	if !p.def.Multiple {
		return exportOne(p.value)
	}
	items, _ := p.value.([]any)
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = exportOne(item)
	}
	return out
}

// nested returns the entities held by a nested field.
func (p *Property) nested() []*Entity {
	if !p.isNested() {
		return nil
	}
	items := []any{p.value}
	if s, ok := p.value.([]any); ok {
		items = s
	}
	var out []*Entity
	for _, item := range items {
		if e, ok := item.(*Entity); ok && e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (p *Property) errorf(err error, msg string) error {
	return &ValidationError{Property: p.name, Message: msg, Err: err}
}
