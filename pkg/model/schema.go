package model

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// Reserved document ids.
const (
	SchemaDocID     = "$/schema"
	MigrationsDocID = "$/migrations"
)

// ServiceLevel says how a model's entities are persisted.
type ServiceLevel string

// Service levels. Models with ServiceNone are only embedded in other
// entities.
const (
	ServiceNone       ServiceLevel = "none"
	ServiceSingleton  ServiceLevel = "singleton"
	ServiceCollection ServiceLevel = "collection"
)

// RelationshipType is the cardinality of a Relationship.
type RelationshipType string

// Relationship types.
const (
	OneToMany  RelationshipType = "one-to-many"
	ManyToMany RelationshipType = "many-to-many"
)

// Schema is the declarative model graph of a database.
type Schema struct {
	Version       int                                `json:"version" yaml:"version"`
	Namespaces    map[string]*NamespaceDefinition    `json:"namespaces" yaml:"namespaces"`
	Relationships map[string]*RelationshipDefinition `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// NamespaceDefinition groups models.
type NamespaceDefinition struct {
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Models      []*Model `json:"models" yaml:"models"`
}

// EntityRule validates a whole entity after its fields pass.
type EntityRule func(e *Entity) error

// Model is the schema of one entity type. Closure members are bound in Go
// code and are not serialized.
type Model struct {
	TypeName    string                           `json:"typeName" yaml:"typeName"`
	Title       string                           `json:"title,omitempty" yaml:"title,omitempty"`
	Description string                           `json:"description,omitempty" yaml:"description,omitempty"`
	Service     ServiceLevel                     `json:"service,omitempty" yaml:"service,omitempty"`
	Properties  map[string]*PropertyDefinition   `json:"properties,omitempty" yaml:"properties,omitempty"`
	Attachments map[string]*AttachmentDefinition `json:"attachments,omitempty" yaml:"attachments,omitempty"`

	Rules  []EntityRule         `json:"-" yaml:"-"`
	Format func(*Entity) string `json:"-" yaml:"-"`
}

// PropertyDefinition declares one entity field.
type PropertyDefinition struct {
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Type names a registered PropertyType.
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
	Default   any    `json:"default,omitempty" yaml:"default,omitempty"`
	Required  bool   `json:"required,omitempty" yaml:"required,omitempty"`
	ReadOnly  bool   `json:"readonly,omitempty" yaml:"readonly,omitempty"`
	Hashed    bool   `json:"hashed,omitempty" yaml:"hashed,omitempty"`
	Encrypted bool   `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
	Multiple  bool   `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	// Model is "typeName" or "namespace/typeName" of an embedded model.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	DefaultFunc func() any          `json:"-" yaml:"-"`
	Computed    func(*Entity) any   `json:"-" yaml:"-"`
	RequiredIf  func(*Entity) bool  `json:"-" yaml:"-"`
	ReadOnlyIf  func(*Entity) bool  `json:"-" yaml:"-"`
	BeforeWrite func(any) any       `json:"-" yaml:"-"`
	AfterRead   func(any) any       `json:"-" yaml:"-"`
	Rules       []Rule              `json:"-" yaml:"-"`
}

// AttachmentDefinition constrains the files of one attachment slot.
type AttachmentDefinition struct {
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Filters lists accepted content types; empty accepts any.
	Filters []string `json:"filters,omitempty" yaml:"filters,omitempty"`
	// Size is the maximum file size in KB; 0 is unlimited.
	Size     int  `json:"size,omitempty" yaml:"size,omitempty"`
	Multiple bool `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	// Limit caps the number of files when Multiple is set; 0 is unlimited.
	Limit    int  `json:"limit,omitempty" yaml:"limit,omitempty"`
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// RelationshipDefinition declares an association between two models.
type RelationshipDefinition struct {
	Type        RelationshipType `json:"type" yaml:"type"`
	Title       string           `json:"title,omitempty" yaml:"title,omitempty"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool             `json:"required,omitempty" yaml:"required,omitempty"`
	Left        RelationshipSide `json:"left" yaml:"left"`
	Right       RelationshipSide `json:"right" yaml:"right"`
}

// RelationshipSide names one end of a relationship. In YAML and JSON a side
// may also be written as the bare "namespace/typeName" string.
type RelationshipSide struct {
	Type         string `json:"type" yaml:"type"`
	QueryName    string `json:"queryName,omitempty" yaml:"queryName,omitempty"`
	PropertyName string `json:"propertyName,omitempty" yaml:"propertyName,omitempty"`
}

// UnmarshalYAML accepts a scalar or a mapping.
func (s *RelationshipSide) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = RelationshipSide{Type: node.Value}
		return nil
	}
	type plain RelationshipSide
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = RelationshipSide(p)
	return nil
}

// UnmarshalJSON accepts a string or an object.
func (s *RelationshipSide) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = RelationshipSide{Type: name}
		return nil
	}
	type plain RelationshipSide
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = RelationshipSide(p)
	return nil
}

// ParseSchema decodes a YAML (or JSON) schema.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &s, nil
}

// LoadSchema reads and decodes a schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return ParseSchema(data)
}

// Document returns the schema as the $/schema document.
func (s *Schema) Document() (types.Document, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc[types.FieldID] = SchemaDocID
	return doc, nil
}

// SchemaFromDocument decodes a $/schema document.
func SchemaFromDocument(doc types.Document) (*Schema, error) {
	body := doc.Clone()
	delete(body, types.FieldID)
	delete(body, types.FieldRev)
	delete(body, types.FieldAttachments)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &s, nil
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// ValidateName checks a database name: a lowercase letter followed by
// lowercase letters, digits or any of _$()+/-.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
