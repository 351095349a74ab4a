package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/docmodel/pkg/security"
	"github.com/mesh-intelligence/docmodel/pkg/sqlite"
	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// crmSchema returns a fresh schema exercising every member kind.
func crmSchema() *Schema {
	return &Schema{
		Namespaces: map[string]*NamespaceDefinition{
			"crm": {
				Title: "CRM",
				Models: []*Model{
					{
						TypeName: "company",
						Properties: map[string]*PropertyDefinition{
							"title": {Type: TypeText, Required: true},
							"code":  {Type: TypeText, ReadOnly: true, Default: "ACME"},
						},
					},
					{
						TypeName: "project",
						Properties: map[string]*PropertyDefinition{
							"title":  {Type: TypeText, Required: true},
							"budget": {Type: TypeNumber},
						},
					},
					{
						TypeName: "author",
						Properties: map[string]*PropertyDefinition{
							"name":     {Type: TypeText},
							"password": {Type: TypeText, Hashed: true, Default: "welcome1a"},
							"secret":   {Encrypted: true},
						},
					},
					{
						TypeName: "settings",
						Service:  ServiceSingleton,
						Properties: map[string]*PropertyDefinition{
							"theme": {Type: TypeText, Default: "dark"},
						},
					},
					{
						TypeName: "address",
						Service:  ServiceNone,
						Properties: map[string]*PropertyDefinition{
							"street": {Type: TypeText, Required: true},
							"city":   {Type: TypeText},
						},
					},
					{
						TypeName: "person",
						Properties: map[string]*PropertyDefinition{
							"firstName": {Type: TypeText},
							"lastName":  {Type: TypeText},
							"fullName": {Computed: func(e *Entity) any {
								return strings.TrimSpace(str(e.MustGet("firstName")) + " " + str(e.MustGet("lastName")))
							}},
							"tags":      {Type: TypeText, Multiple: true},
							"birth":     {Type: TypeDateTime},
							"age":       {Type: TypeInteger},
							"nickname":  {Type: TypeText, RequiredIf: func(e *Entity) bool { return e.MustGet("age") == 99 }},
							"address":   {Model: "address"},
							"addresses": {Model: "crm/address", Multiple: true},
						},
						Attachments: map[string]*AttachmentDefinition{
							"docs":   {Filters: []string{"text/plain"}, Multiple: true, Limit: 2, Size: 1},
							"avatar": {},
						},
					},
				},
			},
		},
		Relationships: map[string]*RelationshipDefinition{
			"companyProjects": {
				Type:  OneToMany,
				Left:  RelationshipSide{Type: "crm/company"},
				Right: RelationshipSide{Type: "crm/project"},
			},
			"projectAuthors": {
				Type:  ManyToMany,
				Left:  RelationshipSide{Type: "crm/project"},
				Right: RelationshipSide{Type: "crm/author"},
			},
		},
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// newStore attaches a SQLite document store in a temp directory.
func newStore(t *testing.T) types.Backend {
	t.Helper()
	store := sqlite.NewBackend()
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { store.Detach() })
	return store
}

// newTestDB creates the crm database with an encrypter configured.
func newTestDB(t *testing.T) *Database {
	t.Helper()
	cipher, err := security.NewCipher("test-secret")
	require.NoError(t, err)
	db, err := Create(context.Background(), newStore(t), crmSchema(),
		WithLogger(zaptest.NewLogger(t)),
		WithSecurity(nil, cipher))
	require.NoError(t, err)
	return db
}

func create(t *testing.T, db *Database, typeName string) *Entity {
	t.Helper()
	e, err := db.CreateEntity("crm", typeName)
	require.NoError(t, err)
	return e
}
