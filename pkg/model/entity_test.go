package model

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

func TestEntity_Identity(t *testing.T) {
	db := newTestDB(t)

	company := create(t, db, "company")
	assert.Regexp(t, regexp.MustCompile(`^crm/company/\d+-\d{3}$`), company.ID())
	assert.Equal(t, "crm/company", company.Type())
	assert.Equal(t, "company", company.TypeName())
	assert.Regexp(t, `^\d+-\d{3}$`, company.Key())
	assert.Empty(t, company.Rev())

	settings := create(t, db, "settings")
	assert.Equal(t, "crm/settings", settings.ID())
	assert.Empty(t, settings.Key())
	assert.Equal(t, "dark", settings.MustGet("theme"))
}

func TestEntity_UnknownMember(t *testing.T) {
	db := newTestDB(t)
	company := create(t, db, "company")

	_, err := company.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownProperty)
	assert.ErrorIs(t, company.Set("missing", 1), ErrUnknownProperty)
	assert.Panics(t, func() { company.MustGet("missing") })
}

func TestEntity_ExportImportRoundTrip(t *testing.T) {
	db := newTestDB(t)
	person := create(t, db, "person")
	require.NoError(t, person.Set("firstName", "Ada"))
	require.NoError(t, person.Set("tags", []string{"math", "code"}))

	address := create(t, db, "address")
	require.NoError(t, address.Set("street", "Main St"))
	require.NoError(t, person.Set("address", address))
	require.NoError(t, person.Attachment("docs").Add("notes.txt", "text/plain", []byte("hello")))

	doc := person.Export()
	assert.Equal(t, person.ID(), doc[types.FieldID])
	assert.Equal(t, "crm/person", doc[FieldType])
	assert.NotContains(t, doc, types.FieldRev)
	nested := doc["address"].(map[string]any)
	assert.Equal(t, "Main St", nested["street"])
	assert.NotContains(t, nested, types.FieldAttachments)
	atts := doc[types.FieldAttachments].(map[string]any)
	assert.Contains(t, atts, "docs|notes.txt")

	clone := create(t, db, "person")
	require.NoError(t, clone.Import(doc))
	assert.Equal(t, person.ID(), clone.ID())
	assert.Equal(t, "Ada", clone.MustGet("firstName"))
	assert.Equal(t, []any{"math", "code"}, clone.MustGet("tags"))

	sub, ok := clone.MustGet("address").(*Entity)
	require.True(t, ok)
	assert.Equal(t, "Main St", sub.MustGet("street"))
	assert.Equal(t, address.ID(), sub.ID())

	data, err := clone.Attachment("docs").File("notes.txt").Data(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, doc, clone.Export())
}

func TestEntity_ImportKeepsMissingDefaults(t *testing.T) {
	db := newTestDB(t)
	company := create(t, db, "company")
	require.NoError(t, company.Import(map[string]any{"title": "Acme"}))
	assert.Equal(t, "Acme", company.MustGet("title"))
	assert.Equal(t, "ACME", company.MustGet("code"))
}

func TestEntity_ImportTypeMismatch(t *testing.T) {
	db := newTestDB(t)
	company := create(t, db, "company")
	err := company.Import(map[string]any{FieldType: "crm/project"})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestEntity_ImportDraft(t *testing.T) {
	db := newTestDB(t)
	project := create(t, db, "project")
	require.NoError(t, project.Import(map[string]any{FieldDraft: true, "title": 42}))
	assert.True(t, project.Draft())
	assert.NoError(t, project.Validate())
	assert.Equal(t, true, project.Export()[FieldDraft])
}

func TestEntity_SaveRefreshDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	company := create(t, db, "company")

	err := company.Save(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequired)
	assert.Contains(t, err.Error(), "validation error of type crm/company")

	require.NoError(t, company.Set("title", "Acme"))
	require.NoError(t, company.Save(ctx))
	rev := company.Rev()
	assert.Regexp(t, `^1-`, rev)

	require.NoError(t, company.Set("title", "Changed"))
	require.NoError(t, company.Refresh(ctx))
	assert.Equal(t, "Acme", company.MustGet("title"))
	assert.Equal(t, rev, company.Rev())

	require.NoError(t, company.Delete(ctx))
	assert.True(t, company.Deleted())
	_, err = db.Store().Get(ctx, company.ID(), types.GetOptions{})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEntity_StaleRevisionConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	company := create(t, db, "company")
	require.NoError(t, company.Set("title", "Acme"))
	require.NoError(t, company.Save(ctx))

	svc, err := db.Service("crm", "company")
	require.NoError(t, err)
	stale, err := svc.Get(ctx, company.ID())
	require.NoError(t, err)

	require.NoError(t, company.Set("title", "First"))
	require.NoError(t, company.Save(ctx))

	require.NoError(t, stale.Set("title", "Second"))
	assert.ErrorIs(t, stale.Save(ctx), types.ErrConflict)
}

func TestEntity_NotPersistent(t *testing.T) {
	db := newTestDB(t)
	address := create(t, db, "address")
	require.NoError(t, address.Set("street", "Main St"))
	assert.ErrorIs(t, address.Save(context.Background()), ErrNotPersistent)
}

func TestEntity_String(t *testing.T) {
	db := newTestDB(t)
	company := create(t, db, "company")
	require.NoError(t, company.Set("title", "Acme"))
	assert.Equal(t, "Acme:"+company.Key(), company.String())

	project := create(t, db, "project")
	assert.Equal(t, "crm/project:"+project.Key(), project.String())

	settings := create(t, db, "settings")
	assert.Equal(t, "crm/settings:", settings.String())
}

func TestEntity_Rules(t *testing.T) {
	errBudget := errors.New("budget must be positive")
	schema := crmSchema()
	for _, m := range schema.Namespaces["crm"].Models {
		if m.TypeName == "project" {
			m.Rules = []EntityRule{func(e *Entity) error {
				if b, ok := e.MustGet("budget").(float64); ok && b <= 0 {
					return errBudget
				}
				return nil
			}}
			m.Format = func(e *Entity) string { return "project " + str(e.MustGet("title")) }
		}
	}
	db, err := Create(context.Background(), newStore(t), schema)
	require.NoError(t, err)

	project, err := db.CreateEntity("crm", "project")
	require.NoError(t, err)
	require.NoError(t, project.Set("title", "Apollo"))
	require.NoError(t, project.Set("budget", -1.0))
	assert.ErrorIs(t, project.Validate(), errBudget)
	assert.Equal(t, "project Apollo", project.String())

	require.NoError(t, project.Set("budget", 10.0))
	assert.NoError(t, project.Validate())
}
