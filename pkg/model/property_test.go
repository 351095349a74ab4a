package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/docmodel/pkg/security"
)

func TestProperty_HashedDefault(t *testing.T) {
	db := newTestDB(t)
	author := create(t, db, "author")

	got, err := author.Get("password")
	require.NoError(t, err)
	assert.Equal(t, "fd479f8219295f5e91efb4e90a3f29fb6e59c2f4a71238a4f596bb7da1b4add1", got)

	require.NoError(t, author.Set("password", "other"))
	got, _ = author.Get("password")
	assert.NotEqual(t, "other", got)
	assert.Len(t, got, 64)
}

func TestProperty_SetThenValidate(t *testing.T) {
	tests := []struct {
		name        string
		typeName    string
		field       string
		value       any
		setErr      error
		validateErr error
	}{
		{"text accepts string", "project", "title", "Apollo", nil, nil},
		{"text rejects number", "project", "title", 42, nil, ErrInvalidValue},
		{"required rejects empty", "project", "title", "", nil, ErrRequired},
		{"required rejects nil", "project", "title", nil, nil, ErrRequired},
		{"number accepts float", "project", "budget", 12.5, nil, nil},
		{"number rejects string", "project", "budget", "lots", nil, ErrInvalidValue},
		{"integer rejects fraction", "person", "age", 1.5, nil, ErrInvalidValue},
		{"integer accepts int", "person", "age", 30, nil, nil},
		{"multiple rejects scalar", "person", "tags", "a", ErrMultiplicity, nil},
		{"multiple accepts typed slice", "person", "tags", []string{"a", "b"}, nil, nil},
		{"multiple checks each element", "person", "tags", []any{"a", 1}, nil, ErrInvalidValue},
		{"single rejects slice", "person", "firstName", []string{"a"}, ErrMultiplicity, nil},
		{"computed rejects writes", "person", "fullName", "x", ErrComputed, nil},
		{"readonly rejects change", "company", "code", "OTHER", ErrReadOnly, nil},
		{"readonly accepts default", "company", "code", "ACME", nil, nil},
		{"datetime rejects string", "person", "birth", "yesterday", nil, ErrInvalidValue},
	}
	db := newTestDB(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := create(t, db, tt.typeName)
			if tt.typeName != "person" {
				require.NoError(t, e.Set("title", "Base"))
			}
			err := e.Set(tt.field, tt.value)
			if tt.setErr != nil {
				assert.ErrorIs(t, err, tt.setErr)
				return
			}
			require.NoError(t, err)
			if tt.validateErr == nil {
				assert.NoError(t, e.Property(tt.field).Validate())
			} else {
				assert.ErrorIs(t, e.Validate(), tt.validateErr)
			}
		})
	}
}

func TestProperty_EmptyValuesFailValidate(t *testing.T) {
	schema := &Schema{Namespaces: map[string]*NamespaceDefinition{
		"app": {Models: []*Model{{
			TypeName: "note",
			Properties: map[string]*PropertyDefinition{
				"title": {Required: true},
				"tags":  {Required: true, Multiple: true},
			},
		}}},
	}}
	db, err := Create(context.Background(), newStore(t), schema)
	require.NoError(t, err)

	tests := []struct {
		name  string
		field string
		full  any
		empty any
	}{
		{"nil", "title", "Apollo", nil},
		{"empty string", "title", "Apollo", ""},
		{"empty map", "title", "Apollo", map[string]any{}},
		{"empty list", "tags", []any{"a"}, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			note, err := db.CreateEntity("app", "note")
			require.NoError(t, err)
			require.NoError(t, note.Set("title", "Base"))
			require.NoError(t, note.Set("tags", []any{"base"}))
			require.NoError(t, note.Set(tt.field, tt.full))
			require.NoError(t, note.Validate())

			require.NoError(t, note.Set(tt.field, tt.empty))
			assert.ErrorIs(t, note.Validate(), ErrRequired)

			require.NoError(t, note.Set(tt.field, tt.full))
			assert.NoError(t, note.Validate())
			assert.Equal(t, tt.full, note.MustGet(tt.field))
		})
	}
}

func TestProperty_EncryptedNumbers(t *testing.T) {
	schema := &Schema{Namespaces: map[string]*NamespaceDefinition{
		"app": {Models: []*Model{{
			TypeName: "vault",
			Properties: map[string]*PropertyDefinition{
				"pin":   {Type: TypeInteger, Encrypted: true},
				"ratio": {Encrypted: true},
			},
		}}},
	}}
	cipher, err := security.NewCipher("test-secret")
	require.NoError(t, err)
	db, err := Create(context.Background(), newStore(t), schema, WithSecurity(nil, cipher))
	require.NoError(t, err)

	vault, err := db.CreateEntity("app", "vault")
	require.NoError(t, err)
	require.NoError(t, vault.Set("pin", 5))
	require.NoError(t, vault.Set("ratio", 5))
	assert.NotEqual(t, 5, vault.Export()["pin"])

	assert.Equal(t, 5, vault.MustGet("pin"))
	assert.Equal(t, float64(5), vault.MustGet("ratio"))
	assert.NoError(t, vault.Validate())
}

func TestProperty_ValidationErrorNamesField(t *testing.T) {
	db := newTestDB(t)
	project := create(t, db, "project")

	err := project.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "crm/project", ve.Entity)
	assert.Equal(t, "title", ve.Property)
	assert.Equal(t, "crm/project.title: value is required", err.Error())
}

func TestProperty_RequiredIf(t *testing.T) {
	db := newTestDB(t)
	person := create(t, db, "person")
	require.NoError(t, person.Validate())

	require.NoError(t, person.Set("age", 99))
	assert.ErrorIs(t, person.Validate(), ErrRequired)

	require.NoError(t, person.Set("nickname", "Old"))
	assert.NoError(t, person.Validate())
}

func TestProperty_DraftSkipsValidation(t *testing.T) {
	db := newTestDB(t)
	project := create(t, db, "project")
	project.SetDraft(true)

	require.NoError(t, project.Set("title", 42))
	assert.NoError(t, project.Validate())

	project.SetDraft(false)
	assert.ErrorIs(t, project.Validate(), ErrInvalidValue)
}

func TestProperty_Computed(t *testing.T) {
	db := newTestDB(t)
	person := create(t, db, "person")
	require.NoError(t, person.Set("firstName", "Ada"))
	require.NoError(t, person.Set("lastName", "Lovelace"))

	got, err := person.Get("fullName")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got)
	assert.NotContains(t, person.Export(), "fullName")
}

func TestProperty_Encrypted(t *testing.T) {
	db := newTestDB(t)
	author := create(t, db, "author")
	require.NoError(t, author.Set("secret", "s3cret"))

	stored := author.Export()["secret"]
	assert.IsType(t, "", stored)
	assert.NotEqual(t, "s3cret", stored)

	got, err := author.Get("secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, author.Set("secret", nil))
	assert.Nil(t, author.Export()["secret"])
}

func TestProperty_EncryptedWithoutEncrypter(t *testing.T) {
	db, err := Create(context.Background(), newStore(t), crmSchema())
	require.NoError(t, err)

	author := create(t, db, "author")
	assert.ErrorIs(t, author.Set("secret", "s3cret"), ErrNoEncrypter)
}

func TestProperty_EncryptedSurvivesSave(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	author := create(t, db, "author")
	require.NoError(t, author.Set("secret", "s3cret"))
	require.NoError(t, author.Save(ctx))

	svc, err := db.Service("crm", "author")
	require.NoError(t, err)
	loaded, err := svc.Get(ctx, author.ID())
	require.NoError(t, err)
	got, err := loaded.Get("secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	other, err := security.NewCipher("wrong")
	require.NoError(t, err)
	_, err = other.Decrypt(loaded.Export()["secret"])
	assert.Error(t, err)
}

func TestProperty_DateTime(t *testing.T) {
	db := newTestDB(t)
	person := create(t, db, "person")
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, person.Set("birth", when))

	assert.Equal(t, when.UnixMilli(), person.Export()["birth"])

	got, err := person.Get("birth")
	require.NoError(t, err)
	require.IsType(t, time.Time{}, got)
	assert.True(t, when.Equal(got.(time.Time)))
}

func TestProperty_Hooks(t *testing.T) {
	schema := &Schema{Namespaces: map[string]*NamespaceDefinition{
		"app": {Models: []*Model{{
			TypeName: "tag",
			Properties: map[string]*PropertyDefinition{
				"label": {
					Type:        TypeText,
					BeforeWrite: func(v any) any { return "[" + v.(string) + "]" },
					AfterRead:   func(v any) any { return v.(string) + "!" },
					Rules: []Rule{func(v any) error {
						if len(v.(string)) > 5 {
							return assert.AnError
						}
						return nil
					}},
				},
				"created": {DefaultFunc: func() any { return "now" }},
			},
		}}},
	}}
	db, err := Create(context.Background(), newStore(t), schema)
	require.NoError(t, err)

	tag, err := db.CreateEntity("app", "tag")
	require.NoError(t, err)
	assert.Equal(t, "now", tag.MustGet("created"))

	require.NoError(t, tag.Set("label", "go"))
	assert.Equal(t, "[go]", tag.Export()["label"])
	assert.Equal(t, "[go]!", tag.MustGet("label"))

	require.NoError(t, tag.Set("label", "golang"))
	assert.ErrorIs(t, tag.Validate(), ErrInvalidValue)
}

func TestProperty_Nested(t *testing.T) {
	db := newTestDB(t)
	person := create(t, db, "person")
	address := create(t, db, "address")

	require.NoError(t, address.Set("street", "Main St"))
	require.NoError(t, person.Set("address", address))
	assert.NoError(t, person.Validate())

	company := create(t, db, "company")
	assert.ErrorIs(t, person.Set("address", company), ErrModelMismatch)
	assert.ErrorIs(t, person.Set("address", "Main St"), ErrModelMismatch)

	empty := create(t, db, "address")
	require.NoError(t, person.Set("addresses", []*Entity{address}))
	empty.SetDraft(true)
	require.NoError(t, person.Set("addresses", []*Entity{address, empty}))
	empty.SetDraft(false)
	assert.ErrorIs(t, person.Validate(), ErrRequired)
}

func TestProperty_DraftPropagatesToNested(t *testing.T) {
	db := newTestDB(t)
	person := create(t, db, "person")
	address := create(t, db, "address")
	person.SetDraft(true)
	require.NoError(t, person.Set("address", address))

	person.SetDraft(false)
	assert.False(t, address.Draft())
	assert.ErrorIs(t, person.Validate(), ErrRequired)

	person.SetDraft(true)
	assert.True(t, address.Draft())
	assert.NoError(t, person.Validate())
}
