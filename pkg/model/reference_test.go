package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget_CheckID(t *testing.T) {
	db := newTestDB(t)
	company := target{db: db, namespace: "crm", typeName: "company"}
	settings := target{db: db, namespace: "crm", typeName: "settings"}

	tests := []struct {
		name   string
		target target
		id     string
		valid  bool
	}{
		{"collection id", company, "crm/company/1700000000000-001", true},
		{"collection without key", company, "crm/company", false},
		{"wrong type", company, "crm/project/1700000000000-001", false},
		{"wrong namespace", company, "hr/company/1700000000000-001", false},
		{"too many segments", company, "crm/company/1/2", false},
		{"singleton id", settings, "crm/settings", true},
		{"singleton with key", settings, "crm/settings/1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.checkID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidReference)
			}
		})
	}
}

func TestReference_Set(t *testing.T) {
	db := newTestDB(t)
	project := create(t, db, "project")
	company := create(t, db, "company")
	ref := project.Reference("company")
	require.NotNil(t, ref)
	assert.Equal(t, "crm/company", ref.Target())

	require.NoError(t, ref.Set(company))
	assert.Equal(t, company.ID(), ref.ID())
	assert.Same(t, company, ref.Entity())

	require.NoError(t, ref.Set(company.ID()))
	assert.Nil(t, ref.Entity())

	assert.ErrorIs(t, ref.Set(create(t, db, "author")), ErrInvalidReference)
	assert.ErrorIs(t, ref.Set("crm/company"), ErrInvalidReference)
	assert.ErrorIs(t, ref.Set(42), ErrInvalidReference)
	assert.Equal(t, company.ID(), ref.ID())

	require.NoError(t, ref.Set(""))
	assert.Empty(t, ref.ID())
	require.NoError(t, project.Set("company", company))
	require.NoError(t, ref.Set(nil))
	assert.Empty(t, ref.ID())
}

func TestReference_Get(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	company := create(t, db, "company")
	require.NoError(t, company.Set("title", "Acme"))
	require.NoError(t, company.Save(ctx))

	project := create(t, db, "project")
	ref := project.Reference("company")

	got, err := ref.Get(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, ref.Set(company.ID()))
	got, err = ref.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.MustGet("title"))

	again, err := ref.Get(ctx, false)
	require.NoError(t, err)
	assert.Same(t, got, again)

	forced, err := ref.Get(ctx, true)
	require.NoError(t, err)
	assert.NotSame(t, got, forced)

	require.NoError(t, ref.Set("crm/company/1-000"))
	_, err = ref.Get(ctx, false)
	assert.Error(t, err)
}

func TestReference_Required(t *testing.T) {
	ref := &Reference{name: "owner", required: true}
	assert.ErrorIs(t, ref.Validate(), ErrRequired)
	ref.id = "crm/company/1-000"
	assert.NoError(t, ref.Validate())
}

func TestReferenceList_AddRemove(t *testing.T) {
	db := newTestDB(t)
	project := create(t, db, "project")
	list := project.ReferenceList("authorList")
	require.NotNil(t, list)

	a1, a2 := create(t, db, "author"), create(t, db, "author")
	require.NoError(t, list.Add(a1))
	require.NoError(t, list.Add(a2.ID()))
	assert.Equal(t, []string{a1.ID(), a2.ID()}, list.IDs())

	assert.ErrorIs(t, list.Add(a1.ID()), ErrDuplicateID)
	assert.ErrorIs(t, list.Add(create(t, db, "company")), ErrInvalidReference)
	assert.ErrorIs(t, list.Remove("crm/author/1-000"), ErrIDNotFound)

	require.NoError(t, list.Remove(a1))
	assert.Equal(t, []string{a2.ID()}, list.IDs())
	assert.False(t, list.Contains(a1.ID()))
	assert.Equal(t, 1, list.Len())
}

func TestReferenceList_SetIsAllOrNothing(t *testing.T) {
	db := newTestDB(t)
	project := create(t, db, "project")
	a1, a2 := create(t, db, "author"), create(t, db, "author")

	require.NoError(t, project.Set("authorList", []*Entity{a1, a2}))
	assert.Equal(t, []string{a1.ID(), a2.ID()}, project.MustGet("authorList"))

	err := project.Set("authorList", []any{a1.ID(), "crm/company/1-000"})
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.Equal(t, []string{a1.ID(), a2.ID()}, project.MustGet("authorList"))

	err = project.Set("authorList", []string{a1.ID(), a1.ID()})
	assert.ErrorIs(t, err, ErrDuplicateID)

	require.NoError(t, project.Set("authorList", nil))
	assert.Empty(t, project.MustGet("authorList"))
}

func TestReferenceList_Import(t *testing.T) {
	db := newTestDB(t)
	a1, a2 := create(t, db, "author").ID(), create(t, db, "author").ID()

	tests := []struct {
		name    string
		raw     any
		wantErr error
		want    []string
	}{
		{"ids in order", []any{a2, a1}, nil, []string{a2, a1}},
		{"null", nil, nil, nil},
		{"duplicate id", []any{a1, a2, a1}, ErrDuplicateID, nil},
		{"non-string id", []any{a1, 7}, ErrInvalidReference, nil},
		{"scalar", a1, ErrInvalidReference, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := create(t, db, "project")
			err := project.Import(map[string]any{"title": "Apollo", "authorList": tt.raw})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, project.ReferenceList("authorList").IDs())
		})
	}
}

func TestReferenceList_GetAll(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"Ann", "Bob", "Cid"} {
		a := create(t, db, "author")
		require.NoError(t, a.Set("name", name))
		require.NoError(t, a.Save(ctx))
		ids = append(ids, a.ID())
	}

	project := create(t, db, "project")
	list := project.ReferenceList("authorList")
	for _, id := range ids {
		require.NoError(t, list.Add(id))
	}

	all, err := list.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, name := range []string{"Ann", "Bob", "Cid"} {
		assert.Equal(t, name, all[i].MustGet("name"))
	}

	cached, err := list.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Same(t, all[1], cached)

	_, err = list.Get(ctx, "crm/author/1-000")
	assert.ErrorIs(t, err, ErrIDNotFound)
}
