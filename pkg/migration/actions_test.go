package migration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

func TestAddProperty_NoDocuments(t *testing.T) {
	db := newUserDB(t, 0)
	res, err := AddProperty{Namespace: "default", TypeName: "user", Property: "score", Default: 1}.Run(context.Background(), db.Store())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Docs)
	assert.Equal(t, ActionAddProperty, res.Action)
	assert.Equal(t, map[string]any{"namespace": "default", "type": "user", "property": "score", "default": 1}, res.Payload)
	assert.NotZero(t, res.When)
}

func TestUpdateProperty_SkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 4)
	res, err := UpdateProperty{
		Namespace: "default", TypeName: "user", Property: "lastName",
		Update: func(v any) any {
			s := v.(string)
			if strings.HasSuffix(s, "0") || strings.HasSuffix(s, "1") {
				return strings.ToUpper(s)
			}
			return s
		},
	}.Run(ctx, db.Store())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Docs)
	assert.Equal(t, ActionChangeProperty, res.Action)

	_, err = UpdateProperty{Namespace: "default", TypeName: "user", Property: "x"}.Run(ctx, db.Store())
	assert.Error(t, err)
}

func TestActions_CoverSingletonDocument(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 0)
	svc, err := db.Service("default", "profile")
	require.NoError(t, err)
	p, err := svc.Create()
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx))

	res, err := AddProperty{Namespace: "default", TypeName: "profile", Property: "motto", Default: "hi"}.Run(ctx, db.Store())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Docs)

	doc, err := db.Store().Get(ctx, "default/profile", types.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi", doc["motto"])
}

func TestList_ExcludesSiblingTypes(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 2)
	store := db.Store()
	_, err := store.Put(ctx, types.Document{types.FieldID: "default/username/1-000", "type": "default/username"})
	require.NoError(t, err)

	docs, err := list(ctx, store, "default", "user")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 1)
	logs, err := Run(ctx, db.Store(),
		RemoveProperty{Namespace: "default", TypeName: "user", Property: "firstName"},
		UpdateProperty{Namespace: "default", TypeName: "user", Property: "lastName"},
		AddProperty{Namespace: "default", TypeName: "user", Property: "never"},
	)
	assert.Error(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionRemoveProperty, logs[0].Action)
}
