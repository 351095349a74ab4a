package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/docmodel/pkg/model"
	"github.com/mesh-intelligence/docmodel/pkg/sqlite"
	"github.com/mesh-intelligence/docmodel/pkg/types"
)

func userSchema(version int, withScore bool) *model.Schema {
	props := map[string]*model.PropertyDefinition{
		"firstName": {Type: model.TypeText},
		"lastName":  {Type: model.TypeText},
	}
	if withScore {
		props["score"] = &model.PropertyDefinition{Type: model.TypeInteger}
	}
	return &model.Schema{
		Version: version,
		Namespaces: map[string]*model.NamespaceDefinition{
			"default": {Models: []*model.Model{
				{TypeName: "user", Properties: props},
				{TypeName: "profile", Service: model.ServiceSingleton, Properties: map[string]*model.PropertyDefinition{
					"motto": {Type: model.TypeText},
				}},
			}},
		},
	}
}

func newUserDB(t *testing.T, users int) *model.Database {
	t.Helper()
	return seedUserDB(t, attachStore(t), users)
}

func attachStore(t *testing.T) types.Backend {
	t.Helper()
	store := sqlite.NewBackend()
	require.NoError(t, store.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { store.Detach() })
	return store
}

func seedUserDB(t *testing.T, store types.Store, users int) *model.Database {
	t.Helper()
	ctx := context.Background()
	db, err := model.Create(ctx, store, userSchema(1, false), model.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	svc, err := db.Service("default", "user")
	require.NoError(t, err)
	for i := 0; i < users; i++ {
		u, err := svc.Create()
		require.NoError(t, err)
		require.NoError(t, u.Set("firstName", "Massimiliano"))
		require.NoError(t, u.Set("lastName", fmt.Sprintf("User %d", i)))
		require.NoError(t, svc.Save(ctx, u))
	}
	return db
}

func scoreMigration() Hooks {
	return Funcs{
		Upgrade: func(ctx context.Context, db *model.Database) ([]ActionLog, error) {
			return Run(ctx, db.Store(), AddProperty{Namespace: "default", TypeName: "user", Property: "score", Default: 10})
		},
		Downgrade: func(ctx context.Context, db *model.Database) ([]ActionLog, error) {
			return Run(ctx, db.Store(), RemoveProperty{Namespace: "default", TypeName: "user", Property: "score"})
		},
	}
}

func TestMigration_UpDown(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 10)
	m := New(db, 1, 2, scoreMigration())

	require.NoError(t, m.Up(ctx, userSchema(2, true)))
	assert.Equal(t, 2, db.Version())

	svc, err := db.Service("default", "user")
	require.NoError(t, err)
	users, err := svc.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, 10)
	for _, u := range users {
		assert.EqualValues(t, 10, u.MustGet("score"))
	}

	require.NoError(t, m.Down(ctx, userSchema(1, false)))
	assert.Equal(t, 1, db.Version())

	docs, err := db.Store().AllDocs(ctx, "default/user/")
	require.NoError(t, err)
	require.Len(t, docs, 10)
	for _, doc := range docs {
		assert.NotContains(t, doc, "score")
	}

	log, err := m.Log(ctx)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, TypeInit, log[0].Type)
	assert.Equal(t, TypeUpgrade, log[1].Type)
	assert.Equal(t, 2, log[1].Version)
	require.Len(t, log[1].Actions, 1)
	assert.Equal(t, ActionAddProperty, log[1].Actions[0].Action)
	assert.Equal(t, 10, log[1].Actions[0].Docs)
	assert.Equal(t, TypeDowngrade, log[2].Type)
	assert.Equal(t, 1, log[2].Version)

	schemaDoc, err := db.Store().Get(ctx, model.SchemaDocID, types.GetOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, schemaDoc["version"])

	reopened, err := model.Open(ctx, db.Store(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Version())
}

func TestMigration_Preconditions(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 1)

	err := New(db, 2, 3, scoreMigration()).Up(ctx, nil)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	err = New(db, 1, 2, scoreMigration()).Up(ctx, userSchema(3, true))
	assert.ErrorIs(t, err, ErrVersionMismatch)

	err = New(db, 1, 2, scoreMigration()).Down(ctx, nil)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	log, err := Log(ctx, db.Store())
	require.NoError(t, err)
	assert.Len(t, log, 1)
	assert.Equal(t, 1, db.Version())
}

func TestMigration_HookFailureLeavesSchema(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 1)
	boom := errors.New("boom")
	m := New(db, 1, 2, Funcs{Upgrade: func(context.Context, *model.Database) ([]ActionLog, error) {
		return nil, boom
	}})

	assert.ErrorIs(t, m.Up(ctx, userSchema(2, true)), boom)
	assert.Equal(t, 1, db.Version())

	schemaDoc, err := db.Store().Get(ctx, model.SchemaDocID, types.GetOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, schemaDoc["version"])

	log, err := m.Log(ctx)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

var errWrite = errors.New("write refused")

// faultyStore refuses writes to one document id, or index requests.
type faultyStore struct {
	types.Store
	failID    string
	failIndex bool
}

func (s *faultyStore) Put(ctx context.Context, doc types.Document) (types.PutResult, error) {
	if s.failID != "" && doc.ID() == s.failID {
		return types.PutResult{}, errWrite
	}
	return s.Store.Put(ctx, doc)
}

func (s *faultyStore) CreateIndex(ctx context.Context, def types.IndexDef) (types.IndexResult, error) {
	if s.failIndex {
		return types.IndexResult{}, errWrite
	}
	return s.Store.CreateIndex(ctx, def)
}

// teamSchema adds a team model related to users.
func teamSchema(version int) *model.Schema {
	s := userSchema(version, true)
	ns := s.Namespaces["default"]
	ns.Models = append(ns.Models, &model.Model{TypeName: "team", Properties: map[string]*model.PropertyDefinition{
		"name": {Type: model.TypeText},
	}})
	s.Relationships = map[string]*model.RelationshipDefinition{
		"teamUsers": {
			Type:  model.OneToMany,
			Left:  model.RelationshipSide{Type: "default/team"},
			Right: model.RelationshipSide{Type: "default/user"},
		},
	}
	return s
}

func TestMigration_CommitFailureRestoresSchemaAndLog(t *testing.T) {
	tests := []struct {
		name      string
		failID    string
		failIndex bool
	}{
		{"schema write fails", model.SchemaDocID, false},
		{"log write fails", model.MigrationsDocID, false},
		{"index request fails", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &faultyStore{Store: attachStore(t)}
			db := seedUserDB(t, store, 2)
			before, err := db.Store().Get(ctx, model.SchemaDocID, types.GetOptions{})
			require.NoError(t, err)

			store.failID, store.failIndex = tt.failID, tt.failIndex
			err = New(db, 1, 2, scoreMigration()).Up(ctx, teamSchema(2))
			assert.ErrorIs(t, err, errWrite)
			store.failID, store.failIndex = "", false

			assert.Equal(t, 1, db.Version())
			assert.Equal(t, 1, db.Schema().Version)
			_, err = db.Service("default", "team")
			assert.ErrorIs(t, err, model.ErrModelNotFound)

			after, err := db.Store().Get(ctx, model.SchemaDocID, types.GetOptions{})
			require.NoError(t, err)
			assert.EqualValues(t, 1, after["version"])
			delete(before, types.FieldRev)
			delete(after, types.FieldRev)
			assert.Equal(t, before, after)

			log, err := Log(ctx, db.Store())
			require.NoError(t, err)
			require.Len(t, log, 1)
			assert.Equal(t, TypeInit, log[0].Type)

			require.NoError(t, New(db, 1, 2, scoreMigration()).Up(ctx, teamSchema(2)))
			assert.Equal(t, 2, db.Version())
			log, err = Log(ctx, db.Store())
			require.NoError(t, err)
			assert.Len(t, log, 2)
		})
	}
}

func TestMigration_InvalidSchemaFailsBeforeHook(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 1)
	called := false
	m := New(db, 1, 2, Funcs{Upgrade: func(context.Context, *model.Database) ([]ActionLog, error) {
		called = true
		return nil, nil
	}})

	bad := userSchema(2, true)
	bad.Namespaces["default"].Models[0].Properties["score"].Type = "Money"
	assert.ErrorIs(t, m.Up(ctx, bad), model.ErrTypeNotFound)
	assert.False(t, called)
}

func TestMigration_DowngradeNotImplemented(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 1)
	m := New(db, 1, 2, Funcs{Upgrade: func(context.Context, *model.Database) ([]ActionLog, error) {
		return nil, nil
	}})
	require.NoError(t, m.Up(ctx, nil))
	assert.Equal(t, 2, db.Version())
	assert.ErrorIs(t, m.Down(ctx, nil), ErrNotImplemented)
}

func TestMigration_SameVersionUpdate(t *testing.T) {
	ctx := context.Background()
	db := newUserDB(t, 3)
	m := New(db, 1, 1, Funcs{Upgrade: func(ctx context.Context, db *model.Database) ([]ActionLog, error) {
		return Run(ctx, db.Store(), UpdateProperty{
			Namespace: "default", TypeName: "user", Property: "lastName",
			Update: func(v any) any { return fmt.Sprint(v) + " changed" },
		})
	}})
	require.NoError(t, m.Up(ctx, nil))
	assert.Equal(t, 1, db.Version())

	svc, err := db.Service("default", "user")
	require.NoError(t, err)
	users, err := svc.GetAll(ctx)
	require.NoError(t, err)
	for _, u := range users {
		assert.Regexp(t, `^User \d changed$`, u.MustGet("lastName"))
	}
}
