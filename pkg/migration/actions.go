package migration

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// Action names recorded in ActionLog.
const (
	ActionAddProperty    = "add-property"
	ActionRemoveProperty = "remove-property"
	ActionChangeProperty = "change-property"
)

// ActionLog records one action run. When is Unix milliseconds.
type ActionLog struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
	When    int64          `json:"when"`
	Docs    int            `json:"docs"`
}

// Action rewrites the documents of one model.
type Action interface {
	Run(ctx context.Context, store types.Store) (ActionLog, error)
}

// Run executes actions in order and collects their logs. It stops at the
// first failure.
func Run(ctx context.Context, store types.Store, actions ...Action) ([]ActionLog, error) {
	logs := make([]ActionLog, 0, len(actions))
	for _, a := range actions {
		entry, err := a.Run(ctx, store)
		if err != nil {
			return logs, err
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// AddProperty sets Property to Default on every document of the model.
type AddProperty struct {
	Namespace string
	TypeName  string
	Property  string
	Default   any
}

// Run implements Action.
func (a AddProperty) Run(ctx context.Context, store types.Store) (ActionLog, error) {
	n, err := rewrite(ctx, store, a.Namespace, a.TypeName, func(doc types.Document) bool {
		doc[a.Property] = a.Default
		return true
	})
	if err != nil {
		return ActionLog{}, fmt.Errorf("%s %s: %w", ActionAddProperty, a.Property, err)
	}
	return ActionLog{
		Action: ActionAddProperty,
		Payload: map[string]any{
			"namespace": a.Namespace,
			"type":      a.TypeName,
			"property":  a.Property,
			"default":   a.Default,
		},
		When: time.Now().UnixMilli(),
		Docs: n,
	}, nil
}

// RemoveProperty deletes Property from every document of the model.
type RemoveProperty struct {
	Namespace string
	TypeName  string
	Property  string
}

// Run implements Action.
func (a RemoveProperty) Run(ctx context.Context, store types.Store) (ActionLog, error) {
	n, err := rewrite(ctx, store, a.Namespace, a.TypeName, func(doc types.Document) bool {
		delete(doc, a.Property)
		return true
	})
	if err != nil {
		return ActionLog{}, fmt.Errorf("%s %s: %w", ActionRemoveProperty, a.Property, err)
	}
	return ActionLog{
		Action: ActionRemoveProperty,
		Payload: map[string]any{
			"namespace": a.Namespace,
			"type":      a.TypeName,
			"property":  a.Property,
		},
		When: time.Now().UnixMilli(),
		Docs: n,
	}, nil
}

// UpdateProperty replaces Property with Update(current value) on every
// document of the model. Documents whose value does not change are not
// written.
type UpdateProperty struct {
	Namespace string
	TypeName  string
	Property  string
	Update    func(value any) any
}

// Run implements Action.
func (a UpdateProperty) Run(ctx context.Context, store types.Store) (ActionLog, error) {
	if a.Update == nil {
		return ActionLog{}, fmt.Errorf("%s %s: no update function", ActionChangeProperty, a.Property)
	}
	n, err := rewrite(ctx, store, a.Namespace, a.TypeName, func(doc types.Document) bool {
		old := doc[a.Property]
		next := a.Update(old)
		if reflect.DeepEqual(old, next) {
			return false
		}
		doc[a.Property] = next
		return true
	})
	if err != nil {
		return ActionLog{}, fmt.Errorf("%s %s: %w", ActionChangeProperty, a.Property, err)
	}
	return ActionLog{
		Action: ActionChangeProperty,
		Payload: map[string]any{
			"namespace": a.Namespace,
			"type":      a.TypeName,
			"property":  a.Property,
		},
		When: time.Now().UnixMilli(),
		Docs: n,
	}, nil
}

// list returns the live documents of ns/typeName: the singleton document
// and every document under the ns/typeName/ prefix.
func list(ctx context.Context, store types.Store, ns, typeName string) ([]types.Document, error) {
	base := ns + "/" + typeName
	docs, err := store.AllDocs(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", base, err)
	}
	out := docs[:0]
	for _, doc := range docs {
		id := doc.ID()
		if id == base || strings.HasPrefix(id, base+"/") {
			out = append(out, doc)
		}
	}
	return out, nil
}

// rewrite applies change to each document of the model and bulk-writes the
// ones it reports as changed. It returns the number of documents written.
func rewrite(ctx context.Context, store types.Store, ns, typeName string, change func(types.Document) bool) (int, error) {
	docs, err := list(ctx, store, ns, typeName)
	if err != nil {
		return 0, err
	}
	changed := make([]types.Document, 0, len(docs))
	for _, doc := range docs {
		// Attachment entries come back as stubs and keep their stored bytes.
		if change(doc) {
			changed = append(changed, doc)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	results, err := store.BulkDocs(ctx, changed)
	if err != nil {
		return 0, err
	}
	var failed []string
	for _, res := range results {
		if !res.OK() {
			failed = append(failed, res.ID+": "+res.Error)
		}
	}
	if len(failed) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrActionFailed, strings.Join(failed, "; "))
	}
	return len(changed), nil
}
