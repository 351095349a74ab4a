package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mesh-intelligence/docmodel/pkg/types"
)

// fieldPattern restricts selector and index fields to dotted identifiers so
// they can be inlined into JSON paths.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Find returns live documents matching q, ordered by id.
func (b *Backend) Find(ctx context.Context, q types.Query) ([]types.Document, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, err
	}

	query := "SELECT body FROM documents WHERE " + where + " ORDER BY doc_id"
	if q.Limit > 0 || q.Skip > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, q.Skip)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		bodies = append(bodies, body)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	docs := make([]types.Document, 0, len(bodies))
	for _, body := range bodies {
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		if err := addAttachments(ctx, b.db, doc, false); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// buildWhere translates a query into a SQL condition over documents.
func buildWhere(q types.Query) (string, []any, error) {
	conds := []string{"deleted = 0"}
	var args []any

	if q.Prefix != "" {
		conds = append(conds, "substr(doc_id, 1, length(?)) = ?")
		args = append(args, q.Prefix, q.Prefix)
	}

	fields := make([]string, 0, len(q.Selector))
	for f := range q.Selector {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		expr, err := fieldExpr(field)
		if err != nil {
			return "", nil, err
		}
		cond, condArgs, err := fieldCondition(field, expr, q.Selector[field])
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
		args = append(args, condArgs...)
	}
	return strings.Join(conds, " AND "), args, nil
}

// fieldExpr returns the SQL expression reading field from a document.
func fieldExpr(field string) (string, error) {
	if field == types.FieldID {
		return "doc_id", nil
	}
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: field %q", types.ErrInvalidSelector, field)
	}
	return fmt.Sprintf("json_extract(body, '$.%s')", field), nil
}

func fieldCondition(field, expr string, cond any) (string, []any, error) {
	ops, ok := cond.(map[string]any)
	if !ok {
		return equals(expr, cond)
	}

	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	var parts []string
	var args []any
	for _, op := range names {
		arg := ops[op]
		var (
			part     string
			partArgs []any
			err      error
		)
		switch op {
		case "$eq":
			part, partArgs, err = equals(expr, arg)
		case "$ne":
			part, partArgs, err = equals(expr, arg)
			if err == nil {
				part = fmt.Sprintf("NOT (%s)", part)
				if arg != nil {
					part = fmt.Sprintf("(%s IS NULL OR %s)", expr, part)
				}
			}
		case "$in":
			part, partArgs, err = in(expr, arg)
		case "$all":
			part, partArgs, err = all(field, arg)
		case "$exists":
			want, ok := arg.(bool)
			if !ok {
				return "", nil, fmt.Errorf("%w: $exists needs a bool", types.ErrInvalidSelector)
			}
			part = typeExpr(field) + " IS NULL"
			if want {
				part = typeExpr(field) + " IS NOT NULL"
			}
		default:
			return "", nil, fmt.Errorf("%w: operator %q", types.ErrInvalidSelector, op)
		}
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, part)
		args = append(args, partArgs...)
	}
	if len(parts) == 0 {
		return "1", nil, nil
	}
	return strings.Join(parts, " AND "), args, nil
}

func typeExpr(field string) string {
	if field == types.FieldID {
		return "doc_id"
	}
	return fmt.Sprintf("json_type(body, '$.%s')", field)
}

// sqlValue converts a selector value to the form json_extract yields.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return boolToInt(x), nil
	case string, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value %T", types.ErrInvalidSelector, v)
	}
}

func equals(expr string, v any) (string, []any, error) {
	if v == nil {
		return expr + " IS NULL", nil, nil
	}
	val, err := sqlValue(v)
	if err != nil {
		return "", nil, err
	}
	return expr + " = ?", []any{val}, nil
}

func toList(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected a list, got %T", types.ErrInvalidSelector, v)
	}
}

func in(expr string, v any) (string, []any, error) {
	list, err := toList(v)
	if err != nil {
		return "", nil, err
	}
	if len(list) == 0 {
		return "0", nil, nil
	}
	args := make([]any, len(list))
	for i, item := range list {
		if args[i], err = sqlValue(item); err != nil {
			return "", nil, err
		}
	}
	return fmt.Sprintf("%s IN (%s)", expr, placeholders(len(list))), args, nil
}

// all matches array fields holding every listed value.
func all(field string, v any) (string, []any, error) {
	if field == types.FieldID {
		return "", nil, fmt.Errorf("%w: $all on _id", types.ErrInvalidSelector)
	}
	list, err := toList(v)
	if err != nil {
		return "", nil, err
	}
	if len(list) == 0 {
		return "0", nil, nil
	}
	parts := make([]string, len(list))
	args := make([]any, len(list))
	for i, item := range list {
		if args[i], err = sqlValue(item); err != nil {
			return "", nil, err
		}
		parts[i] = fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(body, '$.%s') WHERE json_each.value = ?)", field)
	}
	return strings.Join(parts, " AND "), args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
