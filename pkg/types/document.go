package types

// Document is the store's record shape. Reserved keys start with an
// underscore: _id, _rev, _deleted and _attachments.
type Document map[string]any

// Reserved document keys.
const (
	FieldID          = "_id"
	FieldRev         = "_rev"
	FieldDeleted     = "_deleted"
	FieldAttachments = "_attachments"
)

// ID returns the document's _id or "".
func (d Document) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Rev returns the document's _rev or "".
func (d Document) Rev() string {
	s, _ := d[FieldRev].(string)
	return s
}

// Deleted reports whether the document is a tombstone.
func (d Document) Deleted() bool {
	b, _ := d[FieldDeleted].(bool)
	return b
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// GetOptions tunes Store.Get.
type GetOptions struct {
	// Attachments inlines attachment bytes instead of returning stubs.
	Attachments bool
}

// PutResult reports the outcome of a single document write.
type PutResult struct {
	ID    string `json:"id"`
	Rev   string `json:"rev,omitempty"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the write succeeded.
func (r PutResult) OK() bool { return r.Error == "" }

// Selector matches document fields. A plain value means equality; a map
// value holds operators: $eq, $ne, $in, $all, $exists.
type Selector map[string]any

// Query describes a Store.Find request.
type Query struct {
	Selector Selector
	// Prefix restricts matches to ids starting with Prefix.
	Prefix string
	Limit  int
	Skip   int
}

// Contains returns a selector condition matching array fields that hold v.
func Contains(v any) map[string]any {
	return map[string]any{"$all": []any{v}}
}

// IndexDef names a secondary index over document fields.
type IndexDef struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// Index creation outcomes.
const (
	IndexCreated = "created"
	IndexExists  = "exists"
)

// IndexResult reports the outcome of Store.CreateIndex.
type IndexResult struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}
