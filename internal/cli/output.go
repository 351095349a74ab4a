package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mesh-intelligence/docmodel/pkg/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return sysError(fmt.Errorf("encode output: %w", err))
	}
	return nil
}

// display returns the stored document of e with readable property values.
// Values that cannot be read, such as encrypted fields without a secret,
// keep their stored form.
func display(e *model.Entity) map[string]any {
	doc := e.Export()
	for name, def := range e.Model().Properties {
		if def.Model != "" {
			continue
		}
		if v, err := e.Get(name); err == nil {
			doc[name] = v
		}
	}
	return doc
}

// splitType parses "namespace/typeName".
func splitType(s string) (ns, typeName string, err error) {
	ns, typeName, ok := strings.Cut(s, "/")
	if !ok || ns == "" || typeName == "" || strings.Contains(typeName, "/") {
		return "", "", userError(fmt.Errorf("expected namespace/type, got %q", s))
	}
	return ns, typeName, nil
}
