package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/docmodel/pkg/model"
)

func newCreateCmd(a *app) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "create <namespace/type>",
		Short: "Create and save an entity",
		Long: "Create an entity with --set name=value pairs. Values are parsed as JSON\n" +
			"unless the property is Text; DateTime values use RFC 3339.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, typeName, err := splitType(args[0])
			if err != nil {
				return err
			}
			values, err := parseSets(sets)
			if err != nil {
				return err
			}

			db, done, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { done() }()

			svc, err := db.Service(ns, typeName)
			if err != nil {
				return classify(err)
			}
			if needsSecret(svc.Model(), values) && a.cfg.GetString(cfgKeySecret) == "" {
				secret, err := a.readSecret(a.stdin, cmd.ErrOrStderr(), "Secret: ")
				if err != nil {
					return userError(fmt.Errorf("read secret: %w", err))
				}
				a.cfg.Set(cfgKeySecret, secret)
				done()
				if db, done, err = a.open(cmd.Context()); err != nil {
					done = func() {}
					return err
				}
				if svc, err = db.Service(ns, typeName); err != nil {
					return classify(err)
				}
			}

			e, err := svc.Create()
			if err != nil {
				return classify(err)
			}
			for _, kv := range values {
				v, err := convert(svc.Model().Properties[kv.name], kv.raw)
				if err != nil {
					return userError(fmt.Errorf("%s: %w", kv.name, err))
				}
				if err := e.Set(kv.name, v); err != nil {
					return classify(err)
				}
			}
			if err := svc.Save(cmd.Context(), e); err != nil {
				return classify(err)
			}

			if a.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"id": e.ID(), "rev": e.Rev()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.ID())
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "property assignment name=value (repeatable)")
	return cmd
}

type assignment struct {
	name string
	raw  string
}

func parseSets(sets []string) ([]assignment, error) {
	out := make([]assignment, 0, len(sets))
	for _, s := range sets {
		name, raw, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, userError(fmt.Errorf("invalid --set %q, expected name=value", s))
		}
		out = append(out, assignment{name: name, raw: raw})
	}
	return out, nil
}

func needsSecret(m *model.Model, values []assignment) bool {
	for _, kv := range values {
		if def := m.Properties[kv.name]; def != nil && def.Encrypted {
			return true
		}
	}
	return false
}

// convert turns a command-line string into a property value. Unknown names
// (references and reference lists) are passed through as JSON when they
// parse, otherwise as the raw string.
func convert(def *model.PropertyDefinition, raw string) (any, error) {
	if def != nil && !def.Multiple {
		switch def.Type {
		case model.TypeText, "":
			if def.Model == "" {
				return raw, nil
			}
		case model.TypeDateTime:
			return time.Parse(time.RFC3339, raw)
		}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw, nil
	}
	if def != nil && def.Multiple && def.Type == model.TypeDateTime {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected a JSON array of timestamps")
		}
		times := make([]any, len(items))
		for i, item := range items {
			s, _ := item.(string)
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, err
			}
			times[i] = t
		}
		return times, nil
	}
	return v, nil
}
