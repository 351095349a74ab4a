package model

import (
	"fmt"
	"math"
	"time"
)

// Rule checks one value and returns an error describing why it is invalid.
type Rule func(value any) error

// PropertyType is a named validation and transformation bundle shared by
// properties. BeforeWrite runs after the property's own hook; AfterRead
// runs before the property's own hook.
type PropertyType struct {
	Name        string
	ContentType string
	Rules       []Rule
	BeforeWrite func(any) any
	AfterRead   func(any) any
	Format      func(any) string
}

// String formats v for display.
func (t *PropertyType) String(v any) string {
	if t.Format != nil {
		return t.Format(v)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Standard type names.
const (
	TypeText     = "Text"
	TypeNumber   = "Number"
	TypeInteger  = "Integer"
	TypeBoolean  = "Boolean"
	TypeDateTime = "DateTime"
)

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

// StandardTypes returns fresh instances of the built-in property types.
func StandardTypes() []*PropertyType {
	return []*PropertyType{
		{
			Name:        TypeText,
			ContentType: "text/plain",
			Rules: []Rule{func(v any) error {
				if _, ok := v.(string); !ok {
					return fmt.Errorf("value %v is not a text", v)
				}
				return nil
			}},
		},
		{
			Name:        TypeNumber,
			ContentType: "text/plain",
			Rules: []Rule{func(v any) error {
				if _, ok := v.(bool); ok {
					return fmt.Errorf("value %v is not a number", v)
				}
				if _, ok := toFloat(v); !ok {
					return fmt.Errorf("value %v is not a number", v)
				}
				return nil
			}},
		},
		{
			Name:        TypeInteger,
			ContentType: "text/plain",
			Rules: []Rule{func(v any) error {
				f, ok := toFloat(v)
				if _, isBool := v.(bool); isBool || !ok || f != math.Trunc(f) {
					return fmt.Errorf("value %v is not an integer", v)
				}
				return nil
			}},
			AfterRead: func(v any) any {
				if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
					return int(f)
				}
				return v
			},
		},
		{
			Name:        TypeBoolean,
			ContentType: "text/plain",
			Rules: []Rule{func(v any) error {
				if _, ok := v.(bool); !ok {
					return fmt.Errorf("value %v is not a boolean", v)
				}
				return nil
			}},
		},
		{
			Name:        TypeDateTime,
			ContentType: "text/plain",
			Rules: []Rule{func(v any) error {
				if _, ok := v.(time.Time); !ok {
					return fmt.Errorf("value %v is not a date", v)
				}
				return nil
			}},
			BeforeWrite: func(v any) any {
				if t, ok := v.(time.Time); ok {
					return t.UnixMilli()
				}
				return v
			},
			AfterRead: func(v any) any {
				if ms, ok := toFloat(v); ok {
					return time.UnixMilli(int64(ms))
				}
				return v
			},
			Format: func(v any) string {
				if t, ok := v.(time.Time); ok {
					return t.Format(time.RFC3339)
				}
				return fmt.Sprint(v)
			},
		},
	}
}
