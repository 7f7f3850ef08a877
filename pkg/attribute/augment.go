// Package attribute normalizes user-declared attribute definitions and
// injects the implicit columns (primary key, timestamps) every collection
// needs regardless of what the caller declared.
package attribute

import "github.com/redbco/strata/pkg/adapter"

// IDAttributeName is the name of the implicit primary key injected when the
// caller declares none.
const IDAttributeName = "id"

// CreatedAtAttributeName and UpdatedAtAttributeName are the implicit
// timestamp columns injected per config.
const (
	CreatedAtAttributeName = "createdAt"
	UpdatedAtAttributeName = "updatedAt"
)

// Shorthand is the dynamic input shape Augment accepts for each declared
// attribute: a full adapter.Attribute, a bare type name (string or
// adapter.AttributeType) such as "string" which expands to
// adapter.Attribute{Type: "string"}, or a map[string]any with optional
// "type", "unique", "required", "primaryKey" and "autoIncrement" keys.
type Shorthand = any

// Augment ensures every adapter sees a uniform attribute set: it expands
// shorthand declarations, then injects the id/createdAt/updatedAt columns
// the config calls for if the caller didn't declare them explicitly.
func Augment(declared map[string]Shorthand, cfg adapter.Config) ([]adapter.Attribute, error) {
	attrs := make([]adapter.Attribute, 0, len(declared)+3)
	seen := make(map[string]bool, len(declared))

	for name, raw := range declared {
		attr, err := expand(name, raw)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
		seen[name] = true
	}

	if !seen[IDAttributeName] {
		attrs = append([]adapter.Attribute{{
			Name:          IDAttributeName,
			Type:          adapter.TypeNumber,
			PrimaryKey:    true,
			AutoIncrement: true,
		}}, attrs...)
	}

	if cfg.CreatedAt && !seen[CreatedAtAttributeName] {
		attrs = append(attrs, adapter.Attribute{Name: CreatedAtAttributeName, Type: adapter.TypeDate})
	}
	if cfg.UpdatedAt && !seen[UpdatedAtAttributeName] {
		attrs = append(attrs, adapter.Attribute{Name: UpdatedAtAttributeName, Type: adapter.TypeDate})
	}

	return attrs, nil
}

// expand turns a single declared attribute (full descriptor or string
// shorthand) into a canonical adapter.Attribute.
func expand(name string, raw Shorthand) (adapter.Attribute, error) {
	switch v := raw.(type) {
	case adapter.Attribute:
		v.Name = name
		return v, nil
	case string:
		return adapter.Attribute{Name: name, Type: adapter.AttributeType(v)}, nil
	case adapter.AttributeType:
		return adapter.Attribute{Name: name, Type: v}, nil
	case map[string]any:
		return expandMap(name, v)
	default:
		return adapter.Attribute{}, &InvalidShorthandError{Attribute: name}
	}
}

func expandMap(name string, m map[string]any) (adapter.Attribute, error) {
	attr := adapter.Attribute{Name: name}
	if t, ok := m["type"].(string); ok {
		attr.Type = adapter.AttributeType(t)
	}
	if b, ok := m["unique"].(bool); ok {
		attr.Unique = b
	}
	if b, ok := m["required"].(bool); ok {
		attr.Required = b
	}
	if b, ok := m["primaryKey"].(bool); ok {
		attr.PrimaryKey = b
	}
	if b, ok := m["autoIncrement"].(bool); ok {
		attr.AutoIncrement = b
	}
	return attr, nil
}

// InvalidShorthandError is returned when a declared attribute is neither a
// full descriptor, a type-name string, nor a recognized map shorthand.
type InvalidShorthandError struct {
	Attribute string
}

func (e *InvalidShorthandError) Error() string {
	return "invalid attribute definition for " + e.Attribute
}
