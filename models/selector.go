package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SelectorType is the query language of a field selector.
type SelectorType string

const (
	SelectorCSS    SelectorType = "css"
	SelectorXPath  SelectorType = "xpath"
	SelectorJSONLD SelectorType = "jsonld"
)

// FieldSpec describes how to extract one field.
//
// Attribute "" or "text" yields trimmed text content and "html" yields the
// serialized node. Any other value names an HTML attribute.
type FieldSpec struct {
	Type      SelectorType `json:"selector_type" yaml:"selector_type"`
	Selector  string       `json:"selector" yaml:"selector"`
	Attribute string       `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Multiple  bool         `json:"multiple,omitempty" yaml:"multiple,omitempty"`
}

// SelectorSpec maps output field names to their selectors.
type SelectorSpec map[string]FieldSpec

// Shorthand builds a FieldSpec from a bare selector string. Strings that
// start with "/" or "(" are XPath, everything else is CSS.
func Shorthand(sel string) FieldSpec {
	sel = strings.TrimSpace(sel)
	if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") {
		return FieldSpec{Type: SelectorXPath, Selector: sel}
	}
	return FieldSpec{Type: SelectorCSS, Selector: sel}
}

// fieldSpecAlias avoids recursing into the custom unmarshalers.
type fieldSpecAlias FieldSpec

// UnmarshalJSON accepts either a full object or a bare selector string.
func (f *FieldSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Shorthand(s)
		return nil
	}
	var a fieldSpecAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = FieldSpec(a)
	f.normalize()
	return nil
}

// UnmarshalYAML accepts either a mapping or a bare selector scalar.
func (f *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*f = Shorthand(node.Value)
		return nil
	}
	var a fieldSpecAlias
	if err := node.Decode(&a); err != nil {
		return err
	}
	*f = FieldSpec(a)
	f.normalize()
	return nil
}

func (f *FieldSpec) normalize() {
	f.Type = SelectorType(strings.ToLower(string(f.Type)))
	if f.Type == "" {
		f.Type = Shorthand(f.Selector).Type
	}
}

// Validate checks the selector type and that a selector is present.
func (f FieldSpec) Validate() error {
	switch f.Type {
	case SelectorCSS, SelectorXPath, SelectorJSONLD:
	default:
		return fmt.Errorf("unknown selector_type %q", f.Type)
	}
	if strings.TrimSpace(f.Selector) == "" {
		return fmt.Errorf("empty selector")
	}
	return nil
}

// Record is a dynamic extraction result: a tree of strings, numbers,
// booleans, []any and map[string]any values.
type Record map[string]any
