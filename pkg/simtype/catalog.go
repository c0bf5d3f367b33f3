// Package simtype maps simulation-type tags to their relevant-field tables
// and code-specific handlers.
//
// A Catalog is built once at startup and is immutable afterwards; it is shared
// by reference with the fingerprint engine and the status tracker.
package simtype

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSimType is returned for a tag with neither a catalog entry nor a
// built-in handler.
var ErrUnknownSimType = errors.New("unknown simulation type")

var (
	tagRE  = regexp.MustCompile(`^[\w-]+$`)
	pathRE = regexp.MustCompile(`^[\w-]+(\.[\w-]+)*$`)
)

// FieldRef is one entry of a relevant-field table.
//
// A string entry is a dotted path into the request's model mapping
// ("model.field" or "model.field.sub"). A list entry is a literal that is
// hashed as-is, which admits fingerprint inputs that are not request fields.
type FieldRef struct {
	Path    string
	Literal []any
}

// IsLiteral reports whether the entry is a literal list.
func (f FieldRef) IsLiteral() bool {
	return f.Literal != nil
}

// UnmarshalYAML accepts either a scalar path or a sequence literal.
func (f *FieldRef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		f.Path = strings.TrimSpace(s)
		return nil
	case yaml.SequenceNode:
		var v []any
		if err := node.Decode(&v); err != nil {
			return err
		}
		if v == nil {
			v = []any{}
		}
		f.Literal = v
		return nil
	default:
		return fmt.Errorf("line %d: field entry must be a path string or a list", node.Line)
	}
}

// ModelSpec declares one compute model of a simulation type.
type ModelSpec struct {
	Fields   []FieldRef `yaml:"fields"`
	Library  []string   `yaml:"library,omitempty"`
	Parallel *bool      `yaml:"parallel,omitempty"`
}

// TypeSpec declares one simulation type.
type TypeSpec struct {
	// Handler names the built-in handler; defaults to the type tag.
	Handler string               `yaml:"handler,omitempty"`
	Library []string             `yaml:"library,omitempty"`
	Models  map[string]ModelSpec `yaml:"models,omitempty"`
}

// Type is a resolved simulation type.
type Type struct {
	Name    string
	Handler Handler
	library []string
	models  map[string]ModelSpec
}

// Fields returns the declared relevant fields for model. ok is false when the
// catalog declares no table for it.
func (t *Type) Fields(model string) (fields []FieldRef, ok bool) {
	spec, found := t.models[model]
	if !found || len(spec.Fields) == 0 {
		return nil, false
	}
	out := make([]FieldRef, len(spec.Fields))
	copy(out, spec.Fields)
	return out, true
}

// IsParallel reports whether model is a long-running kind. A catalog
// override wins over the handler.
func (t *Type) IsParallel(model string) bool {
	if spec, ok := t.models[model]; ok && spec.Parallel != nil {
		return *spec.Parallel
	}
	if t.Handler.IsParallel == nil {
		return false
	}
	return t.Handler.IsParallel(model)
}

// LibraryPatterns returns the type-wide and model-specific library globs,
// de-duplicated and sorted.
func (t *Type) LibraryPatterns(model string) []string {
	unique := make(map[string]struct{})
	for _, p := range t.library {
		unique[p] = struct{}{}
	}
	for _, p := range t.models[model].Library {
		unique[p] = struct{}{}
	}
	out := make([]string, 0, len(unique))
	for p := range unique {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ParseErrorLog runs the handler's log parser; "" when there is none.
func (t *Type) ParseErrorLog(log []byte) string {
	if t.Handler.ParseErrorLog == nil || len(log) == 0 {
		return ""
	}
	return t.Handler.ParseErrorLog(log)
}

// Models lists the declared compute models in sorted order.
func (t *Type) Models() []string {
	out := make([]string, 0, len(t.models))
	for m := range t.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Catalog is the immutable set of known simulation types.
type Catalog struct {
	types map[string]*Type
}

// New validates specs and builds a Catalog.
func New(specs map[string]TypeSpec) (*Catalog, error) {
	c := &Catalog{types: make(map[string]*Type, len(specs))}
	for tag, spec := range specs {
		t, err := buildType(tag, spec)
		if err != nil {
			return nil, err
		}
		c.types[tag] = t
	}
	return c, nil
}

// Lookup returns the type registered under tag. Tags without a catalog entry
// fall back to a built-in handler of the same name with no field tables.
func (c *Catalog) Lookup(tag string) (*Type, error) {
	tag = strings.TrimSpace(tag)
	if c != nil {
		if t, ok := c.types[tag]; ok {
			return t, nil
		}
	}
	if h, ok := LookupHandler(tag); ok {
		return &Type{Name: tag, Handler: h, models: map[string]ModelSpec{}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSimType, tag)
}

// Tags lists the catalog's simulation types in sorted order.
func (c *Catalog) Tags() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.types))
	for tag := range c.types {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func buildType(tag string, spec TypeSpec) (*Type, error) {
	if !tagRE.MatchString(tag) {
		return nil, fmt.Errorf("simulation type %q: invalid tag", tag)
	}
	handlerName := strings.TrimSpace(spec.Handler)
	if handlerName == "" {
		handlerName = tag
	}
	h, ok := LookupHandler(handlerName)
	if !ok {
		return nil, fmt.Errorf("simulation type %q: unknown handler %q (known: %s)", tag, handlerName, strings.Join(HandlerNames(), ", "))
	}

	models := make(map[string]ModelSpec, len(spec.Models))
	for name, m := range spec.Models {
		if !tagRE.MatchString(name) {
			return nil, fmt.Errorf("simulation type %q: invalid compute model name %q", tag, name)
		}
		for i, f := range m.Fields {
			if f.IsLiteral() {
				continue
			}
			if !pathRE.MatchString(f.Path) {
				return nil, fmt.Errorf("simulation type %q model %q: fields[%d]: invalid path %q", tag, name, i, f.Path)
			}
		}
		models[name] = m
	}

	return &Type{
		Name:    tag,
		Handler: h,
		library: append([]string(nil), spec.Library...),
		models:  models,
	}, nil
}
