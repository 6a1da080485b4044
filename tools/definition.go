package tools

import (
	"context"
	"maps"
	"slices"

	"github.com/effective-security/gohitl/pkg/llms"
	"github.com/invopop/jsonschema"
)

// ExecuteFunc runs a tool with decoded arguments.
// The result is any JSON compatible value.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Definition describes a tool offered to the model
type Definition struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments
	Parameters *jsonschema.Schema
	// Execute is nil for tools that require a human confirmation
	Execute ExecuteFunc
}

// RequiresConfirmation returns true if the tool has no execute function.
func (d *Definition) RequiresConfirmation() bool {
	return d.Execute == nil
}

// LLMTool returns the model facing definition
func (d *Definition) LLMTool() llms.Tool {
	params := d.Parameters
	if params == nil {
		params = &jsonschema.Schema{Type: "object"}
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		},
	}
}

// Catalog maps tool names to definitions.
// It is built per request and never persisted.
type Catalog map[string]*Definition

// NewCatalog returns a catalog of defs, a later definition replaces an earlier one with the same name.
func NewCatalog(defs ...*Definition) Catalog {
	c := make(Catalog, len(defs))
	for _, d := range defs {
		if d != nil {
			c[d.Name] = d
		}
	}
	return c
}

// Names returns sorted tool names
func (c Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c))
}

// Get returns the definition by name
func (c Catalog) Get(name string) (*Definition, bool) {
	d, ok := c[name]
	return d, ok && d != nil
}

// Clone returns a shallow copy of the catalog
func (c Catalog) Clone() Catalog {
	return maps.Clone(c)
}

// LLMTools returns the model facing definitions, sorted by name
func (c Catalog) LLMTools() []llms.Tool {
	if len(c) == 0 {
		return nil
	}
	list := make([]llms.Tool, 0, len(c))
	for _, name := range c.Names() {
		list = append(list, c[name].LLMTool())
	}
	return list
}

// Executors maps tool names to execute functions.
// Hosts use it to register approval executors of tools that need a confirmation.
type Executors map[string]ExecuteFunc

// NameSet is a set of tool names
type NameSet map[string]struct{}

// NewNameSet returns a set of names
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has returns true if name is in the set
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns sorted names
func (s NameSet) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// RequiresConfirmation returns the names of the tools in the catalog that have no execute function.
func RequiresConfirmation(c Catalog) NameSet {
	s := make(NameSet)
	for name, d := range c {
		if d != nil && d.RequiresConfirmation() {
			s[name] = struct{}{}
		}
	}
	return s
}
