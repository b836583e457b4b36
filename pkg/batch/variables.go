package batch

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// VariableBindingContext holds the $variables of one batch run. It is created
// per run, passed explicitly through the pipeline and reset when the run ends.
// Names are case-sensitive; binding a name again replaces its value.
type VariableBindingContext struct {
	vars map[string]Value
}

// NewVariableBindingContext returns an empty context.
func NewVariableBindingContext() *VariableBindingContext {
	return &VariableBindingContext{vars: make(map[string]Value)}
}

// Bind sets name to v, replacing any previous value.
func (c *VariableBindingContext) Bind(name string, v Value) {
	c.vars[name] = v
}

// Get returns the current value of name.
func (c *VariableBindingContext) Get(name string) (Value, error) {
	v, ok := c.vars[name]
	if !ok {
		return Value{}, &UnboundVariableError{Name: name}
	}
	return v, nil
}

// Names returns the bound names in sorted order.
func (c *VariableBindingContext) Names() []string {
	names := maps.Keys(c.vars)
	slices.Sort(names)
	return names
}

// Len is the number of bound variables.
func (c *VariableBindingContext) Len() int { return len(c.vars) }

// Reset discards every binding.
func (c *VariableBindingContext) Reset() {
	c.vars = make(map[string]Value)
}

// snapshot copies the bindings so a retried block can start from them again.
func (c *VariableBindingContext) snapshot() map[string]Value {
	return maps.Clone(c.vars)
}

func (c *VariableBindingContext) restore(saved map[string]Value) {
	c.vars = maps.Clone(saved)
	if c.vars == nil {
		c.vars = make(map[string]Value)
	}
}
