package component

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PingRoute is reserved for the health check and cannot be bound.
const PingRoute = "/ping"

// Registration errors.
var (
	ErrDuplicateRoute = errors.New("trying to register multiple components on same route")
	ErrNoComponents   = errors.New("no valid component registered")
)

// Table is the immutable route → component binding used by the server.
type Table struct {
	byRoute map[string]*Component
	ordered []*Component
}

// NewTable binds components to their routes. Registering two components on
// the same route, or any component on PingRoute, fails.
func NewTable(components ...*Component) (*Table, error) {
	t := &Table{byRoute: make(map[string]*Component, len(components))}
	for _, c := range components {
		if c == nil {
			continue
		}
		if c.Route == PingRoute {
			return nil, fmt.Errorf("%w: %s is reserved", ErrDuplicateRoute, PingRoute)
		}
		if prev, ok := t.byRoute[c.Route]; ok {
			return nil, fmt.Errorf("%w: %q and %q on %s", ErrDuplicateRoute, prev.Name, c.Name, c.Route)
		}
		t.byRoute[c.Route] = c
		t.ordered = append(t.ordered, c)
	}
	if len(t.ordered) == 0 {
		return nil, ErrNoComponents
	}
	return t, nil
}

// ResolveAll resolves every descriptor, skipping invalid ones with a
// warning, and binds the survivors into a Table.
func (r *Registry) ResolveAll(descriptors []any, logger *zap.Logger) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	comps := make([]*Component, 0, len(descriptors))
	for i, d := range descriptors {
		comp, err := r.Resolve(d)
		if err != nil {
			logger.Warn("skipping invalid component", zap.Int("index", i), zap.Error(err))
			continue
		}
		comps = append(comps, comp)
	}
	return NewTable(comps...)
}

// Lookup returns the component bound to route.
func (t *Table) Lookup(route string) (*Component, bool) {
	c, ok := t.byRoute[route]
	return c, ok
}

// Components returns the components in registration order.
func (t *Table) Components() []*Component {
	return append([]*Component(nil), t.ordered...)
}

// Routes returns the bound routes in registration order.
func (t *Table) Routes() []string {
	out := make([]string, 0, len(t.ordered))
	for _, c := range t.ordered {
		out = append(out, c.Route)
	}
	return out
}
