package component

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Resolution errors. Resolve never panics; it returns one of these wrapped
// with detail.
var (
	ErrInvalidDescriptor = errors.New("invalid component descriptor")
	ErrUnknownComponent  = errors.New("no component found")
	ErrMissingCapability = errors.New("component is missing a required capability")
)

// Descriptor is the declarative form of a component binding.
type Descriptor struct {
	Name    string         `mapstructure:"name" json:"name,omitempty"`
	Path    string         `mapstructure:"path" json:"path,omitempty"`
	Route   string         `mapstructure:"route" json:"route,omitempty"`
	Options export.Options `mapstructure:"options" json:"options,omitempty"`
}

// Registry maps component names to compile-time modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry returns a Registry holding the given modules.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		r.Register(m)
	}
	return r
}

// Register adds or replaces a module by name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name] = m
}

// Names lists registered module names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	return out
}

// Resolve turns a descriptor into a validated Component. Accepted shapes
// are a non-empty string (name or path), a Descriptor, or a map with
// name/path/route/options keys.
func (r *Registry) Resolve(descriptor any) (*Component, error) {
	desc, err := coerceDescriptor(descriptor)
	if err != nil {
		return nil, err
	}

	key := desc.Name
	if desc.Path != "" {
		key = moduleNameFromPath(desc.Path)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: name or path required", ErrInvalidDescriptor)
	}

	r.mu.RLock()
	mod, ok := r.modules[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, key)
	}
	if err := validate(mod); err != nil {
		return nil, err
	}

	name := mod.Name
	if desc.Name != "" {
		name = desc.Name
	}
	caps := mod.Capabilities
	if caps.Inject == nil {
		caps.Inject = noopInject
	}
	opts := desc.Options
	if opts == nil {
		opts = export.Options{}
	}
	return &Component{
		Name:         name,
		Route:        NormalizeRoute(desc.Route, name),
		Options:      opts,
		Capabilities: caps,
	}, nil
}

// NormalizeRoute returns route with exactly one leading slash, deriving it
// from name when empty.
func NormalizeRoute(route, name string) string {
	if strings.TrimSpace(route) == "" {
		route = name
	}
	return "/" + strings.TrimLeft(strings.TrimSpace(route), "/")
}

func validate(mod Module) error {
	caps := mod.Capabilities
	var missing []string
	if caps.Ping == nil {
		missing = append(missing, "ping")
	}
	if caps.Parse == nil {
		missing = append(missing, "parse")
	}
	if caps.Render == nil {
		missing = append(missing, "render")
	}
	if caps.Convert == nil {
		missing = append(missing, "convert")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %q lacks %s", ErrMissingCapability, mod.Name, strings.Join(missing, ", "))
	}
	return nil
}

func coerceDescriptor(v any) (Descriptor, error) {
	switch d := v.(type) {
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return Descriptor{}, fmt.Errorf("%w: empty string", ErrInvalidDescriptor)
		}
		if strings.ContainsAny(s, `/\`) {
			return Descriptor{Path: s}, nil
		}
		return Descriptor{Name: s}, nil
	case Descriptor:
		return d, nil
	case *Descriptor:
		if d == nil {
			return Descriptor{}, fmt.Errorf("%w: nil descriptor", ErrInvalidDescriptor)
		}
		return *d, nil
	case map[string]any:
		return descriptorFromMap(d)
	case export.Options:
		return descriptorFromMap(d)
	default:
		return Descriptor{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDescriptor, v)
	}
}

func descriptorFromMap(m map[string]any) (Descriptor, error) {
	var desc Descriptor
	name, nameOK := m["name"].(string)
	path, pathOK := m["path"].(string)
	switch {
	case pathOK && strings.TrimSpace(path) != "":
		desc.Path = strings.TrimSpace(path)
		if nameOK {
			desc.Name = strings.TrimSpace(name)
		}
	case nameOK && strings.TrimSpace(name) != "":
		desc.Name = strings.TrimSpace(name)
	default:
		return Descriptor{}, fmt.Errorf("%w: object needs a name or path", ErrInvalidDescriptor)
	}
	if route, ok := m["route"].(string); ok {
		desc.Route = route
	}
	switch opts := m["options"].(type) {
	case map[string]any:
		desc.Options = export.Options(opts)
	case export.Options:
		desc.Options = opts
	default:
		desc.Options = export.Options{}
	}
	return desc, nil
}

func moduleNameFromPath(p string) string {
	base := filepath.Base(filepath.Clean(p))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
