package tool

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"chatcore/internal/domain"
)

var _ domain.FunctionProvider = (*Registry)(nil)

// Registry holds functions grouped by plugin and serves as the completion
// loop's function provider. Functions registered without a plugin are
// advertised under their bare name.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]map[string]domain.Function
	validate bool
	logger   *slog.Logger
}

// NewRegistry creates an empty function registry. When validate is set,
// functions are wrapped with schema validation on registration; schemas
// that fail to compile are logged and the function is registered unwrapped.
func NewRegistry(logger *slog.Logger, validate bool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		plugins:  make(map[string]map[string]domain.Function),
		validate: validate,
		logger:   logger,
	}
}

// AddFunction registers fn under plugin. Returns error if the name is taken.
func (r *Registry) AddFunction(plugin string, fn domain.Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(plugin, fn)
}

// AddPlugin registers every function of a plugin. Nothing is registered
// when any of them fails.
func (r *Registry) AddPlugin(plugin string, fns ...domain.Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[plugin]; exists && plugin != "" {
		return fmt.Errorf("plugin %q already registered", plugin)
	}
	added := make([]string, 0, len(fns))
	for _, fn := range fns {
		if err := r.addLocked(plugin, fn); err != nil {
			for _, name := range added {
				delete(r.plugins[plugin], name)
			}
			if len(r.plugins[plugin]) == 0 {
				delete(r.plugins, plugin)
			}
			return err
		}
		added = append(added, fn.Metadata().Name)
	}
	return nil
}

// RemovePlugin drops a plugin and its functions. It reports whether the
// plugin existed.
func (r *Registry) RemovePlugin(plugin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.plugins[plugin]
	delete(r.plugins, plugin)
	return ok
}

func (r *Registry) addLocked(plugin string, fn domain.Function) error {
	if strings.Contains(plugin, domain.FunctionNameSeparator) {
		return domain.NewDomainError("tool.Registry.AddFunction", domain.ErrInvalidConfiguration,
			fmt.Sprintf("plugin name %q contains %q", plugin, domain.FunctionNameSeparator))
	}
	name := fn.Metadata().Name
	if name == "" {
		return domain.NewDomainError("tool.Registry.AddFunction", domain.ErrInvalidConfiguration, "function name is empty")
	}

	fns := r.plugins[plugin]
	if fns == nil {
		fns = make(map[string]domain.Function)
		r.plugins[plugin] = fns
	}
	if _, exists := fns[name]; exists {
		return fmt.Errorf("function %q already registered", domain.FullyQualifiedName(plugin, name))
	}

	if r.validate {
		wrapped, err := WithSchemaValidation(fn)
		if err != nil {
			r.logger.Warn("argument validation disabled for function",
				"function", domain.FullyQualifiedName(plugin, name), "error", err)
		} else {
			fn = wrapped
		}
	}

	fns[name] = &pluginFunction{Function: fn, plugin: plugin}
	return nil
}

// Functions implements domain.FunctionProvider. The list is sorted by
// fully-qualified name.
func (r *Registry) Functions(context.Context) []domain.FunctionMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.FunctionMetadata
	for _, fns := range r.plugins {
		for _, fn := range fns {
			out = append(out, fn.Metadata())
		}
	}
	slices.SortFunc(out, func(a, b domain.FunctionMetadata) int {
		return strings.Compare(a.FullyQualifiedName(), b.FullyQualifiedName())
	})
	return out
}

// Function implements domain.FunctionProvider. A bare function whose name
// contains the separator is found even though the model-facing name
// parses as plugin and function.
func (r *Registry) Function(_ context.Context, plugin, name string) (domain.Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.plugins[plugin][name]; ok {
		return fn, nil
	}
	fqn := domain.FullyQualifiedName(plugin, name)
	if plugin != "" {
		if fn, ok := r.plugins[""][fqn]; ok {
			return fn, nil
		}
	}
	return nil, domain.NewDomainError("tool.Registry.Function", domain.ErrFunctionNotFound, fqn)
}

// Plugins returns the registered plugin names, sorted.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// pluginFunction stamps the owning plugin onto a function's metadata.
type pluginFunction struct {
	domain.Function
	plugin string
}

func (f *pluginFunction) Metadata() domain.FunctionMetadata {
	meta := f.Function.Metadata()
	meta.PluginName = f.plugin
	return meta
}
