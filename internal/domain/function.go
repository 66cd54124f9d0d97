package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// FunctionNameSeparator joins plugin and function names in a fully-qualified name.
const FunctionNameSeparator = "-"

// FullyQualifiedName joins plugin and function into the name advertised to the model.
func FullyQualifiedName(plugin, function string) string {
	if plugin == "" {
		return function
	}
	return plugin + FunctionNameSeparator + function
}

// ParseFullyQualifiedName splits a model-facing name into plugin and function.
// Names without a separator have no plugin.
func ParseFullyQualifiedName(name string) (plugin, function string) {
	if i := strings.Index(name, FunctionNameSeparator); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// Arguments are the named arguments of a function call.
type Arguments map[string]any

// Clone returns a shallow copy of a.
func (a Arguments) Clone() Arguments {
	if a == nil {
		return nil
	}
	out := make(Arguments, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// FunctionCall is a model-issued request to run a function.
// Err is set when the call could not be interpreted (for example, malformed
// argument JSON); the call is still surfaced so the loop can answer it.
type FunctionCall struct {
	ID           string
	CallType     string // wire tool type, "function" for function calls
	PluginName   string
	FunctionName string
	Arguments    Arguments
	RawArguments string
	Err          error
}

func (FunctionCall) Kind() ItemKind { return ItemFunctionCall }

// FullyQualifiedName returns the call's plugin-qualified function name.
func (c FunctionCall) FullyQualifiedName() string {
	return FullyQualifiedName(c.PluginName, c.FunctionName)
}

// IsFunction reports whether the call targets a function (as opposed to another tool kind).
func (c FunctionCall) IsFunction() bool {
	return c.CallType == "" || c.CallType == ToolTypeFunction
}

// FunctionResult is the outcome of a function call, correlated by CallID.
// Exactly one of Value or Err describes the outcome.
type FunctionResult struct {
	CallID       string
	PluginName   string
	FunctionName string
	Value        any
	Err          error
}

func (FunctionResult) Kind() ItemKind { return ItemFunctionResult }

// FunctionMetadata describes a function the capability provider can run.
type FunctionMetadata struct {
	PluginName  string          `json:"plugin_name,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// FullyQualifiedName returns the name advertised to the model.
func (m FunctionMetadata) FullyQualifiedName() string {
	return FullyQualifiedName(m.PluginName, m.Name)
}

// ToolDefinition converts the metadata into an advertised tool.
func (m FunctionMetadata) ToolDefinition() ToolDefinition {
	params := m.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return ToolDefinition{
		Name:        m.FullyQualifiedName(),
		Description: m.Description,
		Parameters:  params,
	}
}

// Function is an invocable capability.
type Function interface {
	Metadata() FunctionMetadata
	Invoke(ctx context.Context, args Arguments) (any, error)
}

// FunctionProvider resolves functions by name and lists the live catalogue.
// The catalogue may change between calls.
type FunctionProvider interface {
	// Functions lists every function currently available.
	Functions(ctx context.Context) []FunctionMetadata
	// Function resolves a function; it returns an error wrapping ErrFunctionNotFound when absent.
	Function(ctx context.Context, plugin, name string) (Function, error)
}
