package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"

	"chatcore/internal/domain"
)

// HandlerFunc is the body of a function built with NewFunction.
type HandlerFunc func(ctx context.Context, args domain.Arguments) (any, error)

type function struct {
	meta    domain.FunctionMetadata
	handler HandlerFunc
}

// NewFunction creates a domain.Function from metadata and a handler.
func NewFunction(meta domain.FunctionMetadata, handler HandlerFunc) domain.Function {
	return &function{meta: meta, handler: handler}
}

func (f *function) Metadata() domain.FunctionMetadata { return f.meta }

func (f *function) Invoke(ctx context.Context, args domain.Arguments) (any, error) {
	return f.handler(ctx, args)
}

// NewTypedFunction creates a function whose arguments bind to the struct P.
// The parameter schema is reflected from P's json and jsonschema tags:
//
//	type addParams struct {
//	    A float64 `json:"a" jsonschema:"required,description=First addend"`
//	    B float64 `json:"b" jsonschema:"required,description=Second addend"`
//	}
//
// Arguments that arrive as JSON text are decoded for non-string properties
// before binding.
func NewTypedFunction[P any](name, description string, fn func(ctx context.Context, p P) (any, error)) (domain.Function, error) {
	params, err := reflectParameters[P]()
	if err != nil {
		return nil, fmt.Errorf("reflect parameters for %q: %w", name, err)
	}
	decodable := decodableProperties(params)

	meta := domain.FunctionMetadata{Name: name, Description: description, Parameters: params}
	return NewFunction(meta, func(ctx context.Context, args domain.Arguments) (any, error) {
		var p P
		raw, err := json.Marshal(normalizeArguments(args, decodable))
		if err == nil {
			err = json.Unmarshal(raw, &p)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
		}
		return fn(ctx, p)
	}), nil
}

// MustTypedFunction is like NewTypedFunction but panics on a reflection error.
func MustTypedFunction[P any](name, description string, fn func(ctx context.Context, p P) (any, error)) domain.Function {
	f, err := NewTypedFunction(name, description, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func reflectParameters[P any]() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var zero P
	schema := reflector.Reflect(zero)
	schema.Version = ""
	return json.Marshal(schema)
}

// decodableProperties returns the top-level properties whose declared type
// excludes string. Their string values are JSON text to decode.
func decodableProperties(schema json.RawMessage) map[string]bool {
	var s struct {
		Properties map[string]struct {
			Type json.RawMessage `json:"type"`
		} `json:"properties"`
	}
	if len(schema) == 0 || json.Unmarshal(schema, &s) != nil {
		return nil
	}

	out := make(map[string]bool, len(s.Properties))
	for name, prop := range s.Properties {
		var types []string
		var single string
		switch {
		case json.Unmarshal(prop.Type, &single) == nil && single != "":
			types = []string{single}
		case json.Unmarshal(prop.Type, &types) == nil:
		}
		if len(types) > 0 && !slices.Contains(types, "string") {
			out[name] = true
		}
	}
	return out
}

// normalizeArguments decodes JSON-text values of decodable properties.
// Values that do not parse are kept as given.
func normalizeArguments(args domain.Arguments, decodable map[string]bool) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && decodable[k] {
			var decoded any
			if json.Unmarshal([]byte(s), &decoded) == nil {
				out[k] = decoded
				continue
			}
		}
		out[k] = v
	}
	return out
}
