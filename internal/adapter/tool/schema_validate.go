package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chatcore/internal/domain"
)

// SchemaValidatingFunction wraps a Function with JSON Schema validation of
// its arguments. Invalid arguments fail with domain.ErrInvalidArguments
// before the inner function runs.
type SchemaValidatingFunction struct {
	inner     domain.Function
	schema    *jsonschema.Schema
	decodable map[string]bool
}

// WithSchemaValidation wraps fn so that Invoke validates arguments against
// the function's parameter schema. Functions without a schema are returned
// unchanged. Returns error if the schema fails to compile.
func WithSchemaValidation(fn domain.Function) (domain.Function, error) {
	meta := fn.Metadata()
	raw := meta.Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return fn, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", meta.FullyQualifiedName(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", meta.FullyQualifiedName(), err)
	}

	return &SchemaValidatingFunction{inner: fn, schema: compiled, decodable: decodableProperties(raw)}, nil
}

func (s *SchemaValidatingFunction) Metadata() domain.FunctionMetadata { return s.inner.Metadata() }

func (s *SchemaValidatingFunction) Invoke(ctx context.Context, args domain.Arguments) (any, error) {
	v, err := jsonValue(normalizeArguments(args, s.decodable))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	if err := s.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: schema validation failed: %v", domain.ErrInvalidArguments, err)
	}
	return s.inner.Invoke(ctx, args)
}

// jsonValue converts v into the generic shape json.Unmarshal produces,
// which is what the validator understands.
func jsonValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
