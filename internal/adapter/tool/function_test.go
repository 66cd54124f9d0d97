package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
)

type searchParams struct {
	Query  string   `json:"query" jsonschema:"required,description=Search terms"`
	Limit  int      `json:"limit,omitempty" jsonschema:"description=Maximum results"`
	Tags   []string `json:"tags,omitempty"`
	Strict bool     `json:"strict,omitempty"`
}

func TestNewFunction(t *testing.T) {
	meta := domain.FunctionMetadata{Name: "echo", Description: "Echoes input"}
	fn := NewFunction(meta, func(_ context.Context, args domain.Arguments) (any, error) {
		return args["text"], nil
	})

	assert.Equal(t, meta, fn.Metadata())
	got, err := fn.Invoke(context.Background(), domain.Arguments{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestNewTypedFunction_Schema(t *testing.T) {
	fn, err := NewTypedFunction("search", "Searches the index.", func(context.Context, searchParams) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	meta := fn.Metadata()
	assert.Equal(t, "search", meta.Name)
	assert.Equal(t, "Searches the index.", meta.Description)

	var schema struct {
		Type                 string                    `json:"type"`
		Schema               string                    `json:"$schema"`
		Properties           map[string]map[string]any `json:"properties"`
		Required             []string                  `json:"required"`
		AdditionalProperties *bool                     `json:"additionalProperties"`
	}
	require.NoError(t, json.Unmarshal(meta.Parameters, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Empty(t, schema.Schema)
	assert.Equal(t, []string{"query"}, schema.Required)
	assert.Equal(t, "integer", schema.Properties["limit"]["type"])
	assert.Equal(t, "Search terms", schema.Properties["query"]["description"])
	require.NotNil(t, schema.AdditionalProperties)
	assert.False(t, *schema.AdditionalProperties)
}

func TestNewTypedFunction_BindsCoercedArguments(t *testing.T) {
	var got searchParams
	fn := MustTypedFunction("search", "", func(_ context.Context, p searchParams) (any, error) {
		got = p
		return "done", nil
	})

	res, err := fn.Invoke(context.Background(), domain.Arguments{
		"query":  "[go]",
		"limit":  "10",
		"tags":   `["a","b"]`,
		"strict": "true",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, searchParams{Query: "[go]", Limit: 10, Tags: []string{"a", "b"}, Strict: true}, got)
}

func TestNewTypedFunction_NativeArguments(t *testing.T) {
	var got searchParams
	fn := MustTypedFunction("search", "", func(_ context.Context, p searchParams) (any, error) {
		got = p
		return nil, nil
	})

	_, err := fn.Invoke(context.Background(), domain.Arguments{"query": "x", "limit": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Limit)
}

func TestNewTypedFunction_InvalidArguments(t *testing.T) {
	fn := MustTypedFunction("search", "", func(context.Context, searchParams) (any, error) {
		t.Fatal("handler must not run")
		return nil, nil
	})

	_, err := fn.Invoke(context.Background(), domain.Arguments{"query": "x", "limit": "many"})
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestNewTypedFunction_HandlerError(t *testing.T) {
	boom := errors.New("boom")
	fn := MustTypedFunction("search", "", func(context.Context, searchParams) (any, error) {
		return nil, boom
	})

	_, err := fn.Invoke(context.Background(), domain.Arguments{"query": "x"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestDecodableProperties(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"s": {"type": "string"},
			"n": {"type": "number"},
			"o": {"type": "object"},
			"either": {"type": ["string", "null"]},
			"multi": {"type": ["integer", "null"]},
			"untyped": {}
		}
	}`)
	got := decodableProperties(schema)
	assert.Equal(t, map[string]bool{"n": true, "o": true, "multi": true}, got)

	assert.Nil(t, decodableProperties(nil))
	assert.Nil(t, decodableProperties(json.RawMessage(`not json`)))
}

func TestNormalizeArguments(t *testing.T) {
	decodable := map[string]bool{"n": true, "bad": true}
	got := normalizeArguments(domain.Arguments{
		"n":    "42",
		"bad":  "{oops",
		"text": "42",
		"raw":  7,
	}, decodable)

	assert.Equal(t, map[string]any{
		"n":    float64(42),
		"bad":  "{oops",
		"text": "42",
		"raw":  7,
	}, got)
}
