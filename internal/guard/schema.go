package guard

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaSet holds compiled per-tool JSON Schemas for invocation parameters.
// Tools without a schema pass through unchecked.
type SchemaSet struct {
	schemas map[string]*jsonschema.Schema
}

// CompileSchemas compiles one JSON Schema document per tool name. A schema
// that fails to compile fails the whole set; a misconfigured schema must not
// silently disable validation for its tool.
func CompileSchemas(raw map[string]json.RawMessage) (*SchemaSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	urls := make(map[string]string, len(raw))
	for tool, doc := range raw {
		parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("guard: schema for tool %q: %w", tool, err)
		}
		url := "tool://" + tool + "/params.json"
		if err := compiler.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("guard: schema for tool %q: %w", tool, err)
		}
		urls[tool] = url
	}
	set := &SchemaSet{schemas: make(map[string]*jsonschema.Schema, len(raw))}
	for tool, url := range urls {
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("guard: schema for tool %q: %w", tool, err)
		}
		set.schemas[tool] = sch
	}
	return set, nil
}

// Validate checks params against the tool's schema, if one is registered.
// Params are round-tripped through JSON so the validator sees canonical
// JSON types regardless of how the caller decoded them.
func (s *SchemaSet) Validate(toolName string, params map[string]any) error {
	if s == nil {
		return nil
	}
	sch, ok := s.schemas[toolName]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("parameters are not JSON-encodable: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	return sch.Validate(instance)
}
