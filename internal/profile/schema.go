package profile

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v2"
)

const schemaURL = "https://hostbench.local/schemas/execution-profile.schema.json"

const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "Description": {"type": "string"},
    "MinimumExecutionInterval": {"type": "string"},
    "Parameters": {"$ref": "#/$defs/parameters"},
    "Metadata": {"$ref": "#/$defs/parameters"},
    "Environment": {
      "type": "object",
      "additionalProperties": {"type": ["string", "number", "boolean"]}
    },
    "ParametersOn": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["Condition", "Parameters"],
        "properties": {
          "Condition": {"type": "string", "minLength": 1},
          "Group": {"type": "string"},
          "Parameters": {"$ref": "#/$defs/parameters"}
        }
      }
    },
    "Dependencies": {"$ref": "#/$defs/components"},
    "Actions": {"$ref": "#/$defs/components"},
    "Monitors": {"$ref": "#/$defs/components"}
  },
  "$defs": {
    "parameters": {
      "type": ["object", "null"],
      "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
    },
    "components": {
      "type": ["array", "null"],
      "items": {"$ref": "#/$defs/component"}
    },
    "component": {
      "type": "object",
      "additionalProperties": false,
      "required": ["Type"],
      "properties": {
        "Type": {"type": "string", "minLength": 1},
        "Scenario": {"type": "string"},
        "Group": {"type": "string"},
        "BestEffort": {"type": "boolean"},
        "Tags": {"type": "array", "items": {"type": "string"}},
        "Parameters": {"$ref": "#/$defs/parameters"},
        "Metadata": {"$ref": "#/$defs/parameters"},
        "Components": {"$ref": "#/$defs/components"}
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(profileSchema)); err != nil {
		return nil, fmt.Errorf("profile schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("profile schema compile failed: %w", err)
	}
	return compiled, nil
})

// validateDocument checks a YAML or JSON document against the profile schema.
func validateDocument(content []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var raw any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	instance, err := toJSONValue(raw)
	if err != nil {
		return err
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// toJSONValue converts a yaml.v2 decoded value into the shape encoding/json
// produces, which is what the schema validator expects.
func toJSONValue(v any) (any, error) {
	encoded, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("document cannot be represented as JSON: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = stringKeys(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = stringKeys(val)
		}
		return s
	}
	return v
}
