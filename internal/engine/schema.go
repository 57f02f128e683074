package engine

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Persisted documents are validated against these schemas before they
// are trusted. A violation means the stored state is corrupt, which is
// fatal: silently coercing it would fabricate or destroy earned XP.

const registrySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "tasks": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "project": {"type": "string"},
          "completed": {"type": "boolean"},
          "position": {"type": "integer", "minimum": 0},
          "total_in_project": {"type": "integer", "minimum": 0},
          "xp_awarded": {"type": "integer", "minimum": 0},
          "area_links": {"type": "array", "items": {"type": "string"}},
          "line_text": {"type": "string"},
          "created_at": {"type": "string"},
          "completed_at": {"type": "string"}
        },
        "required": ["id"]
      }
    },
    "projects": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "project": {"type": "string", "minLength": 1},
          "xp": {"type": "integer", "minimum": 0},
          "task_count": {"type": "integer", "minimum": 0},
          "completed_tasks": {"type": "integer", "minimum": 0},
          "area_links": {"type": "array", "items": {"type": "string"}},
          "transfer_done": {"type": "boolean"},
          "completed_at": {"type": "string"}
        },
        "required": ["project"]
      }
    }
  }
}`

const areasSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "xp": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    }
  }
}`

const seasonSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "current": {
      "type": ["object", "null"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "start_date": {"type": "string"},
        "end_date": {"type": "string"},
        "xp": {"type": "integer", "minimum": 0},
        "projects_completed": {"type": "integer", "minimum": 0}
      },
      "required": ["name"]
    },
    "history": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "final_level": {"type": "integer", "minimum": 0},
          "final_xp": {"type": "integer", "minimum": 0},
          "final_tier": {"type": "string"},
          "projects_completed": {"type": "integer", "minimum": 0},
          "ended_at": {"type": "string"}
        },
        "required": ["name"]
      }
    }
  }
}`

var (
	docSchemasOnce sync.Once
	docSchemas     map[string]*jsonschema.Schema
	docSchemasErr  error
)

func compileDocumentSchemas() {
	sources := map[string]string{
		DocRegistry: registrySchemaJSON,
		DocAreas:    areasSchemaJSON,
		DocSeason:   seasonSchemaJSON,
	}
	compiled := make(map[string]*jsonschema.Schema, len(sources))
	for key, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
		if err != nil {
			docSchemasErr = fmt.Errorf("parse %s schema: %w", key, err)
			return
		}
		compiler := jsonschema.NewCompiler()
		url := key + "-document.schema.json"
		if err := compiler.AddResource(url, doc); err != nil {
			docSchemasErr = fmt.Errorf("register %s schema: %w", key, err)
			return
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			docSchemasErr = fmt.Errorf("compile %s schema: %w", key, err)
			return
		}
		compiled[key] = schema
	}
	docSchemas = compiled
}

func validateDocument(key string, data []byte) error {
	docSchemasOnce.Do(compileDocumentSchemas)
	if docSchemasErr != nil {
		return docSchemasErr
	}
	schema, ok := docSchemas[key]
	if !ok {
		return fmt.Errorf("%w: unknown document %q", ErrInvalidInput, key)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s document is not valid JSON: %v", ErrInvalidState, key, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s document: %v", ErrInvalidState, key, err)
	}
	return nil
}
