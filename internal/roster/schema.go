package roster

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const rosterSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "fullName"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "fullName": {"type": "string", "minLength": 1},
      "documentType": {"type": "string"},
      "email": {"type": "string"},
      "plan": {"type": "string"},
      "status": {"type": "string"},
      "paymentDate": {"type": "string"},
      "folderUrl": {"type": "string"}
    }
  }
}`

const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "subjectLinks": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "systemMessage": {"type": "string"},
    "lastNotificationId": {"type": "integer", "minimum": 0}
  }
}`

var (
	schemaOnce   sync.Once
	schemaErr    error
	rosterSchema *jsonschema.Schema
	configSchema *jsonschema.Schema
)

func compileSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for name, source := range map[string]string{
			"roster.schema.json": rosterSchemaJSON,
			"config.schema.json": configSchemaJSON,
		} {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
			if err != nil {
				schemaErr = fmt.Errorf("parse %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(name, doc); err != nil {
				schemaErr = fmt.Errorf("register %s: %w", name, err)
				return
			}
		}
		if rosterSchema, schemaErr = compiler.Compile("roster.schema.json"); schemaErr != nil {
			return
		}
		configSchema, schemaErr = compiler.Compile("config.schema.json")
	})
	return schemaErr
}

func validateDocument(schema *jsonschema.Schema, path string, data []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("invalid document %s: %w", path, err)
	}
	return nil
}

// ValidateRosterDocument checks raw roster JSON against the roster schema.
func ValidateRosterDocument(path string, data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validateDocument(rosterSchema, path, data)
}

// ValidateConfigDocument checks raw config JSON against the config schema.
func ValidateConfigDocument(path string, data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validateDocument(configSchema, path, data)
}
