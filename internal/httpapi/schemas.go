package httpapi

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

// Admin PATCH bodies are validated against per-kind schemas before any field
// is applied. Unknown fields are rejected rather than silently dropped.
var patchSchemaSources = map[crmsync.Kind]string{
	crmsync.KindUser: `{
		"type": "object",
		"minProperties": 1,
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"email": {"type": "string", "minLength": 3},
			"phone": {"type": "string"},
			"isActive": {"type": "boolean"},
			"isStaff": {"type": "boolean"}
		}
	}`,
	crmsync.KindPost: `{
		"type": "object",
		"minProperties": 1,
		"additionalProperties": false,
		"properties": {
			"postType": {"enum": ["adoptionpost", "shelterpost", "clinicreview"]},
			"title": {"type": "string"},
			"text": {"type": "string"}
		}
	}`,
	crmsync.KindComment: `{
		"type": "object",
		"minProperties": 1,
		"additionalProperties": false,
		"properties": {
			"text": {"type": "string", "minLength": 1}
		}
	}`,
}

var patchSchemas = mustCompilePatchSchemas()

func mustCompilePatchSchemas() map[crmsync.Kind]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	out := make(map[crmsync.Kind]*jsonschema.Schema, len(patchSchemaSources))
	for kind, source := range patchSchemaSources {
		name := fmt.Sprintf("patch-%s.json", kind)
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		if err := compiler.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		out[kind] = schema
	}
	return out
}
