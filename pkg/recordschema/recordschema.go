// Package recordschema validates records and signature bundles against
// minimal JSON Schemas. The demo host runs ValidateRecord on incoming record
// writes, catching malformed host input earlier than the updater's own field
// access would; ValidateBundle is not called by the signing pipeline.
//
// Grounded on pkg/firewall/firewall.go's jsonschema.Compiler/AddResource/
// Compile pattern (Draft2020, schemas loaded from an in-memory string
// resource rather than a file).
package recordschema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const recordSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"last_modified": {"type": "integer"},
		"deleted": {"type": "boolean"}
	}
}`

const bundleSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["signature"],
	"properties": {
		"signature": {"type": "string", "minLength": 1},
		"hash_algorithm": {"type": "string"},
		"x5u": {"type": "string"},
		"ref": {"type": "string"}
	}
}`

// Validator holds the two compiled schemas that records and signature
// bundles are checked against.
type Validator struct {
	record *jsonschema.Schema
	bundle *jsonschema.Schema
}

// New compiles the built-in record and bundle schemas.
func New() (*Validator, error) {
	record, err := compile("record.schema.json", recordSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("recordschema: compile record schema: %w", err)
	}
	bundle, err := compile("bundle.schema.json", bundleSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("recordschema: compile bundle schema: %w", err)
	}
	return &Validator{record: record, bundle: bundle}, nil
}

func compile(name, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://kinto-signer.local/schemas/" + name
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// ValidateRecord checks a record's shape ("id" string, "last_modified"
// integer if present) before it is mirrored to a destination.
func (v *Validator) ValidateRecord(obj map[string]interface{}) error {
	doc, err := toJSONDocument(obj)
	if err != nil {
		return fmt.Errorf("recordschema: record: %w", err)
	}
	if err := v.record.Validate(doc); err != nil {
		return fmt.Errorf("recordschema: invalid record: %w", err)
	}
	return nil
}

// ValidateBundle checks a signer.Bundle's shape (serialized to a plain map
// by the caller).
func (v *Validator) ValidateBundle(bundle map[string]interface{}) error {
	doc, err := toJSONDocument(bundle)
	if err != nil {
		return fmt.Errorf("recordschema: bundle: %w", err)
	}
	if err := v.bundle.Validate(doc); err != nil {
		return fmt.Errorf("recordschema: invalid signature bundle: %w", err)
	}
	return nil
}

// toJSONDocument round-trips obj through encoding/json so Go-native numeric
// types (int64, etc.) become the float64/string/bool/map/slice shape the
// schema validator expects from a decoded JSON document.
func toJSONDocument(obj map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
