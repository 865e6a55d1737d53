package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed config.schema.json
var configSchemaJSON string

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("config.schema.json", strings.NewReader(configSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("config.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

// validateShape checks the merged document against the embedded schema and
// converts schema violations into Issues so every problem is reported with
// its field path.
func validateShape(doc any) *ValidationError {
	schema, err := loadSchema()
	if err != nil {
		return &ValidationError{Issues: []Issue{{Path: "$", Message: err.Error()}}}
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	ve := &ValidationError{}
	var schemaErr *jsonschema.ValidationError
	if errors.As(err, &schemaErr) {
		collectSchemaIssues(ve, schemaErr)
	} else {
		ve.add("$", "%v", err)
	}
	return ve
}

func collectSchemaIssues(ve *ValidationError, err *jsonschema.ValidationError) {
	if err == nil {
		return
	}
	if len(err.Causes) == 0 {
		path := err.InstanceLocation
		if path == "" {
			path = "$"
		}
		ve.add(path, "%s", err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaIssues(ve, cause)
	}
}
