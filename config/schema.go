/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/suparena/plmconnector/errors"
)

// Schema is a compiled JSON Schema describing a connector's configuration blob.
type Schema struct {
	source   string
	compiled *gojsonschema.Schema
}

// NewSchema compiles a JSON Schema document.
func NewSchema(source string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("invalid connector config schema: %w", err)
	}
	return &Schema{source: source, compiled: compiled}, nil
}

// MustSchema is NewSchema for schemas known at compile time.
func MustSchema(source string) *Schema {
	s, err := NewSchema(source)
	if err != nil {
		panic(err)
	}
	return s
}

// Source returns the schema document.
func (s *Schema) Source() string {
	return s.source
}

// Validate checks settings against the schema. A nil schema accepts anything.
func (s *Schema) Validate(settings map[string]any) error {
	if s == nil {
		return nil
	}
	if settings == nil {
		settings = map[string]any{}
	}

	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return errors.NewValidationError("connector_config", strings.Join(problems, "; "))
}
