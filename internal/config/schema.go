package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	crerrors "github.com/systmms/credrotate/internal/errors"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// validateSchema checks a decoded YAML document against the embedded schema.
func validateSchema(doc interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return crerrors.ConfigError{
		Message:    "configuration does not match the schema:\n  - " + strings.Join(problems, "\n  - "),
		Suggestion: "Fix the fields listed above",
	}
}
