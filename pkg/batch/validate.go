package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"
	"gopkg.in/yaml.v3"

	schemasassets "github.com/quantfold/quantfold/internal/assets/schemas"
)

// SchemaID is the schema identifier for batch templates.
const SchemaID = "quantfold/v1.0.0/batch-template"

var (
	// ErrSchemaNotFound indicates the embedded schema could not be compiled.
	ErrSchemaNotFound = errors.New("batch template schema not found")

	// ErrValidationFailed indicates the template failed schema validation.
	ErrValidationFailed = errors.New("template validation failed")
)

// Cached validator instance (compiled once from embedded schema)
var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/params/timeframe").
	Path string

	// Message describes the validation failure.
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("template validation failed with %d errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// ValidateTemplateRaw checks raw JSON data against the batch template
// schema. Strict: unknown top-level fields and malformed axis shapes are
// rejected before any expansion happens.
func ValidateTemplateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if len(diags) == 0 {
		return nil
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{
				Path:    d.Pointer,
				Message: d.Message,
			})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateTemplateYAML converts YAML template bytes to JSON and validates
// against the same schema, so both input formats get identical checking.
func ValidateTemplateYAML(yamlData []byte) error {
	var doc any
	if err := yaml.Unmarshal(yamlData, &doc); err != nil {
		return fmt.Errorf("parse YAML template: %w", err)
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert template to JSON: %w", err)
	}
	return ValidateTemplateRaw(jsonData)
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.BatchTemplateSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded batch-template schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.BatchTemplateSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile template schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
