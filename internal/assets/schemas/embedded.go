// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time to ensure the CLI and library work
// correctly regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// BatchTemplateSchema is the embedded batch-template JSON schema.
//
// This allows template validation to work in installed binaries and library
// consumers without requiring the schema files to be present on disk.
//
//go:embed batch-template.schema.json
var BatchTemplateSchema []byte
