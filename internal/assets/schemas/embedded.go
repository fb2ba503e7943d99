// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of the
// working directory or installation location.
package schemasassets

import _ "embed"

// PipelineManifestSchema is the embedded pipeline-manifest JSON schema.
//
//go:embed pipeline-manifest.schema.json
var PipelineManifestSchema []byte

// RequirementsSchema is the embedded schema for a step's requirement
// declarations. The pipeline manifest leaves `requires` free-form; the
// extractor validates it against this schema step by step.
//
//go:embed requirements.schema.json
var RequirementsSchema []byte
