package transport

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Response schemas for the remote service. A response that fails validation
// is treated the same as unparseable JSON: a Permanent transport error.
const (
	sessionResponseSchema = `{
		"type": "object",
		"required": ["session_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"resumed": {"type": "boolean"}
		}
	}`

	ackResponseSchema = `{
		"type": "object",
		"required": ["ack"],
		"properties": {
			"ack": {"type": "boolean"}
		}
	}`

	finalizeResponseSchema = `{
		"type": "object",
		"required": ["job_id"],
		"properties": {
			"job_id": {"type": "string", "minLength": 1}
		}
	}`

	jobResponseSchema = `{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status": {"type": "string", "enum": ["queued", "running", "succeeded", "failed", "cancelled"]},
			"progress": {"type": "number", "minimum": 0, "maximum": 100},
			"result": {"type": "string"},
			"error": {"type": "string"}
		}
	}`
)

// schemaSet holds the compiled response schemas, compiled once per client.
type schemaSet struct {
	session  *gojsonschema.Schema
	ack      *gojsonschema.Schema
	finalize *gojsonschema.Schema
	job      *gojsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	compile := func(raw string) (*gojsonschema.Schema, error) {
		return gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	}

	session, err := compile(sessionResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile session schema: %w", err)
	}

	ack, err := compile(ackResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile ack schema: %w", err)
	}

	finalize, err := compile(finalizeResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile finalize schema: %w", err)
	}

	job, err := compile(jobResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile job schema: %w", err)
	}

	return &schemaSet{session: session, ack: ack, finalize: finalize, job: job}, nil
}

// validate checks a raw JSON body against a compiled schema and returns the
// first violation as an error.
func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("validate response: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("response schema violation: %s", result.Errors()[0].String())
	}

	return nil
}
