package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchema is the JSON Schema every incoming frame must satisfy before
// it is decoded into an Event. Validation happens exactly once, at the
// transport boundary; downstream components consume typed values and never
// re-validate.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "timestamp"],
  "properties": {
    "id": { "type": "string" },
    "type": { "type": "string", "minLength": 1 },
    "projectId": { "type": "string" },
    "sessionId": { "type": "string" },
    "threadId": { "type": "string" },
    "timestamp": { "type": "string", "format": "date-time" },
    "data": { "type": "object" },
    "transient": { "type": "boolean" }
  }
}`

// Codec validates and decodes raw frames into Events. Construct once and
// share; Decode is safe for concurrent use.
type Codec struct {
	schema *jsonschema.Schema
}

// NewCodec compiles the envelope schema. The schema is a compile-time
// constant so failure indicates a programming error, not bad input.
func NewCodec() (*Codec, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.json", doc); err != nil {
		return nil, fmt.Errorf("add envelope schema: %w", err)
	}
	schema, err := c.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &Codec{schema: schema}, nil
}

// Decode validates raw against the envelope schema and unmarshals it into an
// Event. A malformed frame yields an error and no Event; callers drop the
// frame and keep the connection alive.
func (c *Codec) Decode(raw []byte) (*Event, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate frame: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if ev.Timestamp.IsZero() {
		return nil, fmt.Errorf("frame has zero timestamp")
	}
	return &ev, nil
}
