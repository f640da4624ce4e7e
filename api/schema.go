package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// alertSchema describes the ingest document. Field values are checked by the
// request struct's validate tags; the schema pins the document's shape.
const alertSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["source", "alert_type", "severity"],
  "additionalProperties": false,
  "properties": {
    "id":         {"type": "string"},
    "timestamp":  {"type": "string", "format": "date-time"},
    "source":     {"type": "string"},
    "alert_type": {"type": "string"},
    "severity":   {"type": "string"},
    "raw_log":    {"type": ["object", "null"]}
  }
}`

var alertSchemaLoader = gojsonschema.NewStringLoader(alertSchema)

// validateAlertDocument checks an ingest body against the alert schema
func validateAlertDocument(body []byte) error {
	result, err := gojsonschema.Validate(alertSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("failed to validate alert document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("alert document is invalid: %s", strings.Join(msgs, "; "))
	}
	return nil
}
