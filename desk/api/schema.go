package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"
)

const chatSchema = `{
	"type": "object",
	"required": ["sessionId", "message", "userRole"],
	"additionalProperties": false,
	"properties": {
		"sessionId": {"type": "string", "minLength": 1, "maxLength": 128},
		"message":   {"type": "string", "minLength": 1},
		"userRole":  {"type": "string", "minLength": 1, "maxLength": 32},
		"topK":      {"type": "integer", "minimum": 0}
	}
}`

const ticketStatusSchema = `{
	"type": "object",
	"required": ["status"],
	"additionalProperties": false,
	"properties": {
		"status": {"type": "string", "enum": ["NEW", "IN_PROGRESS", "RESOLVED", "CLOSED"]}
	}
}`

type schemas struct {
	chat         *gojsonschema.Schema
	ticketStatus *gojsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	chat, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(chatSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat schema: %w", err)
	}
	status, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ticketStatusSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile ticket status schema: %w", err)
	}
	return &schemas{chat: chat, ticketStatus: status}, nil
}

// schemaError lists every violation found in a request body.
type schemaError struct {
	details []string
}

func (e *schemaError) Error() string {
	return fmt.Sprintf("request body does not match schema (%d errors)", len(e.details))
}

// readBody reads at most limit bytes and validates them against schema. The raw
// body is returned for decoding once it is known to be well formed.
func readBody(w http.ResponseWriter, r *http.Request, limit int64, schema *gojsonschema.Schema) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &schemaError{details: []string{"request body is empty"}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &schemaError{details: []string{"malformed JSON: " + err.Error()}}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return nil, &schemaError{details: details}
	}
	return data, nil
}

// writeBodyError reports readBody failures.
func (s *Server) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var se *schemaError
	if errors.As(err, &se) {
		badRequest(w, r, se.Error(), se.details...)
		return
	}
	s.writeError(w, r, err)
}
