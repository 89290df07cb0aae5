package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request payload schemas. Validation happens before any decoding into
// typed structs, so malformed requests never reach the ledger core.
const createPurchaseSchema = `{
	"type": "object",
	"required": ["total_tokens", "total_payment", "meter_reading", "purchase_date"],
	"properties": {
		"total_tokens": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
		"total_payment": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
		"meter_reading": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
		"purchase_date": {"type": "string", "format": "date-time"},
		"is_emergency": {"type": "boolean"}
	},
	"additionalProperties": false
}`

const createContributionSchema = `{
	"type": "object",
	"required": ["purchase_id", "amount"],
	"properties": {
		"purchase_id": {"type": "string", "minLength": 1},
		"user_id": {"type": "string"},
		"amount": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
		"override": {"type": "boolean"},
		"override_reason": {"type": "string"}
	},
	"additionalProperties": false
}`

const editContributionSchema = `{
	"type": "object",
	"required": ["amount"],
	"properties": {
		"amount": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}
	},
	"additionalProperties": false
}`

const readingChangeSchema = `{
	"type": "object",
	"required": ["new_reading"],
	"properties": {
		"new_reading": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
		"override": {"type": "boolean"}
	},
	"additionalProperties": false
}`

type requestSchemas struct {
	createPurchase     *jsonschema.Schema
	createContribution *jsonschema.Schema
	editContribution   *jsonschema.Schema
	readingChange      *jsonschema.Schema
}

func compileSchemas() (*requestSchemas, error) {
	s := &requestSchemas{}
	var err error
	if s.createPurchase, err = jsonschema.CompileString("create_purchase.json", createPurchaseSchema); err != nil {
		return nil, fmt.Errorf("api: compile create_purchase schema: %w", err)
	}
	if s.createContribution, err = jsonschema.CompileString("create_contribution.json", createContributionSchema); err != nil {
		return nil, fmt.Errorf("api: compile create_contribution schema: %w", err)
	}
	if s.editContribution, err = jsonschema.CompileString("edit_contribution.json", editContributionSchema); err != nil {
		return nil, fmt.Errorf("api: compile edit_contribution schema: %w", err)
	}
	if s.readingChange, err = jsonschema.CompileString("reading_change.json", readingChangeSchema); err != nil {
		return nil, fmt.Errorf("api: compile reading_change schema: %w", err)
	}
	return s, nil
}

// decodeValidated validates the request body against the schema and
// then decodes it into dst. Returns false after writing the error
// response when the body is invalid.
func decodeValidated(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		WriteBadRequest(w, "failed to read request body")
		return false
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return false
	}
	if err := schema.Validate(generic); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dst); err != nil {
		WriteBadRequest(w, "request body does not match the expected shape")
		return false
	}
	return true
}
