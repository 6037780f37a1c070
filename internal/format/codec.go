package format

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"provenance/internal/provenance"
)

//go:embed schema/document.schema.json
var documentSchema string

const schemaURL = "https://provenance.local/schema/document-v1.json"

var compiledSchema = jsonschema.MustCompileString(schemaURL, documentSchema)

var requiredFields = []string{"version", "metadata", "sessions"}

// Serialize encodes doc as indented JSON.
func Serialize(doc *provenance.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes a serialized document. It returns a *FormatError when the
// input is not a JSON object, lacks version, metadata or sessions, or has
// fields of the wrong shape.
func Parse(data []byte) (*provenance.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &FormatError{Err: err}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &FormatError{Err: fmt.Errorf("document is not a JSON object")}
	}

	var missing []string
	for _, f := range requiredFields {
		if v, ok := obj[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &FormatError{Missing: missing}
	}

	if err := compiledSchema.Validate(raw); err != nil {
		return nil, &FormatError{Err: err}
	}

	var doc provenance.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &FormatError{Err: err}
	}
	return &doc, nil
}
