package checkpoint

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var envelopeSchema []byte

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(envelopeSchema))
})

// validateDocument checks a JSON envelope against the embedded schema.
func validateDocument(doc gojsonschema.JSONLoader) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile envelope schema: %w", err)
	}

	result, err := schema.Validate(doc)
	if err != nil {
		return fmt.Errorf("%w: schema: %w", ErrCorruptState, err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		msgs = append(msgs, resultErr.Field()+": "+resultErr.Description())
	}

	return fmt.Errorf("%w: schema: %s", ErrCorruptState, strings.Join(msgs, "; "))
}

// validateJSON validates raw JSON bytes.
func validateJSON(data []byte) error {
	return validateDocument(gojsonschema.NewBytesLoader(data))
}

// validateValue validates a decoded envelope through its JSON form.
func validateValue(st *State) error {
	return validateDocument(gojsonschema.NewGoLoader(st))
}
