package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const changeSchemaURL = "https://voxelhistory.ai/schemas/change.schema.json"

var (
	changeSchemaOnce sync.Once
	changeSchema     *jsonschema.Schema
	changeSchemaErr  error
)

func compileChangeSchema() (*jsonschema.Schema, error) {
	changeSchemaOnce.Do(func() {
		raw, err := schemaFS.ReadFile("schemas/change.schema.json")
		if err != nil {
			changeSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(changeSchemaURL, bytes.NewReader(raw)); err != nil {
			changeSchemaErr = err
			return
		}
		changeSchema, changeSchemaErr = c.Compile(changeSchemaURL)
	})
	return changeSchema, changeSchemaErr
}

// ValidateChangeEvent checks raw JSON against the change event schema and
// decodes it.
func ValidateChangeEvent(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	s, err := compileChangeSchema()
	if err != nil {
		return ev, fmt.Errorf("change schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ev, err
	}
	if err := s.Validate(v); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, err
	}
	if err := ev.Check(); err != nil {
		return ev, err
	}
	return ev, nil
}
