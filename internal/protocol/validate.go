package protocol

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks inbound client messages against the embedded schemas.
type Validator struct {
	hello *jsonschema.Schema
	act   *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	hello, err := compile("hello.schema.json")
	if err != nil {
		return nil, err
	}
	act, err := compile("act.schema.json")
	if err != nil {
		return nil, err
	}
	return &Validator{hello: hello, act: act}, nil
}

func compile(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	s, err := jsonschema.CompileString(name, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return s, nil
}

func (v *Validator) ValidateHello(raw []byte) error { return validate(v.hello, raw) }
func (v *Validator) ValidateAct(raw []byte) error   { return validate(v.act, raw) }

func validate(s *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
