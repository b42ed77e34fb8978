// Package schema validates plan documents against a JSON Schema.
package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan.json
var planSchema []byte

const planSchemaURL = "https://plan-store.local/schemas/plan.json"

// Violation is one failed rule, located both in the document and in the
// schema.
type Violation struct {
	Message    string         `json:"message"`
	DataPath   string         `json:"dataPath"`
	SchemaPath string         `json:"schemaPath"`
	Params     map[string]any `json:"params"`
}

type Validator struct {
	schema *jsonschema.Schema
}

// New compiles raw under the given resource URL.
func New(url string, raw []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema: load %s: %w", url, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", url, err)
	}
	return &Validator{schema: compiled}, nil
}

// NewPlanValidator compiles the embedded plan schema.
func NewPlanValidator() (*Validator, error) {
	return New(planSchemaURL, planSchema)
}

// NewFromFile compiles the schema at path.
func NewFromFile(path string) (*Validator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return New("file://"+filepath.ToSlash(abs), raw)
}

// Load returns the file schema when path is set, the embedded one otherwise.
func Load(path string) (*Validator, error) {
	if path == "" {
		return NewPlanValidator()
	}
	return NewFromFile(path)
}

// Validate returns nil when doc conforms. doc must be decoded JSON; decode
// with UseNumber to keep numeric precision. Violations are ordered
// depth-first as the validator reports them.
func (v *Validator) Validate(doc any) ([]Violation, error) {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil, nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("schema: validate: %w", err)
	}

	var violations []Violation
	collect(ve, &violations)
	return violations, nil
}

func collect(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) == 0 {
		*out = append(*out, Violation{
			Message:    ve.Message,
			DataPath:   ve.InstanceLocation,
			SchemaPath: ve.KeywordLocation,
			Params: map[string]any{
				"keyword":                 keyword(ve.KeywordLocation),
				"absoluteKeywordLocation": ve.AbsoluteKeywordLocation,
			},
		})
		return
	}
	for _, cause := range ve.Causes {
		collect(cause, out)
	}
}

func keyword(location string) string {
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}
