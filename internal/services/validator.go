package services

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/create_task.v1.json
var createTaskSchemaJSON []byte

// Validator checks request payloads against their JSON schemas before any
// handler logic runs.
type Validator struct {
	createTask *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("create_task.v1.json", bytes.NewReader(createTaskSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add create_task schema: %w", err)
	}
	schema, err := compiler.Compile("create_task.v1.json")
	if err != nil {
		return nil, fmt.Errorf("compile create_task schema: %w", err)
	}
	return &Validator{createTask: schema}, nil
}

// ValidateCreateTask returns ErrInvalidInput (wrapped) when the body does not
// conform to the task-creation schema.
func (v *Validator) ValidateCreateTask(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: body is not valid JSON", ErrInvalidInput)
	}
	if err := v.createTask.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
