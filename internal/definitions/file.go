package definitions

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"workflow-suite/core/pkg/models"
)

type definitionsFile struct {
	Definitions []models.WorkflowDefinition `yaml:"definitions"`
}

// LoadFile reads definitions from a YAML document of the form
//
//	definitions:
//	  - id: onboarding
//	    name: Employee onboarding
//	    status: active
//	    steps:
//	      - {id: start, name: Start, kind: task}
func LoadFile(path string) (*StaticAccessor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML definitions document.
func Parse(data []byte) (*StaticAccessor, error) {
	var doc definitionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	for i := range doc.Definitions {
		if err := validate(&doc.Definitions[i]); err != nil {
			return nil, err
		}
	}
	return NewStaticAccessor(doc.Definitions...), nil
}

var (
	_ Accessor = (*StaticAccessor)(nil)
	_ Accessor = (*HTTPAccessor)(nil)
)
