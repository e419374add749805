package improve

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Validator checks a candidate's syntax before it is committed.
type Validator interface {
	Validate(target string, content []byte) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(target string, content []byte) error

// Validate calls f.
func (f ValidatorFunc) Validate(target string, content []byte) error {
	return f(target, content)
}

// GoSyntax parses Go source.
var GoSyntax = ValidatorFunc(func(target string, content []byte) error {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, target, content, parser.AllErrors); err != nil {
		return fmt.Errorf("go syntax: %w", err)
	}
	return nil
})

// YAMLSyntax decodes YAML documents.
var YAMLSyntax = ValidatorFunc(func(target string, content []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return fmt.Errorf("yaml syntax: %w", err)
	}
	return nil
})

// JSONSyntax checks for well-formed JSON.
var JSONSyntax = ValidatorFunc(func(target string, content []byte) error {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return fmt.Errorf("json syntax: %w", err)
	}
	return nil
})

// DefaultValidators maps file extensions to their syntax checks.
func DefaultValidators() map[string]Validator {
	return map[string]Validator{
		".go":   GoSyntax,
		".yaml": YAMLSyntax,
		".yml":  YAMLSyntax,
		".json": JSONSyntax,
	}
}

// validatorFor returns the validator registered for target's extension, or
// nil when the type has no syntax check.
func validatorFor(validators map[string]Validator, target string) Validator {
	return validators[strings.ToLower(filepath.Ext(target))]
}
