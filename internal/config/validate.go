package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationErrors collects field errors so a definition reports everything
// wrong with it at once.
type ValidationErrors []ValidationError

// Add appends a field error.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any field failed validation.
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateDefinition checks a tool server definition for launchability.
func ValidateDefinition(def ToolServerDefinition) error {
	var errs ValidationErrors

	if strings.TrimSpace(def.Name) == "" {
		errs.Add("name", "is required")
	} else if !isValidServerName(def.Name) {
		// The name becomes the tool qualifier prefix; a dot in it would
		// make qualified names ambiguous.
		errs.Add("name", "may only contain letters, digits, '-' and '_'")
	}

	if len(def.Command) == 0 {
		errs.Add("command", "is required")
	} else {
		for i, part := range def.Command {
			if strings.TrimSpace(part) == "" {
				errs.Add(fmt.Sprintf("command[%d]", i), "cannot be empty")
			}
		}
	}

	for key := range def.Env {
		if strings.TrimSpace(key) == "" {
			errs.Add("env", "environment variable key cannot be empty")
		}
	}

	if def.CallTimeout < 0 {
		errs.Add("callTimeout", "cannot be negative")
	}

	if errs.HasErrors() {
		return fmt.Errorf("invalid server definition %q: %w", def.Name, errs)
	}
	return nil
}

func isValidServerName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
