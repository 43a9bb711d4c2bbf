package tools

import "fmt"

// ValidateArgs checks decoded arguments against a tool's declared
// parameter schema: every required field must be present, and every
// supplied field must match its declared primitive type. Unknown
// fields are tolerated.
func ValidateArgs(t *Tool, args map[string]any) error {
	if t.Parameters == nil {
		return nil
	}

	props, _ := t.Parameters["properties"].(map[string]any)

	if required, ok := t.Parameters["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return &ErrMissingArgument{ToolName: t.Name, Argument: name}
			}
		}
	} else if required, ok := t.Parameters["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := args[name]; name != "" && !present {
				return &ErrMissingArgument{ToolName: t.Name, Argument: name}
			}
		}
	}

	for name, value := range args {
		spec, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		declared, _ := spec["type"].(string)
		if declared == "" {
			continue
		}
		if err := checkType(declared, value); err != nil {
			return fmt.Errorf("tool %q argument %q: %w", t.Name, name, err)
		}
	}

	return nil
}

func checkType(declared string, value any) error {
	switch declared {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	}
	return nil
}
