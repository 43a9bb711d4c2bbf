package tools

import "fmt"

// ErrToolUnavailable indicates a requested tool is not registered.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ErrAccessDenied indicates a path argument escaped the workspace
// sandbox. The path is rejected by inspection alone; the filesystem is
// never probed.
type ErrAccessDenied struct {
	Path string
}

func (e *ErrAccessDenied) Error() string {
	return fmt.Sprintf("access denied: %q is outside the workspace", e.Path)
}

// ErrInvalidExpression indicates a calculator expression failed to
// parse or evaluate.
type ErrInvalidExpression struct {
	Expr   string
	Reason string
}

func (e *ErrInvalidExpression) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Expr, e.Reason)
}

// ErrMissingArgument indicates a required tool argument was absent or
// of the wrong type.
type ErrMissingArgument struct {
	ToolName string
	Argument string
}

func (e *ErrMissingArgument) Error() string {
	return fmt.Sprintf("tool %q requires argument %q", e.ToolName, e.Argument)
}
