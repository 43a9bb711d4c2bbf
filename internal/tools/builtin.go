package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NewBuiltinRegistry creates a registry with the built-in tools rooted
// at the given workspace directory.
func NewBuiltinRegistry(workspace string) *Registry {
	r := NewRegistry()
	r.Register(ListDirectoryTool(workspace))
	r.Register(CheckFileExistsTool(workspace))
	r.Register(CalculatorTool())
	return r
}

// ListDirectoryTool lists the files in the workspace directory.
func ListDirectoryTool(workspace string) *Tool {
	return &Tool{
		Name:        "list_directory",
		Description: "List the files in the current working directory.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			entries, err := os.ReadDir(workspace)
			if err != nil {
				return "", fmt.Errorf("read directory: %w", err)
			}
			if len(entries) == 0 {
				return "The directory is empty.", nil
			}
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.Name()
			}
			return "Files in directory: " + strings.Join(names, ", "), nil
		},
	}
}

// CheckFileExistsTool reports whether a file exists in the workspace.
// Path arguments that could escape the workspace are rejected before
// any filesystem access.
func CheckFileExistsTool(workspace string) *Tool {
	return &Tool{
		Name:        "check_file_exists",
		Description: "Check whether a file with the given name exists in the current working directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Name of the file to check, relative to the working directory.",
				},
			},
			"required": []string{"filename"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			filename, _ := args["filename"].(string)
			if filename == "" {
				return "", &ErrMissingArgument{ToolName: "check_file_exists", Argument: "filename"}
			}
			if err := guardPath(filename); err != nil {
				return "", err
			}

			exists := "False"
			if _, err := os.Stat(filepath.Join(workspace, filename)); err == nil {
				exists = "True"
			}
			return fmt.Sprintf("File '%s' exists: %s", filename, exists), nil
		},
	}
}

// guardPath rejects filenames that reference anything outside the
// workspace. Rejection happens by inspection only so a denied path
// never touches the filesystem.
func guardPath(filename string) error {
	if strings.Contains(filename, "..") {
		return &ErrAccessDenied{Path: filename}
	}
	if strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, `\`) {
		return &ErrAccessDenied{Path: filename}
	}
	if strings.Contains(filename, ":") {
		return &ErrAccessDenied{Path: filename}
	}
	return nil
}

// CalculatorTool evaluates arithmetic expressions.
func CalculatorTool() *Tool {
	return &Tool{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression. Supports + - * /, parentheses, and the functions sqrt, log, ln, abs, floor, ceil, sin, cos, tan.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The arithmetic expression to evaluate, e.g. '100 / 4'.",
				},
			},
			"required": []string{"expression"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			expr, _ := args["expression"].(string)
			if expr == "" {
				return "", &ErrMissingArgument{ToolName: "calculator", Argument: "expression"}
			}
			return Evaluate(expr)
		},
	}
}
