package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// configExample is the starter configuration written by init. Values
// match the builtin defaults so the file documents itself.
const configExample = `# Squadron configuration
model:
  name: llama3.1
  ollama_url: http://localhost:11434
  temperature: 0

loop:
  max_steps: 10
  max_supervisor_steps: 25
  max_hops: 5

peers:
  - name: FileAgent
    url: http://localhost:8001
    capability: file-operations
  - name: MathAgent
    url: http://localhost:8002
    capability: arithmetic

web:
  port: 8080

# Directory the file tools operate on.
workspace: workspace

# Where the conversation database lives.
data_dir: data

log_level: info
`

// runInit initializes a Squadron working directory with default files.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Squadron workspace in %s\n", dir)

	for _, sub := range []string{"workspace", "data"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "squadron.yaml")
	if err := writeIfMissing(configPath, []byte(configExample)); err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit squadron.yaml to point at your Ollama instance and model.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, 0o644)
}
