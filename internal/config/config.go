// Package config handles Squadron configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./squadron.yaml, ~/.config/squadron/squadron.yaml,
// /etc/squadron/squadron.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"squadron.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "squadron", "squadron.yaml"))
	}

	paths = append(paths, "/etc/squadron/squadron.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Squadron configuration.
type Config struct {
	Model     ModelConfig  `yaml:"model"`
	Loop      LoopConfig   `yaml:"loop"`
	Peers     []PeerConfig `yaml:"peers"`
	Web       ListenConfig `yaml:"web"`
	Workspace string       `yaml:"workspace"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
}

// ModelConfig defines the local Ollama model settings.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	OllamaURL   string  `yaml:"ollama_url"`
	Temperature float64 `yaml:"temperature"`
}

// LoopConfig bounds the delegation loop. Zero values fall back to the
// per-topology defaults (10 single-agent steps, 25 supervisor steps,
// 5 peer-network hops).
type LoopConfig struct {
	MaxSteps           int `yaml:"max_steps"`
	MaxSupervisorSteps int `yaml:"max_supervisor_steps"`
	MaxHops            int `yaml:"max_hops"`
}

// PeerConfig describes one remote specialist agent.
type PeerConfig struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	Capability string `yaml:"capability"` // "file-operations" or "arithmetic"
}

// ListenConfig defines an HTTP listener.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration matching a stock local setup:
// llama3.1 on a local Ollama, the two builtin specialists on their
// conventional ports, and the current directory as workspace.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:      "llama3.1",
			OllamaURL: "http://localhost:11434",
		},
		Peers: []PeerConfig{
			{Name: "FileAgent", URL: "http://localhost:8001", Capability: "file-operations"},
			{Name: "MathAgent", URL: "http://localhost:8002", Capability: "arithmetic"},
		},
		Web:       ListenConfig{Port: 8080},
		Workspace: ".",
		DataDir:   ".",
	}
}

// DatabasePath returns the conversation database location under DataDir.
func (c *Config) DatabasePath() string {
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "squadron.sqlite")
}
