package federation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDirectoryConfig loads a directory process config from a YAML file.
func LoadDirectoryConfig(path string) (*DirectoryConfig, error) {
	if err := validateFilePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - Path validated with whitelist above
	if err != nil {
		return nil, err
	}
	var cfg DirectoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveDirectoryConfig writes a directory process config to a YAML file.
func SaveDirectoryConfig(cfg *DirectoryConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadAggregatorConfig loads an aggregator process config from a YAML file.
func LoadAggregatorConfig(path string) (*AggregatorConfig, error) {
	if err := validateFilePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - Path validated with whitelist above
	if err != nil {
		return nil, err
	}
	var cfg AggregatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveAggregatorConfig writes an aggregator process config to a YAML file.
func SaveAggregatorConfig(cfg *AggregatorConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadAgentConfig loads an agent process config from a YAML file.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	if err := validateFilePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - Path validated with whitelist above
	if err != nil {
		return nil, err
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveAgentConfig writes an agent process config to a YAML file. Used by
// both sides of the rotation hand-off and by self-promotion at bootstrap
// to persist the next role's config before the process exits and its
// supervisor restarts it, and by `fx agent init` to write a starter file.
func SaveAgentConfig(cfg *AgentConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// validateFilePath validates and sanitizes file paths to prevent directory traversal attacks.
func validateFilePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("invalid file extension: only .yaml and .yml files are allowed")
	}

	if len(cleanPath) > 256 {
		return fmt.Errorf("file path too long: maximum 256 characters allowed")
	}

	return nil
}
