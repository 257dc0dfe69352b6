package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models taskdesk.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Storage struct {
		// Root directory for uploaded task output files.
		Root string `yaml:"root"`
	} `yaml:"storage"`
	Submissions struct {
		// OverwriteBlank controls whether a blank optional field on
		// resubmission clears the previously stored answer. Off by
		// default: blanks leave prior answers untouched.
		OverwriteBlank bool `yaml:"overwrite_blank"`
	} `yaml:"submissions"`
	Auth struct {
		// JWTSecret signs bearer tokens. Usually injected through
		// TASKDESK_AUTH_JWT_SECRET rather than stored in the file.
		JWTSecret string `yaml:"jwt_secret"`
		// DevLogin enables the unauthenticated token-minting endpoint.
		DevLogin bool `yaml:"dev_login"`
	} `yaml:"auth"`
	// Roles seeds named permission bundles on startup.
	Roles map[string]RoleSeed `yaml:"roles"`
}

type RoleSeed struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

const fileName = "taskdesk.yml"

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(workspace, ".taskdesk", "files")
	}
	return cfg, nil
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a usable config with the stock role bundles.
func Default(workspace string) *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v1"
	cfg.Storage.Root = filepath.Join(workspace, ".taskdesk", "files")
	cfg.Roles = map[string]RoleSeed{
		"Manager": {
			Description: "Full control over organizations and tasks",
			Permissions: []string{
				"organization.view", "organization.add", "organization.change", "organization.delete",
				"department.view", "department.add", "department.change", "department.delete",
				"role.view", "role.add", "role.change", "role.delete",
				"assignment.view", "assignment.add", "assignment.change", "assignment.delete",
				"user.view", "user.add", "user.change", "user.delete",
				"task.view", "task.add", "task.change", "task.delete",
				"outputfield.add", "outputfield.change", "outputfield.delete",
			},
		},
		"Member": {
			Description: "Works on assigned tasks",
			Permissions: []string{
				"organization.view", "department.view", "task.view",
			},
		},
		"Viewer": {
			Description: "Read-only task access",
			Permissions: []string{"task.view"},
		},
	}
	return cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for name, seed := range c.Roles {
		if name == "" {
			return fmt.Errorf("config.roles contains empty role name")
		}
		for _, perm := range seed.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission key", name)
			}
			if !strings.Contains(perm, ".") {
				return fmt.Errorf("role %s permission %q must be resource.action", name, perm)
			}
		}
	}
	return nil
}
