// Package config loads the analyzer's layered YAML configuration.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/llm"
	"github.com/volary-ai/analyzer-agent/tools/mcp"
)

const (
	appName  = "volary-analyzer"
	fileName = "config.yaml"

	// ProjectDir holds the per-repository configuration.
	ProjectDir = ".volary"

	DefaultCoordinatorModel    = "openai/gpt-5.1"
	DefaultDelegateModel       = "openai/gpt-5.1-codex-mini"
	DefaultCompletionsEndpoint = "https://openrouter.ai/api/v1"
	DefaultMaxIterations       = 50
	DefaultMaxRetriesOnEmpty   = 2
)

type FilesystemAccess struct {
	// Hidden are doublestar globs, relative to the repository root, that the
	// file tools refuse to list or read.
	Hidden []string `yaml:"hidden"`
}

type WebSearch struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Provider            string             `yaml:"provider"`
	CoordinatorModel    string             `yaml:"coordinator_model"`
	DelegateModel       string             `yaml:"delegate_model"`
	CompletionsEndpoint string             `yaml:"completions_endpoint"`
	CompletionsAPIKey   string             `yaml:"completions_api_key"`
	CacheDir            string             `yaml:"cache_dir"`
	MaxIterations       int                `yaml:"max_iterations"`
	MaxRetriesOnEmpty   int                `yaml:"max_retries_on_empty"`
	FilesystemAccess    FilesystemAccess   `yaml:"filesystem_access"`
	MCPServers          []mcp.ServerConfig `yaml:"mcp_servers"`
	WebSearch           WebSearch          `yaml:"web_search"`
}

// Default returns the configuration used when no file sets a field.
func Default() Config {
	cacheDir := filepath.Join(os.TempDir(), appName)
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, appName)
	}
	return Config{
		Provider:            llm.ProviderOpenAI,
		CoordinatorModel:    DefaultCoordinatorModel,
		DelegateModel:       DefaultDelegateModel,
		CompletionsEndpoint: DefaultCompletionsEndpoint,
		CacheDir:            cacheDir,
		MaxIterations:       DefaultMaxIterations,
		MaxRetriesOnEmpty:   DefaultMaxRetriesOnEmpty,
		FilesystemAccess: FilesystemAccess{
			Hidden: []string{ProjectDir, ProjectDir + "/**", ".env", "**/.env"},
		},
		WebSearch: WebSearch{Enabled: true},
	}
}

// UserFile is the path of the user level configuration file.
func UserFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrapf(err, "could not find the user config directory")
	}
	return filepath.Join(dir, appName, fileName), nil
}

// ProjectFile is the path of the configuration file of the repository at root.
func ProjectFile(root string) string {
	return filepath.Join(root, ProjectDir, fileName)
}

// LoadConfig loads the user level configuration and then the configuration of
// the repository at root, the latter taking precedence.
func LoadConfig(root string) (*Config, error) {
	var files []string
	if user, err := UserFile(); err == nil {
		files = append(files, user)
	}
	return Load(append(files, ProjectFile(root))...)
}

// Load applies each existing file over the defaults in order and validates
// the result. Missing files are skipped.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration")
	}
	return &cfg, nil
}

// loadFromFile overwrites the fields present in the file. Lists replace
// rather than extend the earlier value.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
