package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"

	"github.com/volary-ai/analyzer-agent/llm"
)

// Validate checks the configuration, reporting every invalid field.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("provider", c.Provider, knownProvider),
		c.validateLimits(),
		c.validateHidden(),
		c.validateMCPServers(),
	)
}

func knownProvider(p string) error {
	if !slices.Contains(llm.Providers, p) {
		return fmt.Errorf("unknown provider %q, expected one of %s", p, strings.Join(llm.Providers, ", "))
	}
	return nil
}

func (c *Config) validateLimits() error {
	var errs criterio.FieldErrorsBuilder
	if c.MaxIterations < 1 {
		errs = errs.Append("max_iterations", fmt.Errorf("must be at least 1, got %d", c.MaxIterations))
	}
	if c.MaxRetriesOnEmpty < 0 {
		errs = errs.Append("max_retries_on_empty", fmt.Errorf("cannot be negative, got %d", c.MaxRetriesOnEmpty))
	}
	return errs.ToError()
}

func (c *Config) validateHidden() error {
	var errs criterio.FieldErrorsBuilder
	for i, pattern := range c.FilesystemAccess.Hidden {
		if !doublestar.ValidatePattern(pattern) {
			errs = errs.Append(fmt.Sprintf("filesystem_access.hidden[%d]", i), fmt.Errorf("invalid glob %q", pattern))
		}
	}
	return errs.ToError()
}

func (c *Config) validateMCPServers() error {
	var errs criterio.FieldErrorsBuilder
	names := make(map[string]bool, len(c.MCPServers))
	for i, s := range c.MCPServers {
		field := fmt.Sprintf("mcp_servers[%d]", i)
		if s.Command == "" {
			errs = errs.Append(field+".command", fmt.Errorf("command is required"))
		}
		if s.Name == "" {
			errs = errs.Append(field+".name", fmt.Errorf("name is required"))
		} else if names[s.Name] {
			errs = errs.Append(field+".name", fmt.Errorf("duplicate server name %q", s.Name))
		}
		names[s.Name] = true
	}
	return errs.ToError()
}
