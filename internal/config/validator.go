package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema constrains the configuration file shape. Unknown
// top-level keys are rejected so typos fail loudly at load time.
const configSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"server": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"host": {"type": "string"},
				"port": {"type": "integer", "minimum": 1, "maximum": 65535},
				"metrics_port": {"type": "integer", "minimum": 0, "maximum": 65535}
			}
		},
		"storage": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"database_path": {"type": "string"},
				"cache_ttl_minutes": {"type": "integer", "minimum": 1},
				"cache_sweep_seconds": {"type": "integer", "minimum": 1}
			}
		},
		"sessions": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"max_concurrent": {"type": "integer", "minimum": 1},
				"warn_after_minutes": {"type": "integer", "minimum": 1},
				"fail_after_minutes": {"type": "integer", "minimum": 1},
				"retention_minutes": {"type": "integer", "minimum": 1},
				"default_max_turns": {"type": "integer", "minimum": 1},
				"default_timeout_secs": {"type": "integer", "minimum": 1}
			}
		},
		"providers": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"default": {"type": "string"},
				"claude_cli": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"enabled": {"type": "boolean"},
						"binary": {"type": "string"},
						"max_sessions": {"type": "integer", "minimum": 1}
					}
				},
				"anthropic": {"$ref": "#/definitions/api_provider"},
				"openai": {"$ref": "#/definitions/api_provider"},
				"echo": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"enabled": {"type": "boolean"}
					}
				}
			}
		},
		"monitors": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"timeout_sweep_seconds": {"type": "integer", "minimum": 1},
				"cleanup_sweep_seconds": {"type": "integer", "minimum": 1}
			}
		},
		"logging": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
				"file": {"type": "string"},
				"console": {"type": "boolean"},
				"pretty": {"type": "boolean"}
			}
		},
		"data_dir": {"type": "string"}
	},
	"definitions": {
		"api_provider": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"enabled": {"type": "boolean"},
				"api_key": {"type": "string"},
				"max_sessions": {"type": "integer", "minimum": 1}
			}
		}
	}
}`

// Validate checks the config file at path against the schema.
func Validate(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("invalid config %s: %s", path, strings.Join(problems, "; "))
	}
	return nil
}

// Check verifies cross-field constraints the schema cannot express.
func (c *Config) Check() error {
	if c.Sessions.WarnAfterMinutes >= c.Sessions.FailAfterMinutes {
		return fmt.Errorf("warn_after_minutes (%d) must be less than fail_after_minutes (%d)",
			c.Sessions.WarnAfterMinutes, c.Sessions.FailAfterMinutes)
	}
	return nil
}
