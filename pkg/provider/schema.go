package provider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// sessionConfigSchema constrains the session config documents accepted
// from callers before they are mapped onto SessionConfig.
const sessionConfigSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"model":             {"type": "string"},
		"max_turns":         {"type": "integer", "minimum": 1},
		"timeout_seconds":   {"type": "integer", "minimum": 1},
		"system_prompt":     {"type": "string"},
		"working_directory": {"type": "string"},
		"environment": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

var configSchema = gojsonschema.NewStringLoader(sessionConfigSchema)

// ParseConfig validates a raw config document against the session
// config schema and maps it onto a SessionConfig.
func ParseConfig(raw []byte) (SessionConfig, error) {
	if len(raw) == 0 {
		return SessionConfig{}, nil
	}

	result, err := gojsonschema.Validate(configSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return SessionConfig{}, fmt.Errorf("failed to validate config: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return SessionConfig{}, fmt.Errorf("invalid session config: %s", strings.Join(msgs, "; "))
	}

	var doc struct {
		Model            string            `json:"model"`
		MaxTurns         int               `json:"max_turns"`
		TimeoutSeconds   int               `json:"timeout_seconds"`
		SystemPrompt     string            `json:"system_prompt"`
		WorkingDirectory string            `json:"working_directory"`
		Environment      map[string]string `json:"environment"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return SessionConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return SessionConfig{
		Model:            doc.Model,
		MaxTurns:         doc.MaxTurns,
		Timeout:          time.Duration(doc.TimeoutSeconds) * time.Second,
		SystemPrompt:     doc.SystemPrompt,
		WorkingDirectory: doc.WorkingDirectory,
		Environment:      doc.Environment,
	}, nil
}
