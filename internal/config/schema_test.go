// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package config_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/config"
)

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, config.GetSchemaID(), schema["$id"])
	assert.Equal(t, "Keyfold Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema should have properties")
	for _, key := range []string{"database", "auth", "sweep", "observability", "log"} {
		assert.Contains(t, props, key)
	}
}

func TestValidateSchema_ValidConfig(t *testing.T) {
	yaml := `
database:
  url: postgres://localhost/keyfold
auth:
  signing_secret: 0123456789abcdef0123456789abcdef
  refresh_token_ttl: 7d
`
	err := config.ValidateSchema([]byte(yaml))
	assert.NoError(t, err)
}

func TestValidateSchema_Empty(t *testing.T) {
	err := config.ValidateSchema(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestValidateSchema_InvalidYAML(t *testing.T) {
	err := config.ValidateSchema([]byte("database: [unbalanced"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestValidateSchema_MissingRequiredSection(t *testing.T) {
	yaml := `
database:
  url: postgres://localhost/keyfold
`
	err := config.ValidateSchema([]byte(yaml))
	require.Error(t, err, "auth section is required")
}

func TestValidateSchema_UnknownSection(t *testing.T) {
	yaml := `
database:
  url: postgres://localhost/keyfold
auth:
  signing_secret: 0123456789abcdef0123456789abcdef
smtp:
  host: mail.example.com
`
	err := config.ValidateSchema([]byte(yaml))
	require.Error(t, err, "unknown top-level keys are rejected")
}

func TestValidateSchema_BadLogLevel(t *testing.T) {
	yaml := `
database:
  url: postgres://localhost/keyfold
auth:
  signing_secret: 0123456789abcdef0123456789abcdef
log:
  level: loud
`
	err := config.ValidateSchema([]byte(yaml))
	require.Error(t, err, "log.level enum is enforced")
}
