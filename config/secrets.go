package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir is where container runtimes mount file-based secrets.
const DefaultSecretsDir = "/run/secrets"

// resolveSecret turns a credential reference from the configuration file into
// its value. Resolution order:
//
//  1. a file named after the reference under the secrets directory
//  2. an environment variable for "${VAR}" references
//  3. the literal value
func resolveSecret(secretsDir, value string) string {
	if value == "" {
		return ""
	}

	if secretsDir != "" {
		candidate := filepath.Join(secretsDir, value)
		if data, err := os.ReadFile(candidate); err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}

	return value
}
