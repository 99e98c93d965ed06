package config

import (
	"strings"

	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
)

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg

	if sanitized.Encryption.KeyHex != "" {
		sanitized.Encryption.KeyHex = maskSecret(sanitized.Encryption.KeyHex)
	}
	if sanitized.Encryption.Passphrase != "" {
		sanitized.Encryption.Passphrase = maskSecret(sanitized.Encryption.Passphrase)
	}

	if sanitized.Encryption.SaltHex != "" {
		sanitized.Encryption.SaltHex = logger.MaskHex(sanitized.Encryption.SaltHex)
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
