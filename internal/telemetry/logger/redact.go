package logger

import (
	"log/slog"
	"strings"
)

// Sensitive key patterns that should be redacted.
//
// A bare "key" is deliberately absent: storage keys are logged under "key".
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"credential",
	"key_hex",
	"private",
}

// Key suffixes that mark key material, e.g. "encryption_key", "master_key".
var sensitiveKeySuffixes = []string{
	"_key",
	"-key",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive checks if an attribute holds sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	if !IsSensitiveKey(a.Key) {
		return a
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, redactedValue)
	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok && len(b) > 0 {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}

// MaskHex shortens a hex digest or key fingerprint for display,
// keeping the first and last four characters.
func MaskHex(value string) string {
	if len(value) <= 12 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// IsSensitiveKey checks if an attribute name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	for _, suffix := range sensitiveKeySuffixes {
		if strings.HasSuffix(keyLower, suffix) {
			return true
		}
	}
	return false
}
