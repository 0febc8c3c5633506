package logger

import (
	"regexp"
	"strings"
)

// sensitivePatterns match credentials that can leak through URLs, headers
// and wrapped error messages.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)\b(hf_)[A-Za-z0-9]{8,}`),
	regexp.MustCompile(`(?i)((token|secret|passw(or)?d|api[_-]?key)[\s:=]+)([^;,\s"]{5,})`),
}

var userinfoPattern = regexp.MustCompile(`(?i)(://[^:/@\s]+:)([^@\s]+)(@)`)

var sensitiveKeys = []string{"token", "password", "secret", "authorization", "dsn"}

// RedactSensitiveData replaces credentials in input with "[REDACTED]".
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitivePatterns {
		input = pattern.ReplaceAllString(input, "${1}[REDACTED]")
	}
	return userinfoPattern.ReplaceAllString(input, "${1}[REDACTED]${3}")
}

// IsSensitiveKey reports whether a field or config key names a credential.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Secret returns a field whose value is masked unless empty.
func Secret(key, value string) Field {
	if value == "" {
		return String(key, "")
	}
	return String(key, "[REDACTED]")
}
