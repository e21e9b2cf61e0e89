// Package redact strips credentials, SQL and file system details from text
// before it is logged next to a request or returned to a client.
package redact

import "regexp"

// Placeholders substituted for redacted fragments.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	SQLPlaceholder        = "[REDACTED_SQL]"
	PathPlaceholder       = "[REDACTED_PATH]"
	StackPlaceholder      = "[REDACTED_STACK]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// rules run in order; DSN credentials go first so the path rule cannot split them.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(postgres(?:ql)?|mysql|redis|amqp)://[^@\s]+@`), CredentialPlaceholder + "@"},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[=:]\s*['"]?[^'"&\s]+`), CredentialPlaceholder},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret)\s*[=:]\s*['"]?[A-Za-z0-9_\-.~+/]{8,}`), KeyPlaceholder},
	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|WITH)\b[^;]*?\b(FROM|INTO|SET|AS)\b[^;]*`), SQLPlaceholder},
	{regexp.MustCompile(`goroutine \d+ \[[^\]]*\]:[\s\S]*`), StackPlaceholder},
	{regexp.MustCompile(`(^|[\s"'(=])(/[\w.\-]+){2,}`), "${1}" + PathPlaceholder},
}

// String returns s with sensitive fragments replaced.
func String(s string) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.placeholder)
	}
	return s
}

// Error redacts err's message. A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
