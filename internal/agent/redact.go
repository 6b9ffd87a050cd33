package agent

import (
	"fmt"
	"regexp"
)

var credentialAssignment = regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key|credential)\s*[:=]\s*\S+`)

// Redact masks configured sensitive words and credential-style key=value
// pairs before text leaves the host.
func Redact(text string, patterns []string) string {
	out := text
	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(pat))
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return credentialAssignment.ReplaceAllString(out, "$1=[REDACTED]")
}

// RedactMap redacts every stringified value of a map.
func RedactMap(values map[string]any, patterns []string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = Redact(fmt.Sprintf("%v", v), patterns)
	}
	return out
}
