// Package agent runs the bounded LLM investigation loop. The model
// proposes shell commands; the whitelist below is the sole authorization
// boundary between a proposal and execution.
package agent

import (
	"regexp"
	"strings"
)

// allowedCommandPatterns enumerates every command shape the agent may
// execute. Patterns are matched case-insensitively against the start of
// the trimmed command line. Anything not matching is refused.
var allowedCommandPatterns = []*regexp.Regexp{
	// Read-only inspection.
	regexp.MustCompile(`(?i)^apt\s+list\s+`),
	regexp.MustCompile(`(?i)^apt-cache\s+`),
	regexp.MustCompile(`(?i)^dpkg\s+-[lL]`),
	regexp.MustCompile(`(?i)^rpm\s+-qa`),
	regexp.MustCompile(`(?i)^ss\s+-`),
	regexp.MustCompile(`(?i)^netstat\s+-`),
	regexp.MustCompile(`(?i)^docker\s+ps`),
	regexp.MustCompile(`(?i)^docker\s+images`),
	regexp.MustCompile(`(?i)^docker\s+inspect\s+`),
	regexp.MustCompile(`(?i)^cat\s+/etc/`),
	regexp.MustCompile(`(?i)^ls\s+-la\s+/etc/`),
	regexp.MustCompile(`(?i)^getent\s+`),
	regexp.MustCompile(`(?i)^systemctl\s+list-units`),
	regexp.MustCompile(`(?i)^systemctl\s+status\s+`),
	regexp.MustCompile(`(?i)^id\s+`),
	regexp.MustCompile(`(?i)^whoami$`),
	regexp.MustCompile(`(?i)^uname\s+-a$`),
	regexp.MustCompile(`(?i)^hostname$`),
	// Package remediation.
	regexp.MustCompile(`(?i)^apt\s+install\s+-y\s+`),
	regexp.MustCompile(`(?i)^apt\s+upgrade\s+-y$`),
	regexp.MustCompile(`(?i)^apt-get\s+install\s+-y\s+`),
	regexp.MustCompile(`(?i)^apt-get\s+upgrade\s+-y$`),
	// Containment.
	regexp.MustCompile(`(?i)^docker\s+stop\s+`),
	regexp.MustCompile(`(?i)^docker\s+rm\s+-f\s+`),
	regexp.MustCompile(`(?i)^ufw\s+deny\s+`),
	regexp.MustCompile(`(?i)^iptables\s+-I\s+INPUT\s+`),
}

// IsCommandAllowed reports whether the agent may execute the command.
// Empty lines and comments are refused outright.
func IsCommandAllowed(command string) bool {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	for _, pattern := range allowedCommandPatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}
