package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactLiteralPatterns(t *testing.T) {
	out := Redact("connecting to db-primary.internal as svc_agent", []string{"db-primary.internal", "svc_agent"})
	assert.Equal(t, "connecting to [REDACTED] as [REDACTED]", out)
}

func TestRedactCaseInsensitive(t *testing.T) {
	out := Redact("host DB-Primary.Internal unreachable", []string{"db-primary.internal"})
	assert.Equal(t, "host [REDACTED] unreachable", out)
}

func TestRedactCredentialAssignments(t *testing.T) {
	cases := map[string]string{
		"password=hunter2":           "password=[REDACTED]",
		"PASSWORD: hunter2":          "PASSWORD=[REDACTED]",
		"api_key=sk-abc123":          "api_key=[REDACTED]",
		"api-key: sk-abc123":         "api-key=[REDACTED]",
		"token = eyJhbGciOi":         "token=[REDACTED]",
		"secret=shh please":          "secret=[REDACTED] please",
		"credential: aws-role":       "credential=[REDACTED]",
		"passwordless login enabled": "passwordless login enabled",
	}
	for in, want := range cases {
		assert.Equal(t, want, Redact(in, nil), in)
	}
}

func TestRedactLiteralBeforeCredentialPass(t *testing.T) {
	out := Redact("token=abc for acme-prod", []string{"acme-prod"})
	assert.Equal(t, "token=[REDACTED] for [REDACTED]", out)
}

func TestRedactMap(t *testing.T) {
	out := RedactMap(map[string]any{
		"count": 5,
		"note":  "password=hunter2 on web-1",
	}, []string{"web-1"})
	assert.Equal(t, "5", out["count"])
	assert.Equal(t, "password=[REDACTED] on [REDACTED]", out["note"])
}
