package reporting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesPDF(t *testing.T) {
	g := NewPDFGenerator()
	data, err := g.Generate(Finding{
		Title:       "Exposed port 4444",
		Description: "An unknown service is listening on all interfaces.",
		Severity:    "P2",
		Evidence: map[string]any{
			"port":    "4444",
			"address": "0.0.0.0:4444",
		},
	}, "thr-aaa111bbb222", &HostContext{Hostname: "web-1", OS: "linux", OSRelease: "6.8.0"})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
	assert.Greater(t, len(data), 1000)
}

func TestGenerateEmptyFinding(t *testing.T) {
	data, err := NewPDFGenerator().Generate(Finding{}, "thr-1", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}

func TestGenerateLargeEvidence(t *testing.T) {
	evidence := make(map[string]any)
	for i := 0; i < 40; i++ {
		evidence[strings.Repeat("k", i+1)] = strings.Repeat("v", 500)
	}
	data, err := NewPDFGenerator().Generate(Finding{
		Title:    "Many evidence entries",
		Severity: "P1",
		Evidence: evidence,
	}, "thr-2", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
