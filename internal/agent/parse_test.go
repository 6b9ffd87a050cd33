package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyStrictJSON(t *testing.T) {
	raw := `{"commands": [{"cmd": "ss -tlnp", "reason": "check listeners"}], "done": false}`
	reply := ParseReply(raw)
	require.Len(t, reply.Commands, 1)
	assert.Equal(t, "ss -tlnp", reply.Commands[0].Cmd)
	assert.Equal(t, "check listeners", reply.Commands[0].Reason)
	assert.False(t, reply.Done)
	assert.Nil(t, reply.Finding)
}

func TestParseReplyJSONEmbeddedInProse(t *testing.T) {
	raw := "Let me check the open ports first.\n" +
		`{"commands": [{"cmd": "docker ps", "reason": "list containers"}], "done": false}` +
		"\nI will report back."
	reply := ParseReply(raw)
	require.Len(t, reply.Commands, 1)
	assert.Equal(t, "docker ps", reply.Commands[0].Cmd)
}

func TestParseReplyDone(t *testing.T) {
	reply := ParseReply(`{"commands": [], "done": true}`)
	assert.Empty(t, reply.Commands)
	assert.True(t, reply.Done)
}

func TestParseReplyFindingRequiresVulnerabilityFlag(t *testing.T) {
	withFlag := `{"commands": [], "done": true, "vulnerability_found": true,
		"finding": {"title": "Outdated OpenSSL", "description": "CVE fixed upstream", "severity": "P2"}}`
	reply := ParseReply(withFlag)
	require.NotNil(t, reply.Finding)
	assert.Equal(t, "Outdated OpenSSL", reply.Finding.Title)
	assert.Equal(t, "P2", reply.Finding.Severity)

	withoutFlag := `{"commands": [], "done": true,
		"finding": {"title": "Outdated OpenSSL", "description": "x", "severity": "P2"}}`
	assert.Nil(t, ParseReply(withoutFlag).Finding)
}

func TestParseReplyMarkdownFallback(t *testing.T) {
	raw := "Run these:\n```bash\nss -tlnp\n# inspect the miner\ndocker inspect ccc333ddd444\n```\n"
	reply := ParseReply(raw)
	require.Len(t, reply.Commands, 2)
	assert.Equal(t, "ss -tlnp", reply.Commands[0].Cmd)
	assert.Equal(t, "from markdown", reply.Commands[0].Reason)
	assert.Equal(t, "docker inspect ccc333ddd444", reply.Commands[1].Cmd)
}

func TestParseReplyPlainFence(t *testing.T) {
	reply := ParseReply("```\nwhoami\n```")
	require.Len(t, reply.Commands, 1)
	assert.Equal(t, "whoami", reply.Commands[0].Cmd)
}

func TestParseReplyGarbage(t *testing.T) {
	reply := ParseReply("I cannot help with that.")
	assert.Empty(t, reply.Commands)
	assert.False(t, reply.Done)
	assert.Nil(t, reply.Finding)
}

func TestParseReplyMalformedJSONFallsBackToFences(t *testing.T) {
	raw := "{not json at all}\n```bash\ndocker ps\n```"
	reply := ParseReply(raw)
	require.Len(t, reply.Commands, 1)
	assert.Equal(t, "docker ps", reply.Commands[0].Cmd)
}
