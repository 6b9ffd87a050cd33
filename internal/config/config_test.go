package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ActionTierMax)
	assert.Equal(t, "smtp", cfg.Notifications.Provider)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
action_tier_max: 0
scan_level: deep
detector:
  auth_failure_threshold: 10
notifications:
  admin_emails: ["ops@example.com"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.ActionTierMax)
	assert.Equal(t, "deep", cfg.ScanLevel)
	assert.Equal(t, 10, cfg.Detector.AuthFailureThreshold)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Notifications.AdminEmails)
	// Untouched keys keep their defaults.
	assert.Equal(t, 300, cfg.Detector.AuthFailureWindowSec)
	assert.Equal(t, "/var/lib/opensecagent", cfg.Agent.DataDir)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test-123")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: ${TEST_LLM_KEY}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
}

func TestEffectiveIntervalsPreset(t *testing.T) {
	cfg := Default()
	cfg.ScanLevel = "quick"
	got := cfg.EffectiveIntervals()
	assert.Equal(t, 600, got.HostSec)
	assert.Equal(t, 120, got.DockerSec)
	assert.Equal(t, 600, got.DriftSec)
	assert.Equal(t, 120, got.DetectorSec)
	assert.Equal(t, 7200, got.LLMScanSec)
}

func TestEffectiveIntervalsRawConfig(t *testing.T) {
	cfg := Default()
	cfg.ScanLevel = ""
	cfg.Collector.HostIntervalSec = 42
	cfg.LLMAgent.RunIntervalSec = 99
	got := cfg.EffectiveIntervals()
	assert.Equal(t, 42, got.HostSec)
	assert.Equal(t, 99, got.LLMScanSec)
}

func TestValidateProblems(t *testing.T) {
	cfg := Default()
	cfg.ActionTierMax = 7
	cfg.ScanLevel = "turbo"
	cfg.LLM.Enabled = true
	cfg.MaintenanceWindows = []MaintenanceWindow{{Start: "not-a-time", End: "also-not"}}

	problems := cfg.Validate()
	require.Len(t, problems, 4)
	assert.Contains(t, problems[0], "action_tier_max")
}

func TestMaintenanceWindowParse(t *testing.T) {
	w := MaintenanceWindow{Start: "2026-08-25T10:00:00Z", End: "2026-08-25T12:00:00Z"}
	start, end, err := w.Parse()
	require.NoError(t, err)
	assert.True(t, end.After(start))

	_, _, err = MaintenanceWindow{Start: "bogus", End: "2026-08-25T12:00:00Z"}.Parse()
	assert.Error(t, err)
}

func TestEnabledHelper(t *testing.T) {
	assert.True(t, Enabled(nil))
	assert.True(t, Enabled(boolPtr(true)))
	assert.False(t, Enabled(boolPtr(false)))
}
