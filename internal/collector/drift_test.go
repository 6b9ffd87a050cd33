package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DulanDias/opensecagent/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDriftFirstRunBuildsBaselineSilently(t *testing.T) {
	dataDir := t.TempDir()
	watched := filepath.Join(t.TempDir(), "sshd_config")
	writeFile(t, watched, "PermitRootLogin no\n")

	d := NewDrift(dataDir, []string{watched})
	events, err := d.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)

	data, err := os.ReadFile(filepath.Join(dataDir, BaselineFileName))
	require.NoError(t, err)
	baseline := map[string]string{}
	require.NoError(t, json.Unmarshal(data, &baseline))
	assert.Contains(t, baseline, watched)
	assert.Len(t, baseline[watched], 64)
}

func TestDriftDetectsChangeNewAndDeleted(t *testing.T) {
	dataDir := t.TempDir()
	watchDir := t.TempDir()
	changed := filepath.Join(watchDir, "passwd")
	deleted := filepath.Join(watchDir, "crontab")
	writeFile(t, changed, "root:x:0:0\n")
	writeFile(t, deleted, "old job\n")

	d := NewDrift(dataDir, []string{watchDir})
	_, err := d.Check(context.Background())
	require.NoError(t, err)

	writeFile(t, changed, "root:x:0:0\nmallory:x:0:0\n")
	require.NoError(t, os.Remove(deleted))
	added := filepath.Join(watchDir, "backdoor.conf")
	writeFile(t, added, "listen 4444\n")

	events, err := d.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)

	byType := map[string]models.Event{}
	for _, ev := range events {
		byType[ev.Type] = ev
	}
	require.Contains(t, byType, models.EventConfigDrift)
	assert.Equal(t, models.SeverityP2, byType[models.EventConfigDrift].Severity)
	assert.Equal(t, changed, byType[models.EventConfigDrift].Raw["path"])
	assert.NotEqual(t,
		byType[models.EventConfigDrift].Raw["old_hash"],
		byType[models.EventConfigDrift].Raw["new_hash"])

	require.Contains(t, byType, models.EventConfigNewFile)
	assert.Equal(t, models.SeverityP3, byType[models.EventConfigNewFile].Severity)

	require.Contains(t, byType, models.EventConfigDeleted)
	assert.Equal(t, models.SeverityP2, byType[models.EventConfigDeleted].Severity)
}

func TestDriftBaselineNotRewrittenOnChange(t *testing.T) {
	dataDir := t.TempDir()
	watched := filepath.Join(t.TempDir(), "hosts")
	writeFile(t, watched, "127.0.0.1 localhost\n")

	d := NewDrift(dataDir, []string{watched})
	_, err := d.Check(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dataDir, BaselineFileName))
	require.NoError(t, err)

	writeFile(t, watched, "127.0.0.1 localhost\n10.0.0.1 evil\n")
	events, err := d.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Same change reported again next cycle: the baseline is immutable.
	events, err = d.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	after, err := os.ReadFile(filepath.Join(dataDir, BaselineFileName))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDriftLoadsPersistedBaseline(t *testing.T) {
	dataDir := t.TempDir()
	watched := filepath.Join(t.TempDir(), "sudoers")
	writeFile(t, watched, "%sudo ALL=(ALL) ALL\n")

	first := NewDrift(dataDir, []string{watched})
	_, err := first.Check(context.Background())
	require.NoError(t, err)

	writeFile(t, watched, "%sudo ALL=(ALL) NOPASSWD: ALL\n")

	// Fresh instance, same data dir: baseline comes from disk.
	second := NewDrift(dataDir, []string{watched})
	events, err := second.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventConfigDrift, events[0].Type)
}

func TestDriftGlobEntries(t *testing.T) {
	dataDir := t.TempDir()
	watchDir := t.TempDir()
	writeFile(t, filepath.Join(watchDir, "a.conf"), "a\n")
	writeFile(t, filepath.Join(watchDir, "b.conf"), "b\n")
	writeFile(t, filepath.Join(watchDir, "ignore.txt"), "x\n")

	d := NewDrift(dataDir, []string{filepath.Join(watchDir, "*.conf")})
	hashes := d.computeHashes(context.Background())
	assert.Len(t, hashes, 2)
	assert.Contains(t, hashes, filepath.Join(watchDir, "a.conf"))
	assert.NotContains(t, hashes, filepath.Join(watchDir, "ignore.txt"))
}

func TestDriftUnreadableEntriesSkipped(t *testing.T) {
	d := NewDrift(t.TempDir(), []string{"/nonexistent/path/file.conf"})
	events, err := d.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}
