package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/models"
)

// BaselineFileName is the drift baseline file under the data directory.
const BaselineFileName = "drift_baseline.json"

// Drift hashes critical files and diffs them against a persisted baseline.
// The baseline is built on first run and never rewritten afterwards;
// rebaselining requires deleting the file.
type Drift struct {
	baselinePath string
	critical     []string
	baseline     map[string]string
}

// NewDrift returns a drift monitor for the given critical paths. Entries
// may be plain files, directories, or glob patterns containing "*".
func NewDrift(dataDir string, criticalFiles []string) *Drift {
	return &Drift{
		baselinePath: filepath.Join(dataDir, BaselineFileName),
		critical:     criticalFiles,
	}
}

// Check computes current hashes and diffs them against the baseline.
// The first run (no baseline in memory or on disk) builds and persists
// the baseline and returns no events.
func (d *Drift) Check(ctx context.Context) ([]models.Event, error) {
	if len(d.baseline) == 0 {
		if data, err := os.ReadFile(d.baselinePath); err == nil {
			baseline := make(map[string]string)
			if err := json.Unmarshal(data, &baseline); err != nil {
				return nil, fmt.Errorf("parse baseline %s: %w", d.baselinePath, err)
			}
			d.baseline = baseline
		}
	}
	if len(d.baseline) == 0 {
		baseline := d.computeHashes(ctx)
		if err := d.persistBaseline(baseline); err != nil {
			return nil, err
		}
		d.baseline = baseline
		log.Info().Int("paths", len(baseline)).Msg("Drift baseline created")
		return nil, nil
	}

	current := d.computeHashes(ctx)
	var events []models.Event
	for path, newHash := range current {
		oldHash, known := d.baseline[path]
		switch {
		case !known:
			events = append(events, driftEvent(models.EventConfigNewFile, models.SeverityP3,
				fmt.Sprintf("New critical file: %s", path),
				map[string]any{"path": path, "hash": newHash}))
		case oldHash != newHash:
			events = append(events, driftEvent(models.EventConfigDrift, models.SeverityP2,
				fmt.Sprintf("Critical file changed: %s", path),
				map[string]any{"path": path, "old_hash": oldHash, "new_hash": newHash}))
		}
	}
	for path := range d.baseline {
		if _, ok := current[path]; !ok {
			events = append(events, driftEvent(models.EventConfigDeleted, models.SeverityP2,
				fmt.Sprintf("Critical file removed: %s", path),
				map[string]any{"path": path}))
		}
	}
	return events, nil
}

func driftEvent(eventType string, severity models.Severity, summary string, raw map[string]any) models.Event {
	return models.Event{
		ID:         models.NewID("drift"),
		Source:     "drift",
		Type:       eventType,
		Severity:   severity,
		Summary:    summary,
		Raw:        raw,
		TS:         nowUTC(),
		AssetIDs:   []string{"host"},
		Confidence: 1.0,
	}
}

// computeHashes hashes every resolvable file for the critical entries.
// Unreadable files are silently skipped: permission errors are not events.
func (d *Drift) computeHashes(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for _, entry := range d.critical {
		if ctx.Err() != nil {
			break
		}
		if strings.Contains(entry, "*") {
			for _, match := range expandGlob(entry) {
				hashInto(out, match)
			}
			continue
		}
		info, err := os.Stat(entry)
		if err != nil {
			continue
		}
		if info.IsDir() {
			children, err := os.ReadDir(entry)
			if err != nil {
				continue
			}
			for _, child := range children {
				if child.Type().IsRegular() {
					hashInto(out, filepath.Join(entry, child.Name()))
				}
			}
			continue
		}
		hashInto(out, entry)
	}
	return out
}

// expandGlob splits an entry on its first "*": the prefix is the search
// root, the remainder the pattern matched inside it.
func expandGlob(entry string) []string {
	idx := strings.Index(entry, "*")
	root := strings.TrimSuffix(entry[:idx], "/")
	pattern := strings.TrimPrefix(entry[idx:], "/")
	if pattern == "" {
		pattern = "*"
	}
	if _, err := os.Stat(root); err != nil {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return nil
	}
	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	return files
}

func hashInto(out map[string]string, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	sum := sha256.Sum256(data)
	out[path] = hex.EncodeToString(sum[:])
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (d *Drift) persistBaseline(baseline map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(d.baselinePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	tmp := d.baselinePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return os.Rename(tmp, d.baselinePath)
}
