// Package threats persists threat records so later agent runs can learn
// from earlier resolutions.
package threats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/models"
)

// Record is one stored threat, resolved or not.
type Record struct {
	ThreatID          string         `json:"threat_id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Severity          string         `json:"severity"`
	Evidence          map[string]any `json:"evidence"`
	ResolutionActions []string       `json:"resolution_actions"`
	DetectedAt        string         `json:"detected_at"`
	ResolvedAt        *string        `json:"resolved_at"`
}

// Registry stores threat records as one JSON file each under
// <data_dir>/threats.
type Registry struct {
	dir string
}

// New returns a registry rooted at dataDir.
func New(dataDir string) *Registry {
	return &Registry{dir: filepath.Join(dataDir, "threats")}
}

// Store writes a new threat record and returns its id. Records with
// resolution actions are stored already resolved.
func (r *Registry) Store(title, description string, severity models.Severity, evidence map[string]any, resolutionActions []string) (string, error) {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return "", fmt.Errorf("create threats dir: %w", err)
	}
	threatID := models.NewID("thr")
	now := time.Now().UTC().Format(time.RFC3339)
	rec := Record{
		ThreatID:          threatID,
		Title:             title,
		Description:       description,
		Severity:          string(severity),
		Evidence:          evidence,
		ResolutionActions: resolutionActions,
		DetectedAt:        now,
	}
	if rec.ResolutionActions == nil {
		rec.ResolutionActions = []string{}
	} else if len(rec.ResolutionActions) > 0 {
		rec.ResolvedAt = &now
	}
	if err := r.writeRecord(&rec); err != nil {
		return "", err
	}
	return threatID, nil
}

// MarkResolved attaches resolution actions to an existing record. A
// missing record is a no-op.
func (r *Registry) MarkResolved(threatID string, actionsTaken []string) error {
	path := r.recordPath(threatID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read threat %s: %w", threatID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("parse threat %s: %w", threatID, err)
	}
	rec.ResolutionActions = actionsTaken
	now := time.Now().UTC().Format(time.RFC3339)
	rec.ResolvedAt = &now
	return r.writeRecord(&rec)
}

// LoadRecent returns up to limit records, newest first by file mtime.
// Corrupt files are skipped.
func (r *Registry) LoadRecent(limit int) []Record {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	type fileWithTime struct {
		path  string
		mtime time.Time
	}
	var files []fileWithTime
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileWithTime{filepath.Join(r.dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })

	var records []Record
	for _, f := range files {
		if len(records) >= limit {
			break
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Debug().Err(err).Str("path", f.path).Msg("Skipping corrupt threat record")
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ContextForPrompt formats recent records for the agent system prompt.
func (r *Registry) ContextForPrompt(limit int) string {
	records := r.LoadRecent(limit)
	if len(records) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Previous threats and resolutions (use for similar cases):\n\n")
	for _, rec := range records {
		fmt.Fprintf(&sb, "- [%s] %s\n", rec.Severity, rec.Title)
		fmt.Fprintf(&sb, "  Description: %s\n", clipString(rec.Description, 300))
		if len(rec.ResolutionActions) > 0 {
			actions := rec.ResolutionActions
			if len(actions) > 5 {
				actions = actions[:5]
			}
			fmt.Fprintf(&sb, "  Resolved by: %s\n", strings.Join(actions, "; "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *Registry) recordPath(threatID string) string {
	return filepath.Join(r.dir, threatID+".json")
}

// writeRecord writes via a temp file and rename so readers never see a
// partial record.
func (r *Registry) writeRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal threat %s: %w", rec.ThreatID, err)
	}
	path := r.recordPath(rec.ThreatID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write threat %s: %w", rec.ThreatID, err)
	}
	return os.Rename(tmp, path)
}

func clipString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
