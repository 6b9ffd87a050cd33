// Package audit provides the append-only JSON-line audit and activity
// sinks. Both are single-writer behind a mutex; each record is serialized
// and flushed before the write call returns.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/models"
)

// Audit records incidents and containment actions.
type Audit struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewAudit returns an audit sink writing to path.
func NewAudit(path string) *Audit {
	return &Audit{path: path}
}

// Start opens the audit file for appending, creating parent directories.
func (a *Audit) Start() error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.file = f
	a.mu.Unlock()
	return nil
}

// Stop closes the file. Writes after Stop are dropped with a warning.
func (a *Audit) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
}

// LogIncident appends an incident record.
func (a *Audit) LogIncident(inc *models.Incident) {
	a.write(map[string]any{
		"type":    "incident",
		"payload": incidentPayload(inc),
	})
}

// LogAction appends an action record tied to an incident.
func (a *Audit) LogAction(action string, details map[string]any, incidentID string) {
	a.write(map[string]any{
		"type":        "action",
		"action":      action,
		"incident_id": incidentID,
		"details":     details,
	})
}

func (a *Audit) write(record map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		log.Warn().Msg("Audit write after stop, record dropped")
		return
	}
	record["ts"] = time.Now().UTC().Format(time.RFC3339)
	line, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Msg("Audit record marshal failed")
		return
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Str("path", a.path).Msg("Audit write failed")
		return
	}
	_ = a.file.Sync()
}

func incidentPayload(inc *models.Incident) map[string]any {
	events := make([]map[string]any, 0, len(inc.Events))
	for _, e := range inc.Events {
		events = append(events, map[string]any{
			"event_id":   e.ID,
			"source":     e.Source,
			"event_type": e.Type,
			"summary":    e.Summary,
		})
	}
	return map[string]any{
		"incident_id":         inc.ID,
		"severity":            inc.Severity,
		"title":               inc.Title,
		"narrative":           inc.Narrative,
		"created_at":          inc.CreatedAt.UTC().Format(time.RFC3339),
		"events":              events,
		"evidence_summary":    inc.EvidenceSummary,
		"recommended_actions": inc.RecommendedActions,
		"actions_taken":       inc.ActionsTaken,
		"llm_summary":         inc.LLMSummary,
	}
}
