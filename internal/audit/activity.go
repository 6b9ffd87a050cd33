package audit

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Activity records every agent activity: collector runs, detector runs,
// policy decisions, command executions, LLM calls, and agent iterations.
type Activity struct {
	path    string
	enabled bool

	mu   sync.Mutex
	file *os.File
}

// NewActivity returns an activity sink writing to path. A disabled sink
// accepts all calls and writes nothing.
func NewActivity(path string, enabled bool) *Activity {
	return &Activity{path: path, enabled: enabled}
}

// Start opens the activity file for appending.
func (a *Activity) Start() error {
	if !a.enabled {
		return nil
	}
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

// Stop closes the file.
func (a *Activity) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
}

// LogCollectorRun records one collector or drift cycle.
func (a *Activity) LogCollectorRun(collector, startedAt string, duration time.Duration, summary, errMsg string) {
	rec := map[string]any{
		"type":         "collector_run",
		"collector":    collector,
		"started_at":   startedAt,
		"duration_sec": roundSec(duration),
		"summary":      summary,
	}
	if errMsg != "" {
		rec["error"] = errMsg
	}
	a.write(rec)
}

// LogDetectorRun records one detector cycle.
func (a *Activity) LogDetectorRun(detector string, eventsFound int, eventTypes []string, duration time.Duration) {
	a.write(map[string]any{
		"type":         "detector_run",
		"detector":     detector,
		"events_found": eventsFound,
		"event_types":  eventTypes,
		"duration_sec": roundSec(duration),
	})
}

// LogPolicyDecision records the actions policy permitted for an incident.
func (a *Activity) LogPolicyDecision(incidentID, severity string, allowedActions []string, reason string) {
	a.write(map[string]any{
		"type":            "policy_decision",
		"incident_id":     incidentID,
		"severity":        severity,
		"allowed_actions": allowedActions,
		"reason":          reason,
	})
}

// LogCommandExecution records a command run by the responder or agent.
func (a *Activity) LogCommandExecution(command string, exitCode int, stdout, stderr string, duration time.Duration, source string) {
	a.write(map[string]any{
		"type":           "command_execution",
		"command":        command,
		"exit_code":      exitCode,
		"stdout_preview": truncate(stdout, 2000),
		"stderr_preview": truncate(stderr, 500),
		"duration_sec":   roundSec(duration),
		"source":         source,
	})
}

// LogLLMCall records one model request.
func (a *Activity) LogLLMCall(purpose string, promptTokens, completionTokens int, duration time.Duration, success bool, errMsg string) {
	rec := map[string]any{
		"type":         "llm_call",
		"purpose":      purpose,
		"duration_sec": roundSec(duration),
		"success":      success,
	}
	if promptTokens > 0 {
		rec["prompt_tokens"] = promptTokens
	}
	if completionTokens > 0 {
		rec["completion_tokens"] = completionTokens
	}
	if errMsg != "" {
		rec["error"] = errMsg
	}
	a.write(rec)
}

// LogAgentIteration records one turn of the bounded agent loop.
func (a *Activity) LogAgentIteration(iteration, suggested, executed int, done bool, summary string) {
	a.write(map[string]any{
		"type":               "agent_iteration",
		"iteration":          iteration,
		"commands_suggested": suggested,
		"commands_executed":  executed,
		"done":               done,
		"summary":            truncate(summary, 500),
	})
}

func (a *Activity) write(record map[string]any) {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	record["ts"] = time.Now().UTC().Format(time.RFC3339)
	line, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Msg("Activity record marshal failed")
		return
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Str("path", a.path).Msg("Activity write failed")
		return
	}
	_ = a.file.Sync()
}

func roundSec(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
