// Package models defines the core records that flow through the
// detection-and-response pipeline: events, incidents, and policy actions.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the ordered incident/event severity scale. P1 is critical.
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

var severityRank = map[Severity]int{
	SeverityP1: 4,
	SeverityP2: 3,
	SeverityP3: 2,
	SeverityP4: 1,
}

// Rank returns the ordering weight of the severity; higher is more severe.
// Unknown values rank below P4.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is one of the four defined levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// SeverityFromString parses a severity, defaulting to P4 for unknown input.
func SeverityFromString(v string) Severity {
	s := Severity(v)
	if !s.Valid() {
		return SeverityP4
	}
	return s
}

// ActionTier is the maximum invasiveness of containment actions.
type ActionTier int

const (
	TierAlertOnly         ActionTier = 0
	TierSoftContainment   ActionTier = 1
	TierStrongContainment ActionTier = 2
	TierEmergency         ActionTier = 3
)

// Event type tokens produced by collectors and detectors.
const (
	EventConfigDrift        = "config_drift"
	EventConfigNewFile      = "config_new_file"
	EventConfigDeleted      = "config_deleted"
	EventAuthFailures       = "auth_failures"
	EventNewListeningPort   = "new_listening_port"
	EventNewAdminUser       = "new_admin_user"
	EventNewContainer       = "new_container"
	EventHighCPU            = "high_cpu"
	EventHighMemory         = "high_memory"
	EventHighNetworkUsage   = "high_network_usage"
	EventNginxConfigInvalid = "nginx_config_invalid"
	EventNginxSecurity      = "nginx_security"
	EventFirewallInactive   = "firewall_inactive"
	EventFirewallAudit      = "firewall_audit"
	EventNpmAudit           = "npm_audit_vulnerabilities"
	EventPhpMalware         = "php_malware_suspected"
	EventHostInventory      = "host_inventory"
	EventDockerInventory    = "docker_inventory"
)

// Event is a single observation from a collector or detector. Events are
// immutable once enqueued.
type Event struct {
	ID         string         `json:"event_id"`
	Source     string         `json:"source"`
	Type       string         `json:"event_type"`
	Severity   Severity       `json:"severity"`
	Summary    string         `json:"summary"`
	Raw        map[string]any `json:"raw"`
	TS         time.Time      `json:"ts"`
	AssetIDs   []string       `json:"asset_ids"`
	Confidence float64        `json:"confidence"`
}

// Incident is a classified event with recommendations and a running list
// of actions taken by the responder and the LLM agent.
type Incident struct {
	ID                 string         `json:"incident_id"`
	Severity           Severity       `json:"severity"`
	Title              string         `json:"title"`
	Narrative          string         `json:"narrative"`
	Events             []Event        `json:"events"`
	EvidenceSummary    map[string]any `json:"evidence_summary"`
	RecommendedActions []string       `json:"recommended_actions"`
	ActionsTaken       []string       `json:"actions_taken"`
	CreatedAt          time.Time      `json:"created_at"`
	ContainedAt        *time.Time     `json:"contained_at,omitempty"`
	LLMSummary         string         `json:"llm_summary,omitempty"`
}

// Matches reports whether any event in the incident has the given type.
func (i *Incident) Matches(eventType string) bool {
	for _, e := range i.Events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

// ActionSpec is a containment action permitted by policy.
type ActionSpec struct {
	Action         string `json:"action"`
	Reason         string `json:"reason,omitempty"`
	Tier           int    `json:"tier,omitempty"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
}

// Policy action names.
const (
	ActionAlertOnly        = "alert_only"
	ActionStopContainer    = "stop_container"
	ActionBlockIPTemporary = "block_ip_temporary"
)

// NewID returns an id of the form "<prefix>-<12 hex chars>".
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "-" + hex[:12]
}
