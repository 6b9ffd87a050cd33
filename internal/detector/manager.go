package detector

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/audit"
	"github.com/DulanDias/opensecagent/internal/collector"
	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

// probe is a self-contained detector run once per detector cycle.
type probe interface {
	Check(ctx context.Context) []models.Event
}

// Manager owns the probe detectors, the diff snapshots, and event
// classification. It is driven from a single goroutine; the snapshots
// need no locking.
type Manager struct {
	probes   []namedProbe
	activity *audit.Activity

	lastPorts      map[string]struct{}
	lastSudoUsers  map[string]struct{}
	lastContainers map[string]struct{}
}

type namedProbe struct {
	name string
	p    probe
}

// NewManager wires up the enabled detectors.
func NewManager(cfg config.DetectorConfig, activity *audit.Activity) *Manager {
	m := &Manager{activity: activity}
	if config.Enabled(cfg.AuthFailureEnabled) {
		m.probes = append(m.probes, namedProbe{"auth", NewAuthFailures(cfg)})
	}
	if config.Enabled(cfg.ResourceDetectorEnabled) {
		m.probes = append(m.probes, namedProbe{"resources", NewResources(cfg)})
	}
	if config.Enabled(cfg.NetworkDetectorEnabled) {
		m.probes = append(m.probes, namedProbe{"network", NewNetwork(cfg)})
	}
	if config.Enabled(cfg.NginxAuditEnabled) {
		m.probes = append(m.probes, namedProbe{"nginx", NewNginx(cfg)})
	}
	if config.Enabled(cfg.FirewallAuditEnabled) {
		m.probes = append(m.probes, namedProbe{"firewall", NewFirewall(cfg)})
	}
	if config.Enabled(cfg.NpmAuditEnabled) {
		m.probes = append(m.probes, namedProbe{"npm_audit", NewNpmAudit(cfg)})
	}
	if config.Enabled(cfg.PhpScanEnabled) {
		m.probes = append(m.probes, namedProbe{"php_scan", NewPhpScan(cfg)})
	}
	return m
}

// RunDetectors runs every probe in sequence. A probe that panics is
// logged and skipped; the cycle continues.
func (m *Manager) RunDetectors(ctx context.Context) []models.Event {
	var all []models.Event
	for _, np := range m.probes {
		if ctx.Err() != nil {
			break
		}
		events := m.runProbe(ctx, np)
		all = append(all, events...)
	}
	return all
}

func (m *Manager) runProbe(ctx context.Context, np namedProbe) (events []models.Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("detector", np.name).Any("panic", r).Msg("Detector panicked")
			events = nil
		}
		types := make([]string, 0, len(events))
		for _, ev := range events {
			types = append(types, ev.Type)
		}
		m.activity.LogDetectorRun(np.name, len(events), types, time.Since(start))
	}()
	return np.p.Check(ctx)
}

// IngestHostInventory diffs the latest host inventory against the prior
// snapshot and returns the resulting events. The first inventory seeds
// the snapshots and yields nothing.
func (m *Manager) IngestHostInventory(inv collector.HostInventory) []models.Event {
	var events []models.Event
	events = append(events, DiffNewPorts(inv, m.lastPorts)...)
	events = append(events, DiffNewAdminUsers(inv, m.lastSudoUsers)...)
	m.lastPorts = inv.PortSet()
	m.lastSudoUsers = inv.SudoSet()
	return events
}

// IngestDockerInventory diffs the latest docker inventory against the
// prior container set. An unavailable daemon leaves the snapshot intact
// so a docker restart does not flood new_container events.
func (m *Manager) IngestDockerInventory(inv collector.DockerInventory) []models.Event {
	if !inv.Available {
		return nil
	}
	events := DiffNewContainers(inv, m.lastContainers)
	m.lastContainers = inv.ContainerSet()
	return events
}

// recommendedActions maps event types to the operator guidance attached
// to incidents.
var recommendedActions = map[string]string{
	models.EventConfigDrift:      "Review changed file and confirm change is authorized.",
	models.EventAuthFailures:     "Consider blocking source IP or locking account after review.",
	models.EventNewAdminUser:     "Verify new admin is authorized; remove if not.",
	models.EventNewListeningPort: "Confirm new service is expected; stop or firewall if not.",
	models.EventNewContainer:     "Confirm new container is expected; stop if not.",
	models.EventHighCPU:          "Identify top processes (e.g. top/htop); consider scaling or limiting load.",
	models.EventHighMemory:       "Check memory usage per process; consider freeing cache or adding capacity.",
}

const defaultRecommendation = "Review evidence and take action as per runbook."

// Classify promotes an event to an incident. Inventory snapshots are the
// only events that stay out of the incident stream.
func (m *Manager) Classify(ev models.Event) *models.Incident {
	if ev.Type == models.EventHostInventory || ev.Type == models.EventDockerInventory {
		return nil
	}
	rec, ok := recommendedActions[ev.Type]
	if !ok {
		rec = defaultRecommendation
	}
	title := ev.Summary
	if len(title) > 200 {
		title = title[:200]
	}
	return &models.Incident{
		ID:                 models.NewID("inc"),
		Severity:           models.SeverityFromString(string(ev.Severity)),
		Title:              title,
		Narrative:          ev.Summary,
		Events:             []models.Event{ev},
		EvidenceSummary:    ev.Raw,
		RecommendedActions: []string{rec},
		ActionsTaken:       []string{},
		CreatedAt:          time.Now().UTC(),
	}
}
