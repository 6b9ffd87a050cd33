// Package reporter delivers incident notifications: immediate alerts for
// high severities and a daily digest for everything else.
package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

// digestEntry is one incident queued for the daily digest.
type digestEntry struct {
	Severity string
	Title    string
}

// Manager queues incidents for the digest and sends immediate alerts.
type Manager struct {
	cfg    config.NotificationsConfig
	sender *EmailSender

	mu      sync.Mutex
	pending []digestEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a reporter manager.
func NewManager(cfg config.NotificationsConfig) *Manager {
	return &Manager{
		cfg:    cfg,
		sender: NewEmailSender(cfg),
	}
}

// Start launches the digest loop when the digest is enabled.
func (m *Manager) Start(ctx context.Context) {
	if !m.cfg.Digest.Enabled {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.runDigestLoop(loopCtx)
}

// Stop terminates the digest loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// ReportIncident queues the incident for the digest and sends an
// immediate alert when its severity is configured as immediate.
func (m *Manager) ReportIncident(inc *models.Incident, allowedActions []models.ActionSpec) {
	m.mu.Lock()
	m.pending = append(m.pending, digestEntry{Severity: string(inc.Severity), Title: inc.Title})
	m.mu.Unlock()

	for _, sev := range m.cfg.ImmediateSeverities {
		if sev == string(inc.Severity) {
			m.sender.IncidentAlert(inc, allowedActions)
			return
		}
	}
}

// SendVulnerabilityAlert notifies admins of a scan finding with the PDF
// report attached.
func (m *Manager) SendVulnerabilityAlert(title, description, severity, threatID string, pdf []byte) {
	m.sender.VulnerabilityAlert(title, description, severity, threatID, pdf)
}

// SendResolutionNotification notifies admins that a threat was resolved.
func (m *Manager) SendResolutionNotification(threatID, title, description string, actionsTaken []string) {
	m.sender.ResolutionNotification(threatID, title, description, actionsTaken)
}

// runDigestLoop wakes each minute and flushes the pending incidents once
// the configured UTC send time passes, then sleeps past the window so a
// digest goes out at most once per day.
func (m *Manager) runDigestLoop(ctx context.Context) {
	defer close(m.done)
	for {
		if !sleepCtx(ctx, time.Minute) {
			return
		}
		now := time.Now().UTC()
		if now.Hour() != m.cfg.Digest.HourUTC || now.Minute() < m.cfg.Digest.Minute {
			continue
		}
		m.flushDigest()
		if !sleepCtx(ctx, time.Hour) {
			return
		}
	}
}

func (m *Manager) flushDigest() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	log.Info().Int("incidents", len(pending)).Msg("Sending daily digest")
	m.sender.DailyDigest(pending)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
