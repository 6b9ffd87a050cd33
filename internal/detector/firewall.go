package detector

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const firewallProbeTimeout = 5 * time.Second

// Firewall audits the host firewall state via ufw, falling back to an
// iptables sanity check where ufw is not installed.
type Firewall struct {
	requireActive bool
}

// NewFirewall returns a firewall audit detector.
func NewFirewall(cfg config.DetectorConfig) *Firewall {
	return &Firewall{requireActive: config.Enabled(cfg.FirewallRequireActive)}
}

// Check emits firewall_inactive when ufw reports inactive, and an
// advisory firewall_audit when ufw is absent and the iptables ruleset
// looks empty. Nothing is emitted unless an active firewall is required.
func (d *Firewall) Check(ctx context.Context) []models.Event {
	if !d.requireActive {
		return nil
	}

	out, err := runProbe(ctx, firewallProbeTimeout, "ufw", "status")
	if err == nil && strings.TrimSpace(out) != "" {
		return d.checkUfw(out)
	}
	log.Debug().Err(err).Msg("ufw status unavailable, falling back to iptables")

	out, err = runProbe(ctx, firewallProbeTimeout, "iptables", "-L", "-n")
	return d.checkIptables(out, err)
}

// checkUfw reads the status from the first output line.
func (d *Firewall) checkUfw(out string) []models.Event {
	firstLine := strings.ToLower(strings.Split(strings.TrimSpace(out), "\n")[0])
	if strings.Contains(firstLine, "active") && !strings.Contains(firstLine, "inactive") {
		return nil
	}
	return []models.Event{firewallEvent(models.EventFirewallInactive, models.SeverityP2,
		"UFW firewall is inactive; consider enabling (ufw enable)",
		map[string]any{"ufw_active": false}, 1.0)}
}

// checkIptables emits an advisory when the command failed or its output
// carries no chain headers at all.
func (d *Firewall) checkIptables(out string, err error) []models.Event {
	if errors.Is(err, exec.ErrNotFound) {
		return []models.Event{firewallEvent(models.EventFirewallAudit, models.SeverityP3,
			"UFW not found; ensure a host firewall (ufw or iptables) is configured",
			map[string]any{}, 0.8)}
	}
	if err != nil || !strings.Contains(out, "Chain") {
		return []models.Event{firewallEvent(models.EventFirewallAudit, models.SeverityP3,
			"No UFW and iptables may have no rules; verify host firewall is configured",
			map[string]any{}, 0.7)}
	}
	return nil
}

func firewallEvent(eventType string, severity models.Severity, summary string, raw map[string]any, confidence float64) models.Event {
	return models.Event{
		ID:         models.NewID("fw"),
		Source:     "detector.firewall",
		Type:       eventType,
		Severity:   severity,
		Summary:    summary,
		Raw:        raw,
		TS:         time.Now().UTC(),
		AssetIDs:   []string{"host"},
		Confidence: confidence,
	}
}

// runProbe executes a short read-only command and returns stdout.
func runProbe(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
