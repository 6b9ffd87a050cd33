// Package policy decides which containment actions an incident permits.
// The engine is pure: same incident, clock, and configuration always
// produce the same decision.
package policy

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

// Engine evaluates incidents against the configured action tier and
// maintenance windows.
type Engine struct {
	tierMax int
	windows []config.MaintenanceWindow
}

// New returns a policy engine.
func New(tierMax int, windows []config.MaintenanceWindow) *Engine {
	return &Engine{tierMax: tierMax, windows: windows}
}

// Decision is the policy outcome for one incident.
type Decision struct {
	Actions []models.ActionSpec
	Reason  string
}

// AllowedActions returns the actions permitted for the incident at the
// given instant. Inside a maintenance window the only permitted action is
// alert_only; outside, alert_only is always present and containment
// actions are appended when the tier and severity allow them.
func (e *Engine) AllowedActions(inc *models.Incident, now time.Time) Decision {
	if e.inMaintenanceWindow(now) {
		return Decision{
			Actions: []models.ActionSpec{{Action: models.ActionAlertOnly, Reason: "maintenance_window"}},
			Reason:  "maintenance_window",
		}
	}

	actions := []models.ActionSpec{{Action: models.ActionAlertOnly, Reason: "always"}}
	severe := inc.Severity == models.SeverityP1 || inc.Severity == models.SeverityP2
	if e.tierMax >= int(models.TierSoftContainment) && severe {
		if inc.Matches(models.EventNewContainer) {
			actions = append(actions, models.ActionSpec{
				Action:         models.ActionStopContainer,
				Reason:         "unexpected container at high severity",
				Tier:           int(models.TierSoftContainment),
				TimeoutMinutes: 60,
			})
		}
		if inc.Matches(models.EventAuthFailures) {
			actions = append(actions, models.ActionSpec{
				Action:         models.ActionBlockIPTemporary,
				Reason:         "repeated auth failures at high severity",
				Tier:           int(models.TierSoftContainment),
				TimeoutMinutes: 30,
			})
		}
	}
	return Decision{Actions: actions, Reason: "default"}
}

// inMaintenanceWindow reports whether now falls inside any configured
// window. Unparsable windows are skipped; Validate surfaces them at
// startup.
func (e *Engine) inMaintenanceWindow(now time.Time) bool {
	for _, w := range e.windows {
		start, end, err := w.Parse()
		if err != nil {
			log.Warn().Err(err).Msg("Skipping unparsable maintenance window")
			continue
		}
		if !now.Before(start) && now.Before(end) {
			return true
		}
	}
	return false
}
