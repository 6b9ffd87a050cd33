// Package responder executes the containment actions policy permits.
// Every action and every skip is written to the audit trail.
package responder

import (
	"context"
	"fmt"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/audit"
	"github.com/DulanDias/opensecagent/internal/models"
)

const (
	stopTimeout      = 10 * time.Second
	maxContainerStop = 5
)

// containerStopper is the slice of the docker client the responder needs.
type containerStopper interface {
	ContainerStop(ctx context.Context, containerID string, options containertypes.StopOptions) error
}

// Responder applies containment actions to incidents.
type Responder struct {
	auditLog *audit.Audit
	activity *audit.Activity
	docker   containerStopper
}

// New returns a responder. The docker client is created lazily so hosts
// without docker still get the advisory actions.
func New(auditLog *audit.Audit, activity *audit.Activity) *Responder {
	return &Responder{auditLog: auditLog, activity: activity}
}

// NewWithDocker returns a responder bound to an existing docker client.
func NewWithDocker(auditLog *audit.Audit, activity *audit.Activity, docker containerStopper) *Responder {
	return &Responder{auditLog: auditLog, activity: activity, docker: docker}
}

// Apply executes each permitted action against the incident and appends
// human-readable entries to inc.ActionsTaken. alert_only is a no-op here:
// the reporter handles notification.
func (r *Responder) Apply(ctx context.Context, inc *models.Incident, actions []models.ActionSpec) {
	for _, action := range actions {
		switch action.Action {
		case models.ActionAlertOnly:
		case models.ActionStopContainer:
			r.stopContainers(ctx, inc, action)
		case models.ActionBlockIPTemporary:
			r.skipBlockIP(inc, action)
		default:
			log.Warn().Str("action", action.Action).Str("incident_id", inc.ID).Msg("Unknown policy action")
		}
	}
}

// stopContainers stops the containers named in the incident events, at
// most maxContainerStop of them.
func (r *Responder) stopContainers(ctx context.Context, inc *models.Incident, action models.ActionSpec) {
	ids := containerIDs(inc)
	if len(ids) == 0 {
		return
	}
	if len(ids) > maxContainerStop {
		ids = ids[:maxContainerStop]
	}
	cli := r.connect()
	if cli == nil {
		r.auditLog.LogAction("stop_container_failed", map[string]any{
			"error": "docker client unavailable", "container_ids": ids,
		}, inc.ID)
		return
	}
	for _, id := range ids {
		start := time.Now()
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		err := cli.ContainerStop(stopCtx, id, containertypes.StopOptions{})
		cancel()
		if err != nil {
			log.Error().Err(err).Str("container_id", id).Msg("Container stop failed")
			r.auditLog.LogAction("stop_container_failed", map[string]any{
				"container_id": id, "error": err.Error(),
			}, inc.ID)
			continue
		}
		log.Info().Str("container_id", id).Str("incident_id", inc.ID).Msg("Stopped container")
		r.auditLog.LogAction(models.ActionStopContainer, map[string]any{
			"container_id":    id,
			"reason":          action.Reason,
			"timeout_minutes": action.TimeoutMinutes,
		}, inc.ID)
		r.activity.LogCommandExecution(
			fmt.Sprintf("docker stop %s", id), 0, "", "", time.Since(start), "responder")
		inc.ActionsTaken = append(inc.ActionsTaken, fmt.Sprintf("Stopped container %s", id))
		now := time.Now().UTC()
		inc.ContainedAt = &now
	}
}

// skipBlockIP records the advisory block without touching the firewall.
// Automated IP blocking stays off until the source extraction is
// trustworthy enough to not lock out operators.
func (r *Responder) skipBlockIP(inc *models.Incident, action models.ActionSpec) {
	r.auditLog.LogAction("block_ip_temporary_skipped", map[string]any{
		"reason":          action.Reason,
		"timeout_minutes": action.TimeoutMinutes,
		"note":            "advisory only, no firewall change made",
	}, inc.ID)
	log.Info().Str("incident_id", inc.ID).Msg("block_ip_temporary is advisory, skipped")
}

func (r *Responder) connect() containerStopper {
	if r.docker != nil {
		return r.docker
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Debug().Err(err).Msg("Docker client unavailable")
		return nil
	}
	r.docker = cli
	return cli
}

// containerIDs extracts container ids from incident events, preferring
// the raw new_ids list, then names, then non-host asset ids.
func containerIDs(inc *models.Incident) []string {
	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if id == "" || id == "host" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, ev := range inc.Events {
		for _, id := range stringList(ev.Raw["new_ids"]) {
			add(id)
		}
	}
	if len(ids) == 0 {
		for _, ev := range inc.Events {
			for _, id := range stringList(ev.Raw["names"]) {
				add(id)
			}
		}
	}
	if len(ids) == 0 {
		for _, ev := range inc.Events {
			for _, asset := range ev.AssetIDs {
				add(asset)
			}
		}
	}
	return ids
}

// stringList coerces a raw field that may be []string in-process or
// []any after a JSON round trip.
func stringList(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
