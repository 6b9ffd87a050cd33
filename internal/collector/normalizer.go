package collector

import (
	"fmt"

	"github.com/DulanDias/opensecagent/internal/models"
)

// Inventory event sources consumed by the correlator.
const (
	SourceHost   = "host_collector"
	SourceDocker = "docker_collector"
)

// NormalizeHostInventory wraps a host inventory into one P4 event. These
// events update the orchestrator's snapshots and are never promoted to
// incidents.
func NormalizeHostInventory(inv HostInventory) models.Event {
	return models.Event{
		ID:       models.NewID("host-inv"),
		Source:   SourceHost,
		Type:     models.EventHostInventory,
		Severity: models.SeverityP4,
		Summary:  fmt.Sprintf("Host inventory: %s", inv.Hostname),
		Raw: map[string]any{
			"inventory": inv,
		},
		TS:         nowUTC(),
		AssetIDs:   []string{"host"},
		Confidence: 1.0,
	}
}

// NormalizeDockerInventory wraps a docker inventory into one P4 event.
// Returns false when the daemon is unavailable: nothing to normalize.
func NormalizeDockerInventory(inv DockerInventory) (models.Event, bool) {
	if !inv.Available {
		return models.Event{}, false
	}
	assetIDs := []string{"host"}
	for i, c := range inv.Containers {
		if i >= 20 {
			break
		}
		assetIDs = append(assetIDs, c.ID)
	}
	return models.Event{
		ID:       models.NewID("docker-inv"),
		Source:   SourceDocker,
		Type:     models.EventDockerInventory,
		Severity: models.SeverityP4,
		Summary:  fmt.Sprintf("Docker: %d containers, %d images", len(inv.Containers), len(inv.Images)),
		Raw: map[string]any{
			"inventory": inv,
		},
		TS:         nowUTC(),
		AssetIDs:   assetIDs,
		Confidence: 1.0,
	}, true
}
