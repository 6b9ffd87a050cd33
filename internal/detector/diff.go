package detector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DulanDias/opensecagent/internal/collector"
	"github.com/DulanDias/opensecagent/internal/models"
)

// DiffNewPorts compares the latest listening ports against the prior set
// and emits at most one event covering everything new. A nil or empty
// prior set is the bootstrap observation and yields nothing.
func DiffNewPorts(inv collector.HostInventory, prior map[string]struct{}) []models.Event {
	if len(prior) == 0 {
		return nil
	}
	current := inv.PortSet()
	added := setDiff(current, prior)
	if len(added) == 0 {
		return nil
	}
	shown := added
	if len(shown) > 10 {
		shown = shown[:10]
	}
	return []models.Event{{
		ID:       models.NewID("port"),
		Source:   "detector.ports",
		Type:     models.EventNewListeningPort,
		Severity: models.SeverityP3,
		Summary:  fmt.Sprintf("New listening port(s) detected: %s", strings.Join(shown, ", ")),
		Raw: map[string]any{
			"new_ports":     added,
			"current_ports": setMembers(current),
		},
		TS:         time.Now().UTC(),
		AssetIDs:   []string{"host"},
		Confidence: 1.0,
	}}
}

// DiffNewAdminUsers emits one P2 event naming every user newly present in
// the sudo group. Bootstrap observations are suppressed.
func DiffNewAdminUsers(inv collector.HostInventory, prior map[string]struct{}) []models.Event {
	if len(prior) == 0 {
		return nil
	}
	current := inv.SudoSet()
	added := setDiff(current, prior)
	if len(added) == 0 {
		return nil
	}
	return []models.Event{{
		ID:       models.NewID("admin"),
		Source:   "detector.users",
		Type:     models.EventNewAdminUser,
		Severity: models.SeverityP2,
		Summary:  fmt.Sprintf("New admin (sudo) user(s) detected: %s", strings.Join(added, ", ")),
		Raw: map[string]any{
			"new_users":    added,
			"current_sudo": setMembers(current),
		},
		TS:         time.Now().UTC(),
		AssetIDs:   []string{"host"},
		Confidence: 1.0,
	}}
}

// DiffNewContainers emits one P3 event covering every running container
// id not present in the prior set. Bootstrap observations are suppressed.
func DiffNewContainers(inv collector.DockerInventory, prior map[string]struct{}) []models.Event {
	if !inv.Available || len(prior) == 0 {
		return nil
	}
	added := setDiff(inv.ContainerSet(), prior)
	if len(added) == 0 {
		return nil
	}
	addedSet := make(map[string]struct{}, len(added))
	for _, id := range added {
		addedSet[id] = struct{}{}
	}
	var names []string
	for _, c := range inv.Containers {
		if _, ok := addedSet[c.ID]; ok {
			name := c.Name
			if name == "" {
				name = c.ID
			}
			names = append(names, name)
		}
	}
	shown := names
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return []models.Event{{
		ID:       models.NewID("ctr"),
		Source:   "detector.containers",
		Type:     models.EventNewContainer,
		Severity: models.SeverityP3,
		Summary:  fmt.Sprintf("New container(s) started: %s", strings.Join(shown, ", ")),
		Raw: map[string]any{
			"new_ids": added,
			"names":   names,
		},
		TS:         time.Now().UTC(),
		AssetIDs:   added,
		Confidence: 1.0,
	}}
}

// setDiff returns the members of current not present in prior, sorted for
// stable output.
func setDiff(current, prior map[string]struct{}) []string {
	var added []string
	for k := range current {
		if _, ok := prior[k]; !ok {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	return added
}

// setMembers returns the sorted members of a set.
func setMembers(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
