package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DulanDias/opensecagent/internal/models"
)

func TestNormalizeHostInventory(t *testing.T) {
	inv := HostInventory{Hostname: "web-1", Packages: []PackageInfo{{Name: "nginx", Version: "1.24"}}}
	ev := NormalizeHostInventory(inv)

	assert.Equal(t, SourceHost, ev.Source)
	assert.Equal(t, models.EventHostInventory, ev.Type)
	assert.Equal(t, models.SeverityP4, ev.Severity)
	assert.Equal(t, []string{"host"}, ev.AssetIDs)

	got, ok := ev.Raw["inventory"].(HostInventory)
	require.True(t, ok)
	assert.Equal(t, "web-1", got.Hostname)
}

func TestNormalizeDockerInventoryUnavailable(t *testing.T) {
	_, ok := NormalizeDockerInventory(DockerInventory{Available: false})
	assert.False(t, ok)
}

func TestNormalizeDockerInventoryAssetIDs(t *testing.T) {
	inv := DockerInventory{
		Available: true,
		Containers: []ContainerInfo{
			{ID: "abc123def456", Name: "api", Status: "running"},
			{ID: "fed654cba321", Name: "db", Status: "exited"},
		},
	}
	ev, ok := NormalizeDockerInventory(inv)
	require.True(t, ok)
	assert.Equal(t, models.SeverityP4, ev.Severity)
	assert.Equal(t, []string{"host", "abc123def456", "fed654cba321"}, ev.AssetIDs)
}

func TestHostInventorySets(t *testing.T) {
	inv := HostInventory{
		ListeningPorts: []ListeningPort{{Port: "22", Address: "0.0.0.0:22"}, {Port: "80", Address: ":::80"}},
		UsersWithSudo:  []string{"alice", "bob"},
	}
	assert.Equal(t, map[string]struct{}{"22": {}, "80": {}}, inv.PortSet())
	assert.Equal(t, map[string]struct{}{"alice": {}, "bob": {}}, inv.SudoSet())
}

func TestDockerInventoryContainerSetRunningOnly(t *testing.T) {
	inv := DockerInventory{
		Available: true,
		Containers: []ContainerInfo{
			{ID: "runner1", Status: "running"},
			{ID: "stopped1", Status: "exited"},
		},
	}
	assert.Equal(t, map[string]struct{}{"runner1": {}}, inv.ContainerSet())
}
