package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"
)

const maxContainerPorts = 50

// ContainerInfo is one container in the docker inventory.
type ContainerInfo struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Image  string            `json:"image"`
	Status string            `json:"status"`
	Labels map[string]string `json:"labels"`
	Ports  []string          `json:"ports"`
}

// ImageInfo is one image in the docker inventory.
type ImageInfo struct {
	ID      string   `json:"id"`
	Tags    []string `json:"tags"`
	Created string   `json:"created"`
}

// DockerInventory is the structured container state. Available is false
// when no daemon is reachable; that is not an error.
type DockerInventory struct {
	Available  bool            `json:"available"`
	Containers []ContainerInfo `json:"containers"`
	Images     []ImageInfo     `json:"images"`
}

// ContainerSet returns the set of running container ids for diff
// detection.
func (d DockerInventory) ContainerSet() map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range d.Containers {
		if c.Status == "running" {
			out[c.ID] = struct{}{}
		}
	}
	return out
}

// dockerAPI is the slice of the docker client the collector needs.
type dockerAPI interface {
	ContainerList(ctx context.Context, options containertypes.ListOptions) ([]containertypes.Summary, error)
	ImageList(ctx context.Context, options imagetypes.ListOptions) ([]imagetypes.Summary, error)
}

// Docker collects container inventories on request.
type Docker struct {
	cli dockerAPI
}

// NewDocker returns a docker collector. The client is created lazily so a
// missing daemon is reported per-collect instead of at startup.
func NewDocker() *Docker {
	return &Docker{}
}

// NewDockerWithClient returns a collector bound to an existing client.
func NewDockerWithClient(cli dockerAPI) *Docker {
	return &Docker{cli: cli}
}

func (c *Docker) connect() dockerAPI {
	if c.cli != nil {
		return c.cli
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Debug().Err(err).Msg("Docker client unavailable")
		return nil
	}
	c.cli = cli
	return cli
}

// Collect gathers the docker inventory. A missing daemon or client
// failure yields available=false and empty lists.
func (c *Docker) Collect(ctx context.Context) DockerInventory {
	inv := DockerInventory{Containers: []ContainerInfo{}, Images: []ImageInfo{}}
	cli := c.connect()
	if cli == nil {
		return inv
	}

	collectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	containers, err := cli.ContainerList(collectCtx, containertypes.ListOptions{All: true})
	if err != nil {
		log.Debug().Err(err).Msg("Docker container list failed")
		return inv
	}
	inv.Available = true
	for _, ctr := range containers {
		inv.Containers = append(inv.Containers, ContainerInfo{
			ID:     shortID(ctr.ID),
			Name:   containerName(ctr.Names),
			Image:  ctr.Image,
			Status: ctr.State,
			Labels: ctr.Labels,
			Ports:  formatPorts(ctr.Ports),
		})
	}

	images, err := cli.ImageList(collectCtx, imagetypes.ListOptions{})
	if err != nil {
		log.Debug().Err(err).Msg("Docker image list failed")
		return inv
	}
	for _, img := range images {
		inv.Images = append(inv.Images, ImageInfo{
			ID:      shortID(strings.TrimPrefix(img.ID, "sha256:")),
			Tags:    append([]string{}, img.RepoTags...),
			Created: time.Unix(img.Created, 0).UTC().Format(time.RFC3339),
		})
	}
	return inv
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func formatPorts(ports []containertypes.Port) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		if len(out) >= maxContainerPorts {
			break
		}
		if p.PublicPort > 0 {
			out = append(out, fmt.Sprintf("%d/%s -> %s:%d", p.PrivatePort, p.Type, p.IP, p.PublicPort))
		} else {
			out = append(out, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
		}
	}
	sort.Strings(out)
	return out
}
