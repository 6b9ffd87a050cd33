// Package collector produces host and container inventories and watches
// critical files for drift. Collectors are pure probes: they hold no state
// between calls and degrade per-probe instead of failing as a whole.
package collector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	gohost "github.com/shirou/gopsutil/v4/host"
	gonet "github.com/shirou/gopsutil/v4/net"
)

const (
	maxPackages = 5000
	maxServices = 200
	maxPorts    = 500
)

// PackageInfo is one installed package.
type PackageInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServiceInfo is one running service unit.
type ServiceInfo struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// ListeningPort is one listening socket.
type ListeningPort struct {
	Port    string `json:"port"`
	Address string `json:"address"`
}

// HostInventory is the structured host state returned by the host collector.
type HostInventory struct {
	OS             string          `json:"os"`
	OSRelease      string          `json:"os_release"`
	Hostname       string          `json:"hostname"`
	Machine        string          `json:"machine"`
	Packages       []PackageInfo   `json:"packages"`
	Services       []ServiceInfo   `json:"services"`
	ListeningPorts []ListeningPort `json:"listening_ports"`
	UsersWithSudo  []string        `json:"users_with_sudo"`
}

// PortSet returns the set of port identifiers for diff detection.
func (h HostInventory) PortSet() map[string]struct{} {
	out := make(map[string]struct{}, len(h.ListeningPorts))
	for _, p := range h.ListeningPorts {
		id := p.Port
		if id == "" {
			id = p.Address
		}
		out[id] = struct{}{}
	}
	return out
}

// SudoSet returns the set of sudo users for diff detection.
func (h HostInventory) SudoSet() map[string]struct{} {
	out := make(map[string]struct{}, len(h.UsersWithSudo))
	for _, u := range h.UsersWithSudo {
		out[u] = struct{}{}
	}
	return out
}

// Host collects host inventories on request.
type Host struct{}

// NewHost returns a host collector.
func NewHost() *Host {
	return &Host{}
}

// Collect gathers the host inventory. Each sub-probe is independent: a
// probe failure yields an empty slot plus a warning, never an aggregate
// failure.
func (c *Host) Collect(ctx context.Context) (HostInventory, []string) {
	inv := HostInventory{
		Packages:       []PackageInfo{},
		Services:       []ServiceInfo{},
		ListeningPorts: []ListeningPort{},
		UsersWithSudo:  []string{},
	}
	var warnings []string

	if info, err := gohost.InfoWithContext(ctx); err == nil {
		inv.OS = info.OS
		inv.OSRelease = info.KernelVersion
		inv.Hostname = info.Hostname
		inv.Machine = info.KernelArch
	} else {
		warnings = append(warnings, fmt.Sprintf("host info: %v", err))
	}

	if pkgs, err := collectPackages(ctx); err != nil {
		warnings = append(warnings, fmt.Sprintf("packages: %v", err))
	} else {
		inv.Packages = pkgs
	}

	if svcs, err := collectServices(ctx); err != nil {
		warnings = append(warnings, fmt.Sprintf("services: %v", err))
	} else {
		inv.Services = svcs
	}

	if ports, err := collectListeningPorts(ctx); err != nil {
		warnings = append(warnings, fmt.Sprintf("listening ports: %v", err))
	} else {
		inv.ListeningPorts = ports
	}

	if users, err := collectSudoUsers(ctx); err != nil {
		warnings = append(warnings, fmt.Sprintf("sudo users: %v", err))
	} else {
		inv.UsersWithSudo = users
	}

	return inv, warnings
}

// collectPackages tries distro package managers in order; the first
// nonempty result wins.
func collectPackages(ctx context.Context) ([]PackageInfo, error) {
	probes := []struct {
		name string
		args []string
	}{
		{"dpkg-query", []string{"-W", "-f", "${Package}\t${Version}\n"}},
		{"rpm", []string{"-qa", "--queryformat", "%{NAME}\t%{VERSION}\n"}},
	}
	var lastErr error
	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		out, err := exec.CommandContext(probeCtx, p.name, p.args...).Output()
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		pkgs := parseTabSeparated(out)
		if len(pkgs) > 0 {
			return pkgs, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return []PackageInfo{}, nil
}

func parseTabSeparated(out []byte) []PackageInfo {
	var pkgs []PackageInfo
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() && len(pkgs) < maxPackages {
		name, version, ok := strings.Cut(scanner.Text(), "\t")
		if !ok || name == "" {
			continue
		}
		pkgs = append(pkgs, PackageInfo{Name: name, Version: version})
	}
	return pkgs
}

type systemdUnit struct {
	Unit string `json:"unit"`
	Sub  string `json:"sub"`
}

func collectServices(ctx context.Context) ([]ServiceInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(probeCtx,
		"systemctl", "list-units", "--type=service", "--state=running", "--no-pager", "-o", "json").Output()
	if err != nil {
		return nil, err
	}
	var units []systemdUnit
	if err := json.Unmarshal(out, &units); err != nil {
		return nil, fmt.Errorf("parse systemctl output: %w", err)
	}
	svcs := make([]ServiceInfo, 0, len(units))
	for _, u := range units {
		if len(svcs) >= maxServices {
			break
		}
		state := u.Sub
		if state == "" {
			state = "running"
		}
		svcs = append(svcs, ServiceInfo{Name: u.Unit, State: state})
	}
	return svcs, nil
}

// collectListeningPorts prefers the kernel connection table via gopsutil
// and falls back to parsing ss output.
func collectListeningPorts(ctx context.Context) ([]ListeningPort, error) {
	conns, err := gonet.ConnectionsWithContext(ctx, "tcp")
	if err == nil {
		var ports []ListeningPort
		seen := make(map[string]struct{})
		for _, c := range conns {
			if c.Status != "LISTEN" || len(ports) >= maxPorts {
				continue
			}
			addr := fmt.Sprintf("%s:%d", c.Laddr.IP, c.Laddr.Port)
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			ports = append(ports, ListeningPort{Port: fmt.Sprintf("%d", c.Laddr.Port), Address: addr})
		}
		if ports == nil {
			ports = []ListeningPort{}
		}
		return ports, nil
	}
	return collectPortsViaSS(ctx)
}

func collectPortsViaSS(ctx context.Context) ([]ListeningPort, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, "ss", "-tln").Output()
	if err != nil {
		return nil, err
	}
	var ports []ListeningPort
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Scan() // header
	for scanner.Scan() && len(ports) < maxPorts {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		addr := fields[3]
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			continue
		}
		ports = append(ports, ListeningPort{Port: addr[idx+1:], Address: addr})
	}
	return ports, nil
}

// collectSudoUsers returns members of the sudo group, falling back to
// wheel on distros that use it.
func collectSudoUsers(ctx context.Context) ([]string, error) {
	for _, group := range []string{"sudo", "wheel"} {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		out, err := exec.CommandContext(probeCtx, "getent", "group", group).Output()
		cancel()
		if err != nil {
			continue
		}
		parts := strings.SplitN(strings.TrimSpace(string(out)), ":", 4)
		if len(parts) < 4 || parts[3] == "" {
			continue
		}
		var users []string
		for _, u := range strings.Split(parts[3], ",") {
			if u = strings.TrimSpace(u); u != "" {
				users = append(users, u)
			}
		}
		if len(users) > 0 {
			return users, nil
		}
	}
	return []string{}, nil
}
