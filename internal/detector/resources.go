package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const topProcessCount = 10

// Resources watches aggregate CPU and memory utilization.
type Resources struct {
	cpuThreshold float64
	memThreshold float64
}

// NewResources returns a resource detector.
func NewResources(cfg config.DetectorConfig) *Resources {
	return &Resources{
		cpuThreshold: cfg.ResourceCPUPercent,
		memThreshold: cfg.ResourceMemoryPercent,
	}
}

// Check samples CPU over one second and reads memory. Events carry the
// top processes by CPU so responders see what is burning the host.
func (d *Resources) Check(ctx context.Context) []models.Event {
	var events []models.Event

	percents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		log.Debug().Err(err).Msg("CPU sample failed")
	} else if len(percents) > 0 && percents[0] >= d.cpuThreshold {
		events = append(events, models.Event{
			ID:       models.NewID("cpu"),
			Source:   "detector.resources",
			Type:     models.EventHighCPU,
			Severity: models.SeverityP2,
			Summary:  fmt.Sprintf("High CPU usage: %.1f%%", percents[0]),
			Raw: map[string]any{
				"cpu_percent":   percents[0],
				"threshold":     d.cpuThreshold,
				"top_processes": topProcesses(ctx),
			},
			TS:         time.Now().UTC(),
			AssetIDs:   []string{"host"},
			Confidence: 0.9,
		})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Memory sample failed")
	} else if vm.UsedPercent >= d.memThreshold {
		events = append(events, models.Event{
			ID:       models.NewID("mem"),
			Source:   "detector.resources",
			Type:     models.EventHighMemory,
			Severity: models.SeverityP2,
			Summary:  fmt.Sprintf("High memory usage: %.1f%%", vm.UsedPercent),
			Raw: map[string]any{
				"memory_percent": vm.UsedPercent,
				"threshold":      d.memThreshold,
				"total_mb":       vm.Total / (1024 * 1024),
				"available_mb":   vm.Available / (1024 * 1024),
				"top_processes":  topProcesses(ctx),
			},
			TS:         time.Now().UTC(),
			AssetIDs:   []string{"host"},
			Confidence: 0.9,
		})
	}

	return events
}

type processSample struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float32 `json:"mem_percent"`
}

// topProcesses returns the heaviest processes by CPU. Per-process read
// errors are skipped; short-lived processes vanish mid-walk.
func topProcesses(ctx context.Context) []processSample {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	samples := make([]processSample, 0, len(procs))
	for _, p := range procs {
		cpuPct, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		memPct, _ := p.MemoryPercentWithContext(ctx)
		samples = append(samples, processSample{
			PID:        p.Pid,
			Name:       name,
			CPUPercent: cpuPct,
			MemPercent: memPct,
		})
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].CPUPercent > samples[j].CPUPercent
	})
	if len(samples) > topProcessCount {
		samples = samples[:topProcessCount]
	}
	return samples
}
