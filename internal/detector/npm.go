package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const (
	npmAuditTimeout = 60 * time.Second
	npmMaxProjects  = 50
)

// NpmAudit walks configured roots for node projects and runs "npm audit"
// against each.
type NpmAudit struct {
	roots    []string
	maxDepth int
}

// NewNpmAudit returns an npm dependency audit detector.
func NewNpmAudit(cfg config.DetectorConfig) *NpmAudit {
	return &NpmAudit{
		roots:    cfg.NpmAuditPaths,
		maxDepth: cfg.NpmAuditMaxDepth,
	}
}

// Check audits up to npmMaxProjects discovered projects. Critical
// vulnerabilities yield P1, high yield P2; lower severities are ignored.
func (d *NpmAudit) Check(ctx context.Context) []models.Event {
	var events []models.Event
	for _, dir := range d.findProjects() {
		if ctx.Err() != nil {
			break
		}
		ev, ok := d.auditProject(ctx, dir)
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

// findProjects locates directories containing package.json, skipping
// node_modules trees and anything deeper than maxDepth below a root.
func (d *NpmAudit) findProjects() []string {
	var projects []string
	for _, root := range d.roots {
		root = filepath.Clean(root)
		rootDepth := strings.Count(root, string(filepath.Separator))
		_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if len(projects) >= npmMaxProjects {
				return filepath.SkipAll
			}
			if entry.IsDir() {
				if entry.Name() == "node_modules" {
					return filepath.SkipDir
				}
				if strings.Count(path, string(filepath.Separator))-rootDepth > d.maxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if entry.Name() == "package.json" {
				projects = append(projects, filepath.Dir(path))
			}
			return nil
		})
	}
	return projects
}

type npmAuditReport struct {
	Vulnerabilities map[string]struct {
		Severity string `json:"severity"`
	} `json:"vulnerabilities"`
	Metadata struct {
		Vulnerabilities map[string]int `json:"vulnerabilities"`
	} `json:"metadata"`
}

func (d *NpmAudit) auditProject(ctx context.Context, dir string) (models.Event, bool) {
	auditCtx, cancel := context.WithTimeout(ctx, npmAuditTimeout)
	defer cancel()
	cmd := exec.CommandContext(auditCtx, "npm", "audit", "--json")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		// npm exits 1 when vulnerabilities exist; that output is valid.
		exitErr, isExit := err.(*exec.ExitError)
		if !isExit || exitErr.ExitCode() != 1 || len(out) == 0 {
			log.Debug().Err(err).Str("dir", dir).Msg("npm audit failed")
			return models.Event{}, false
		}
	}

	var report npmAuditReport
	if err := json.Unmarshal(out, &report); err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("npm audit output unparsable")
		return models.Event{}, false
	}

	critical, high := countVulns(report)
	if critical == 0 && high == 0 {
		return models.Event{}, false
	}
	severity := models.SeverityP2
	if critical > 0 {
		severity = models.SeverityP1
	}
	return models.Event{
		ID:       models.NewID("npm"),
		Source:   "detector.npm",
		Type:     models.EventNpmAudit,
		Severity: severity,
		Summary:  fmt.Sprintf("npm vulnerabilities in %s: %d critical, %d high", dir, critical, high),
		Raw: map[string]any{
			"path":     dir,
			"critical": critical,
			"high":     high,
		},
		TS:         time.Now().UTC(),
		AssetIDs:   []string{"host"},
		Confidence: 1.0,
	}, true
}

// countVulns reads the npm 7+ per-package map first and falls back to the
// npm 6 metadata counters.
func countVulns(report npmAuditReport) (critical, high int) {
	if len(report.Vulnerabilities) > 0 {
		for _, v := range report.Vulnerabilities {
			switch strings.ToLower(v.Severity) {
			case "critical":
				critical++
			case "high":
				high++
			}
		}
		return critical, high
	}
	return report.Metadata.Vulnerabilities["critical"], report.Metadata.Vulnerabilities["high"]
}
