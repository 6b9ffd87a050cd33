package detector

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const nginxProbeTimeout = 10 * time.Second

var serverTokensOn = regexp.MustCompile(`(?i)server_tokens\s+on`)

// Nginx validates the nginx configuration and, when it passes, audits it
// for exposed server tokens. Skips silently when nginx is not installed.
type Nginx struct {
	configPaths   []string
	checkSecurity bool
}

// NewNginx returns an nginx audit detector.
func NewNginx(cfg config.DetectorConfig) *Nginx {
	paths := cfg.NginxConfigPaths
	if len(paths) == 0 {
		paths = []string{"/etc/nginx/nginx.conf"}
	}
	return &Nginx{
		configPaths:   paths,
		checkSecurity: config.Enabled(cfg.NginxCheckSecurity),
	}
}

// Check runs the config test against the first existing configured path
// and scans for server_tokens only when the test produced no events.
func (d *Nginx) Check(ctx context.Context) []models.Event {
	args := []string{"-t"}
	for i, path := range d.configPaths {
		if i == 3 {
			break
		}
		if _, err := os.Stat(path); err == nil {
			if abs, absErr := filepath.Abs(path); absErr == nil {
				path = abs
			}
			args = []string{"-t", "-c", path}
			break
		}
	}

	var events []models.Event

	probeCtx, cancel := context.WithTimeout(ctx, nginxProbeTimeout)
	out, err := exec.CommandContext(probeCtx, "nginx", args...).Output()
	cancel()
	if err != nil {
		if exitErr, isExit := err.(*exec.ExitError); isExit {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			detail := stderr
			if detail == "" {
				detail = strings.TrimSpace(string(out))
			}
			events = append(events, nginxEvent(models.EventNginxConfigInvalid, models.SeverityP2,
				fmt.Sprintf("Nginx config test failed: %s", clip(detail, 200)),
				map[string]any{
					"command":    "nginx " + strings.Join(args, " "),
					"stderr":     clip(stderr, 500),
					"returncode": exitErr.ExitCode(),
				}))
		} else {
			log.Debug().Err(err).Msg("nginx binary unavailable")
			return nil
		}
	}

	if d.checkSecurity && len(events) == 0 {
		if ev := d.auditServerTokens(); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// auditServerTokens inspects the first readable config path.
func (d *Nginx) auditServerTokens() *models.Event {
	for _, path := range d.configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if serverTokensOn.Match(data) {
			ev := nginxEvent(models.EventNginxSecurity, models.SeverityP4,
				fmt.Sprintf("Nginx server_tokens on in %s; consider 'server_tokens off'", path),
				map[string]any{"config_path": path})
			return &ev
		}
		break
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func nginxEvent(eventType string, severity models.Severity, summary string, raw map[string]any) models.Event {
	return models.Event{
		ID:         models.NewID("nginx"),
		Source:     "detector.nginx",
		Type:       eventType,
		Severity:   severity,
		Summary:    summary,
		Raw:        raw,
		TS:         time.Now().UTC(),
		AssetIDs:   []string{"host"},
		Confidence: 1.0,
	}
}
