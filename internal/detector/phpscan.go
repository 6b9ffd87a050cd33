package detector

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

// phpPattern pairs a malware signature with the severity it implies.
// Order matters: the first match decides the event.
type phpPattern struct {
	name     string
	re       *regexp.Regexp
	severity models.Severity
}

var phpPatterns = []phpPattern{
	{"eval(base64_decode)", regexp.MustCompile(`eval\s*\(\s*base64_decode\s*\(`), models.SeverityP1},
	{"eval(gzinflate)", regexp.MustCompile(`eval\s*\(\s*gzinflate\s*\(`), models.SeverityP1},
	{"eval(gzuncompress)", regexp.MustCompile(`eval\s*\(\s*gzuncompress\s*\(`), models.SeverityP1},
	{"eval(str_rot13)", regexp.MustCompile(`eval\s*\(\s*str_rot13\s*\(`), models.SeverityP1},
	{"assert(variable)", regexp.MustCompile(`assert\s*\(\s*\$\w+\s*\)`), models.SeverityP1},
	{"create_function", regexp.MustCompile(`create_function\s*\(`), models.SeverityP1},
	{"preg_replace /e modifier", regexp.MustCompile(`preg_replace\s*\([^)]*/e\s*[),]`), models.SeverityP1},
	{"shell_exec", regexp.MustCompile(`shell_exec\s*\(`), models.SeverityP2},
	{"passthru", regexp.MustCompile(`passthru\s*\(`), models.SeverityP2},
	{"proc_open", regexp.MustCompile(`proc_open\s*\(`), models.SeverityP2},
	{"pcntl_exec", regexp.MustCompile(`pcntl_exec\s*\(`), models.SeverityP2},
	{"base64_decode(long string)", regexp.MustCompile(`base64_decode\s*\(\s*['"]\s*[A-Za-z0-9+/=]{20,}`), models.SeverityP2},
	{"variable function call", regexp.MustCompile(`\$\w+\s*\(\s*\$\w+\s*\)\s*;`), models.SeverityP3},
	{"file_get_contents(http)", regexp.MustCompile(`file_get_contents\s*\(\s*['"]https?://`), models.SeverityP3},
	{"curl_exec", regexp.MustCompile(`curl_exec\s*\(`), models.SeverityP3},
	{"system(", regexp.MustCompile(`system\s*\(`), models.SeverityP2},
	{"exec(", regexp.MustCompile(`exec\s*\(`), models.SeverityP2},
	{"popen", regexp.MustCompile(`popen\s*\(`), models.SeverityP2},
}

// PhpScan sweeps web roots for known webshell and obfuscation signatures.
type PhpScan struct {
	roots    []string
	maxDepth int
	maxFiles int
	maxBytes int
}

// NewPhpScan returns a PHP malware scanner.
func NewPhpScan(cfg config.DetectorConfig) *PhpScan {
	return &PhpScan{
		roots:    cfg.PhpScanPaths,
		maxDepth: cfg.PhpScanMaxDepth,
		maxFiles: cfg.PhpScanMaxFiles,
		maxBytes: cfg.PhpScanMaxBytes,
	}
}

// Check scans up to maxFiles PHP files and emits one event per file on
// the first matching signature.
func (d *PhpScan) Check(ctx context.Context) []models.Event {
	var events []models.Event
	scanned := 0
	for _, root := range d.roots {
		root = filepath.Clean(root)
		rootDepth := strings.Count(root, string(filepath.Separator))
		_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil || scanned >= d.maxFiles {
				return filepath.SkipAll
			}
			if entry.IsDir() {
				if strings.Count(path, string(filepath.Separator))-rootDepth > d.maxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(entry.Name(), ".php") {
				return nil
			}
			scanned++
			if ev, ok := d.scanFile(path); ok {
				events = append(events, ev)
			}
			return nil
		})
	}
	return events
}

func (d *PhpScan) scanFile(path string) (models.Event, bool) {
	f, err := os.Open(path)
	if err != nil {
		return models.Event{}, false
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(d.maxBytes)))
	_ = f.Close()
	if err != nil {
		return models.Event{}, false
	}
	for _, p := range phpPatterns {
		if !p.re.Match(data) {
			continue
		}
		return models.Event{
			ID:       models.NewID("php"),
			Source:   "detector.phpscan",
			Type:     models.EventPhpMalware,
			Severity: p.severity,
			Summary:  fmt.Sprintf("Suspicious PHP pattern '%s' in %s", p.name, path),
			Raw: map[string]any{
				"path":     path,
				"pattern":  p.name,
				"severity": string(p.severity),
			},
			TS:         time.Now().UTC(),
			AssetIDs:   []string{"host"},
			Confidence: 0.9,
		}, true
	}
	return models.Event{}, false
}
