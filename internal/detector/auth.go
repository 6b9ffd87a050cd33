// Package detector contains the stateful analyzers that turn host state
// into typed events. Probe detectors run independently and emit zero or
// more events per cycle; diff detectors compare the latest inventory with
// a prior snapshot and suppress output on the very first observation.
package detector

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const authTailLines = 500

var authFailurePattern = regexp.MustCompile(`(?i)Failed password|Invalid user|authentication failure`)

// AuthFailures counts authentication failures in the system auth log.
type AuthFailures struct {
	threshold int
	windowSec int
	logPaths  []string
}

// NewAuthFailures returns an auth-failure detector.
func NewAuthFailures(cfg config.DetectorConfig) *AuthFailures {
	return &AuthFailures{
		threshold: cfg.AuthFailureThreshold,
		windowSec: cfg.AuthFailureWindowSec,
		logPaths:  []string{"/var/log/auth.log", "/var/log/secure"},
	}
}

// Check emits one auth_failures event when the count of matching lines
// within the window reaches the threshold.
func (d *AuthFailures) Check(ctx context.Context) []models.Event {
	count := d.countRecentFailures(time.Now().UTC())
	if count < d.threshold {
		return nil
	}
	confidence := float64(count) / float64(d.threshold*2)
	if confidence > 1 {
		confidence = 1
	}
	return []models.Event{{
		ID:       models.NewID("auth-fail"),
		Source:   "detector.auth",
		Type:     models.EventAuthFailures,
		Severity: models.SeverityP2,
		Summary:  fmt.Sprintf("Repeated auth failures detected: %d in last %ds", count, d.windowSec),
		Raw: map[string]any{
			"count":      count,
			"threshold":  d.threshold,
			"window_sec": d.windowSec,
		},
		TS:         time.Now().UTC(),
		AssetIDs:   []string{"host"},
		Confidence: confidence,
	}}
}

// countRecentFailures reads the first readable auth log and counts
// matching lines. Lines with a parseable syslog or RFC 3339 timestamp are
// only counted when they fall inside the window; lines without one are
// counted unconditionally so unparsable log formats keep working.
func (d *AuthFailures) countRecentFailures(now time.Time) int {
	for _, path := range d.logPaths {
		f, err := os.Open(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Cannot read auth log")
			continue
		}
		var matched []string
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if authFailurePattern.MatchString(line) {
				matched = append(matched, line)
				if len(matched) > authTailLines {
					matched = matched[1:]
				}
			}
		}
		_ = f.Close()

		cutoff := now.Add(-time.Duration(d.windowSec) * time.Second)
		count := 0
		for _, line := range matched {
			if ts, ok := parseLogTimestamp(line, now); ok && ts.Before(cutoff) {
				continue
			}
			count++
		}
		return count
	}
	return 0
}

// parseLogTimestamp extracts the leading timestamp of a syslog line.
// Supports the classic "Jan  2 15:04:05" prefix (year assumed current)
// and RFC 3339 prefixes used by journald-forwarded logs.
func parseLogTimestamp(line string, now time.Time) (time.Time, bool) {
	if len(line) >= 15 {
		if ts, err := time.Parse(time.Stamp, line[:15]); err == nil {
			ts = ts.AddDate(now.Year(), 0, 0)
			// Logs around new year: a December entry read in January
			// belongs to the previous year.
			if ts.After(now.Add(24 * time.Hour)) {
				ts = ts.AddDate(-1, 0, 0)
			}
			return ts, true
		}
	}
	if len(line) >= 19 {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
			n := len("2006-01-02T15:04:05")
			if layout == time.RFC3339 {
				n = len(line)
				if idx := indexSpace(line); idx > 0 {
					n = idx
				}
			}
			if n > len(line) {
				n = len(line)
			}
			if ts, err := time.Parse(layout, line[:n]); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func indexSpace(s string) int {
	for i, r := range s {
		if r == ' ' {
			return i
		}
	}
	return -1
}
