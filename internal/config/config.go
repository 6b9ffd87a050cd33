// Package config loads the agent configuration: defaults deep-merged with a
// single YAML document, plus an optional .env overlay for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath selects the config file when no --config flag is given.
const EnvConfigPath = "OPENSECAGENT_CONFIG"

// Config is the full agent configuration tree.
type Config struct {
	Agent              AgentConfig         `yaml:"agent"`
	Environment        string              `yaml:"environment"`
	ActionTierMax      int                 `yaml:"action_tier_max"`
	MaintenanceWindows []MaintenanceWindow `yaml:"maintenance_windows"`
	ScanLevel          string              `yaml:"scan_level"`
	ScanFrequencies    map[string]Preset   `yaml:"scan_frequencies"`
	Collector          CollectorConfig     `yaml:"collector"`
	Detector           DetectorConfig      `yaml:"detector"`
	Notifications      NotificationsConfig `yaml:"notifications"`
	LLM                LLMConfig           `yaml:"llm"`
	LLMAgent           LLMAgentConfig      `yaml:"llm_agent"`
	Audit              AuditConfig         `yaml:"audit"`
	Activity           ActivityConfig      `yaml:"activity"`
	Execution          ExecutionConfig     `yaml:"execution"`
	Logging            LoggingConfig       `yaml:"logging"`
}

// AgentConfig holds filesystem locations.
type AgentConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	DataDir string `yaml:"data_dir"`
	LogDir  string `yaml:"log_dir"`
	RunDir  string `yaml:"run_dir"`
}

// MaintenanceWindow is an absolute UTC interval during which containment
// is suppressed. Start/End are RFC 3339 instants.
type MaintenanceWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Parse returns the window bounds as UTC instants.
func (w MaintenanceWindow) Parse() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start %q: %w", w.Start, err)
	}
	end, err := time.Parse(time.RFC3339, w.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end %q: %w", w.End, err)
	}
	return start.UTC(), end.UTC(), nil
}

// Preset is one scan_frequencies level.
type Preset struct {
	HostIntervalSec     int `yaml:"host_interval_sec"`
	DockerIntervalSec   int `yaml:"docker_interval_sec"`
	DriftIntervalSec    int `yaml:"drift_interval_sec"`
	DetectorIntervalSec int `yaml:"detector_interval_sec"`
	LLMScanIntervalSec  int `yaml:"llm_scan_interval_sec"`
}

// CollectorConfig controls the inventory and drift schedules.
type CollectorConfig struct {
	HostIntervalSec   int      `yaml:"host_interval_sec"`
	DockerIntervalSec int      `yaml:"docker_interval_sec"`
	DriftIntervalSec  int      `yaml:"drift_interval_sec"`
	CriticalFiles     []string `yaml:"critical_files"`
}

// DetectorConfig holds thresholds and enable flags per detector family.
type DetectorConfig struct {
	DetectorIntervalSec      int      `yaml:"detector_interval_sec"`
	AuthFailureEnabled       *bool    `yaml:"auth_failure_enabled"`
	AuthFailureThreshold     int      `yaml:"auth_failure_threshold"`
	AuthFailureWindowSec     int      `yaml:"auth_failure_window_sec"`
	ResourceDetectorEnabled  *bool    `yaml:"resource_detector_enabled"`
	ResourceCPUPercent       float64  `yaml:"resource_cpu_percent"`
	ResourceMemoryPercent    float64  `yaml:"resource_memory_percent"`
	NetworkDetectorEnabled   *bool    `yaml:"network_detector_enabled"`
	NetworkMBPerSecThreshold float64  `yaml:"network_mb_per_sec_threshold"`
	NginxAuditEnabled        *bool    `yaml:"nginx_audit_enabled"`
	NginxConfigPaths         []string `yaml:"nginx_config_paths"`
	NginxCheckSecurity       *bool    `yaml:"nginx_check_security"`
	FirewallAuditEnabled     *bool    `yaml:"firewall_audit_enabled"`
	FirewallRequireActive    *bool    `yaml:"firewall_require_active"`
	NpmAuditEnabled          *bool    `yaml:"npm_audit_enabled"`
	NpmAuditPaths            []string `yaml:"npm_audit_paths"`
	NpmAuditMaxDepth         int      `yaml:"npm_audit_max_depth"`
	PhpScanEnabled           *bool    `yaml:"php_scan_enabled"`
	PhpScanPaths             []string `yaml:"php_scan_paths"`
	PhpScanMaxDepth          int      `yaml:"php_scan_max_depth"`
	PhpScanMaxFiles          int      `yaml:"php_scan_max_files"`
	PhpScanMaxBytes          int      `yaml:"php_scan_max_bytes"`
}

// NotificationsConfig selects the email provider and digest schedule.
type NotificationsConfig struct {
	Provider            string       `yaml:"provider"` // "smtp" or "resend"
	AdminEmails         []string     `yaml:"admin_emails"`
	SMTP                SMTPConfig   `yaml:"smtp"`
	Resend              ResendConfig `yaml:"resend"`
	ImmediateSeverities []string     `yaml:"immediate_severities"`
	Digest              DigestConfig `yaml:"digest"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	UseTLS   bool   `yaml:"use_tls"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	From   string `yaml:"from"`
}

type DigestConfig struct {
	Enabled bool `yaml:"enabled"`
	HourUTC int  `yaml:"hour_utc"`
	Minute  int  `yaml:"minute"`
}

// LLMConfig configures the Chat port.
type LLMConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Provider       string   `yaml:"provider"` // "openai" or "anthropic"
	APIKey         string   `yaml:"api_key"`
	Model          string   `yaml:"model"`
	ModelScan      string   `yaml:"model_scan"`
	ModelResolve   string   `yaml:"model_resolve"`
	BaseURL        string   `yaml:"base_url"`
	MaxTokens      int      `yaml:"max_tokens"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ScanModel returns the model used for scan mode.
func (c LLMConfig) ScanModel() string {
	if c.ModelScan != "" {
		return c.ModelScan
	}
	return c.Model
}

// ResolveModel returns the model used for resolve mode.
func (c LLMConfig) ResolveModel() string {
	if c.ModelResolve != "" {
		return c.ModelResolve
	}
	return c.Model
}

// LLMAgentConfig gates the bounded agent loop.
type LLMAgentConfig struct {
	Enabled            bool `yaml:"enabled"`
	RunOnIncident      bool `yaml:"run_on_incident"`
	RunIntervalSec     int  `yaml:"run_interval_sec"`
	AgentMaxIterations int  `yaml:"agent_max_iterations"`
}

type AuditConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	RetainDays int    `yaml:"retain_days"`
}

type ActivityConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
}

// ExecutionConfig optionally runs agent commands as another user via sudo.
type ExecutionConfig struct {
	RunAs string `yaml:"run_as"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json", "console", or "auto"
}

// Intervals are the five resolved scheduler intervals.
type Intervals struct {
	HostSec     int
	DockerSec   int
	DriftSec    int
	DetectorSec int
	LLMScanSec  int
}

// EffectiveIntervals resolves intervals from the scan_level preset when
// set, otherwise from the collector/detector/llm_agent sections.
func (c *Config) EffectiveIntervals() Intervals {
	level := strings.ToLower(strings.TrimSpace(c.ScanLevel))
	if level != "" {
		if p, ok := c.ScanFrequencies[level]; ok {
			return Intervals{
				HostSec:     p.HostIntervalSec,
				DockerSec:   p.DockerIntervalSec,
				DriftSec:    p.DriftIntervalSec,
				DetectorSec: p.DetectorIntervalSec,
				LLMScanSec:  p.LLMScanIntervalSec,
			}
		}
	}
	return Intervals{
		HostSec:     c.Collector.HostIntervalSec,
		DockerSec:   c.Collector.DockerIntervalSec,
		DriftSec:    c.Collector.DriftIntervalSec,
		DetectorSec: c.Detector.DetectorIntervalSec,
		LLMScanSec:  c.LLMAgent.RunIntervalSec,
	}
}

func boolPtr(v bool) *bool { return &v }

// Enabled resolves a tri-state enable flag, defaulting to true.
func Enabled(v *bool) bool {
	return v == nil || *v
}

// Default returns the built-in configuration tree. User YAML is merged on
// top of this by Load.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:    "opensecagent",
			Version: "0.1.0",
			DataDir: "/var/lib/opensecagent",
			LogDir:  "/var/log/opensecagent",
			RunDir:  "/run/opensecagent",
		},
		Environment:   "prod",
		ActionTierMax: 1,
		ScanFrequencies: map[string]Preset{
			"quick":    {HostIntervalSec: 600, DockerIntervalSec: 120, DriftIntervalSec: 600, DetectorIntervalSec: 120, LLMScanIntervalSec: 7200},
			"standard": {HostIntervalSec: 300, DockerIntervalSec: 60, DriftIntervalSec: 300, DetectorIntervalSec: 60, LLMScanIntervalSec: 3600},
			"deep":     {HostIntervalSec: 180, DockerIntervalSec: 45, DriftIntervalSec: 180, DetectorIntervalSec: 45, LLMScanIntervalSec: 1800},
		},
		Collector: CollectorConfig{
			HostIntervalSec:   300,
			DockerIntervalSec: 60,
			DriftIntervalSec:  300,
			CriticalFiles: []string{
				"/etc/passwd",
				"/etc/group",
				"/etc/sudoers",
				"/etc/ssh/sshd_config",
				"/etc/hosts",
				"/etc/crontab",
			},
		},
		Detector: DetectorConfig{
			DetectorIntervalSec:      60,
			AuthFailureThreshold:     5,
			AuthFailureWindowSec:     300,
			ResourceCPUPercent:       90,
			ResourceMemoryPercent:    90,
			NetworkMBPerSecThreshold: 100,
			NginxConfigPaths:         []string{"/etc/nginx/nginx.conf"},
			FirewallRequireActive:    boolPtr(true),
			NpmAuditPaths:            []string{"/var/www", "/opt", "/home"},
			NpmAuditMaxDepth:         4,
			PhpScanPaths:             []string{"/var/www", "/home"},
			PhpScanMaxDepth:          8,
			PhpScanMaxFiles:          500,
			PhpScanMaxBytes:          100 * 1024,
		},
		Notifications: NotificationsConfig{
			Provider: "smtp",
			SMTP: SMTPConfig{
				Port:   587,
				UseTLS: true,
				From:   "OpenSecAgent <noreply@localhost>",
			},
			ImmediateSeverities: []string{"P1", "P2"},
			Digest:              DigestConfig{Enabled: true, HourUTC: 8, Minute: 0},
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			MaxTokens:      1024,
			RedactPatterns: []string{"password", "secret", "token", "key", "credential"},
		},
		LLMAgent: LLMAgentConfig{
			RunOnIncident:      true,
			AgentMaxIterations: 10,
		},
		Audit: AuditConfig{
			File:       "/var/log/opensecagent/audit.jsonl",
			MaxSizeMB:  100,
			RetainDays: 90,
		},
		Activity: ActivityConfig{
			Enabled: true,
			File:    "/var/log/opensecagent/activity.jsonl",
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
	}
}

// Load reads the config file at path (or $OPENSECAGENT_CONFIG when path is
// empty) and merges it over Default. A missing file yields the defaults.
// A .env next to the working directory is loaded first so that YAML values
// like "${LLM_API_KEY}" style secrets can live outside the config file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env overlay")
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))
	// Unmarshalling onto the defaults struct gives a deep merge: absent
	// keys keep their default, nested maps merge, scalars override.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate returns human-readable problems with the configuration. Empty
// means valid. The daemon treats these as warnings; the validate command
// treats them as fatal.
func (c *Config) Validate() []string {
	var errs []string
	if c.Agent.DataDir == "" {
		errs = append(errs, "agent.data_dir is required")
	}
	if c.Agent.LogDir == "" {
		errs = append(errs, "agent.log_dir is required")
	}
	if c.ActionTierMax < 0 || c.ActionTierMax > 3 {
		errs = append(errs, "action_tier_max must be 0, 1, 2, or 3")
	}
	switch c.ScanLevel {
	case "", "quick", "standard", "deep":
	default:
		errs = append(errs, fmt.Sprintf("scan_level %q is not one of quick, standard, deep", c.ScanLevel))
	}
	switch c.Notifications.Provider {
	case "smtp", "resend":
	default:
		errs = append(errs, fmt.Sprintf("notifications.provider %q is not smtp or resend", c.Notifications.Provider))
	}
	if c.Notifications.Provider == "resend" && len(c.Notifications.AdminEmails) > 0 && c.Notifications.Resend.APIKey == "" {
		errs = append(errs, "notifications.resend.api_key is empty but resend is the selected provider")
	}
	for i, w := range c.MaintenanceWindows {
		if _, _, err := w.Parse(); err != nil {
			errs = append(errs, fmt.Sprintf("maintenance_windows[%d]: %v", i, err))
		}
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		errs = append(errs, "llm.enabled is true but llm.api_key is empty")
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not openai or anthropic", c.LLM.Provider))
	}
	if c.LLMAgent.Enabled && c.LLMAgent.AgentMaxIterations <= 0 {
		errs = append(errs, "llm_agent.agent_max_iterations must be positive")
	}
	return errs
}
