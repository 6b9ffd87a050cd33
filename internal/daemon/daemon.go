// Package daemon wires the collectors, detectors, policy, responder, and
// reporters into the long-running agent process.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/DulanDias/opensecagent/internal/agent"
	"github.com/DulanDias/opensecagent/internal/ai/providers"
	"github.com/DulanDias/opensecagent/internal/audit"
	"github.com/DulanDias/opensecagent/internal/collector"
	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/detector"
	"github.com/DulanDias/opensecagent/internal/models"
	"github.com/DulanDias/opensecagent/internal/policy"
	"github.com/DulanDias/opensecagent/internal/reporter"
	"github.com/DulanDias/opensecagent/internal/responder"
	"github.com/DulanDias/opensecagent/internal/threats"
	"github.com/DulanDias/opensecagent/pkg/reporting"
)

const (
	eventQueueSize     = 1024
	collectorTickStep  = 30 * time.Second
	threatContextLimit = 15
)

// Daemon is the orchestrator. One instance runs per process.
type Daemon struct {
	cfg       *config.Config
	intervals config.Intervals

	auditLog  *audit.Audit
	activity  *audit.Activity
	policyEng *policy.Engine
	resp      *responder.Responder
	reports   *reporter.Manager
	detectors *detector.Manager
	hostColl  *collector.Host
	dockerCol *collector.Docker
	drift     *collector.Drift
	registry  *threats.Registry
	advisor   *agent.Advisor
	llmAgent  *agent.Agent
	pdfGen    *reporting.PDFGenerator

	queue chan models.Event

	mu            sync.Mutex
	lastHostInv   collector.HostInventory
	lastDockerInv collector.DockerInventory
}

// New builds a daemon from the configuration. A missing or misconfigured
// LLM provider disables the advisor and agent but never blocks startup.
func New(cfg *config.Config) *Daemon {
	auditLog := audit.NewAudit(cfg.Audit.File)
	activity := audit.NewActivity(cfg.Activity.File, cfg.Activity.Enabled)

	var provider providers.Provider
	if cfg.LLM.Enabled {
		p, err := providers.NewFromConfig(cfg.LLM)
		if err != nil {
			log.Warn().Err(err).Msg("LLM provider unavailable, advisor and agent disabled")
		} else {
			provider = p
		}
	}

	d := &Daemon{
		cfg:       cfg,
		intervals: cfg.EffectiveIntervals(),
		auditLog:  auditLog,
		activity:  activity,
		policyEng: policy.New(cfg.ActionTierMax, cfg.MaintenanceWindows),
		resp:      responder.New(auditLog, activity),
		reports:   reporter.NewManager(cfg.Notifications),
		detectors: detector.NewManager(cfg.Detector, activity),
		hostColl:  collector.NewHost(),
		dockerCol: collector.NewDocker(),
		drift:     collector.NewDrift(cfg.Agent.DataDir, cfg.Collector.CriticalFiles),
		registry:  threats.New(cfg.Agent.DataDir),
		advisor:   agent.NewAdvisor(provider, cfg.LLM, activity),
		pdfGen:    reporting.NewPDFGenerator(),
		queue:     make(chan models.Event, eventQueueSize),
	}
	if provider != nil && (cfg.LLMAgent.Enabled || cfg.LLM.Enabled) {
		d.llmAgent = agent.New(provider, cfg.LLM, cfg.LLMAgent, cfg.Execution.RunAs, activity)
	}
	return d
}

// Run starts the sinks and scheduler tasks and blocks until ctx is
// cancelled. Sinks are stopped in reverse start order on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	log.Info().Str("scan_level", d.cfg.ScanLevel).Msg("OpenSecAgent daemon starting")
	if err := d.auditLog.Start(); err != nil {
		return fmt.Errorf("start audit sink: %w", err)
	}
	if err := d.activity.Start(); err != nil {
		d.auditLog.Stop()
		return fmt.Errorf("start activity sink: %w", err)
	}
	d.reports.Start(ctx)

	g, taskCtx := errgroup.WithContext(ctx)
	g.Go(func() error { d.runCollectors(taskCtx); return nil })
	g.Go(func() error { d.runDrift(taskCtx); return nil })
	g.Go(func() error { d.runDetectors(taskCtx); return nil })
	g.Go(func() error { d.runEventProcessor(taskCtx); return nil })
	if d.intervals.LLMScanSec > 0 && d.llmAgent != nil && d.cfg.LLMAgent.Enabled {
		g.Go(func() error { d.runPeriodicAgent(taskCtx); return nil })
	}
	err := g.Wait()

	d.reports.Stop()
	d.activity.Stop()
	d.auditLog.Stop()
	log.Info().Msg("OpenSecAgent daemon stopped")
	return err
}

// runCollectors drives the host and docker inventory cycles off one loop
// with independent countdown timers.
func (d *Daemon) runCollectors(ctx context.Context) {
	hostIval := time.Duration(d.intervals.HostSec) * time.Second
	dockerIval := time.Duration(d.intervals.DockerSec) * time.Second
	var hostT, dockerT time.Duration
	for {
		if hostT <= 0 {
			hostT = hostIval
			d.collectHost(ctx)
		}
		if dockerT <= 0 {
			dockerT = dockerIval
			d.collectDocker(ctx)
		}
		step := minDuration(collectorTickStep, hostT, dockerT)
		if step < time.Second {
			step = time.Second
		}
		if !sleepCtx(ctx, step) {
			return
		}
		hostT -= step
		dockerT -= step
	}
}

func (d *Daemon) collectHost(ctx context.Context) {
	start := time.Now()
	startedAt := start.UTC().Format(time.RFC3339)
	inv, warnings := d.hostColl.Collect(ctx)
	for _, w := range warnings {
		log.Warn().Str("collector", "host").Msg(w)
	}
	d.mu.Lock()
	d.lastHostInv = inv
	d.mu.Unlock()

	summary := fmt.Sprintf("hostname=%s packages=%d ports=%d",
		inv.Hostname, len(inv.Packages), len(inv.ListeningPorts))
	d.activity.LogCollectorRun("host", startedAt, time.Since(start), summary, "")
	d.enqueue(ctx, collector.NormalizeHostInventory(inv))
}

func (d *Daemon) collectDocker(ctx context.Context) {
	start := time.Now()
	startedAt := start.UTC().Format(time.RFC3339)
	inv := d.dockerCol.Collect(ctx)
	d.mu.Lock()
	d.lastDockerInv = inv
	d.mu.Unlock()

	summary := fmt.Sprintf("containers=%d images=%d", len(inv.Containers), len(inv.Images))
	d.activity.LogCollectorRun("docker", startedAt, time.Since(start), summary, "")
	if ev, ok := collector.NormalizeDockerInventory(inv); ok {
		d.enqueue(ctx, ev)
	}
}

func (d *Daemon) runDrift(ctx context.Context) {
	ival := time.Duration(d.intervals.DriftSec) * time.Second
	for {
		start := time.Now()
		startedAt := start.UTC().Format(time.RFC3339)
		events, err := d.drift.Check(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Drift monitor error")
			d.activity.LogCollectorRun("drift", startedAt, time.Since(start), "", err.Error())
		} else {
			d.activity.LogCollectorRun("drift", startedAt, time.Since(start),
				fmt.Sprintf("events=%d", len(events)), "")
			for _, ev := range events {
				d.enqueue(ctx, ev)
			}
		}
		if !sleepCtx(ctx, ival) {
			return
		}
	}
}

func (d *Daemon) runDetectors(ctx context.Context) {
	ival := time.Duration(d.intervals.DetectorSec) * time.Second
	for {
		for _, ev := range d.detectors.RunDetectors(ctx) {
			d.enqueue(ctx, ev)
		}
		if !sleepCtx(ctx, ival) {
			return
		}
	}
}

func (d *Daemon) runEventProcessor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.processEvent(ctx, ev)
		}
	}
}

// processEvent routes inventory events into diff detection and promotes
// everything else toward an incident.
func (d *Daemon) processEvent(ctx context.Context, ev models.Event) {
	switch ev.Type {
	case models.EventHostInventory:
		if inv, ok := ev.Raw["inventory"].(collector.HostInventory); ok {
			for _, diffEv := range d.detectors.IngestHostInventory(inv) {
				d.handleEvent(ctx, diffEv)
			}
		}
		return
	case models.EventDockerInventory:
		if inv, ok := ev.Raw["inventory"].(collector.DockerInventory); ok {
			for _, diffEv := range d.detectors.IngestDockerInventory(inv) {
				d.handleEvent(ctx, diffEv)
			}
		}
		return
	}
	d.handleEvent(ctx, ev)
}

// handleEvent runs the classify, summarize, audit, policy, respond,
// report, and agent-resolve pipeline for one event.
func (d *Daemon) handleEvent(ctx context.Context, ev models.Event) {
	inc := d.detectors.Classify(ev)
	if inc == nil {
		return
	}
	inc.LLMSummary = d.advisor.SummarizeIncident(ctx, inc)
	d.auditLog.LogIncident(inc)

	decision := d.policyEng.AllowedActions(inc, time.Now().UTC())
	names := make([]string, 0, len(decision.Actions))
	for _, a := range decision.Actions {
		names = append(names, a.Action)
	}
	d.activity.LogPolicyDecision(inc.ID, string(inc.Severity), names, decision.Reason)

	d.resp.Apply(ctx, inc, decision.Actions)
	d.reports.ReportIncident(inc, decision.Actions)

	d.maybeResolveWithAgent(ctx, inc)
}

// maybeResolveWithAgent runs the agent in resolve mode for high-severity
// incidents. The threat is stored before the loop so a crash mid-run
// still leaves a record.
func (d *Daemon) maybeResolveWithAgent(ctx context.Context, inc *models.Incident) {
	if d.llmAgent == nil || !d.cfg.LLMAgent.Enabled || !d.cfg.LLMAgent.RunOnIncident {
		return
	}
	if inc.Severity != models.SeverityP1 && inc.Severity != models.SeverityP2 {
		return
	}

	threatID, err := d.registry.Store(inc.Title, inc.Narrative, inc.Severity, inc.EvidenceSummary, nil)
	if err != nil {
		log.Error().Err(err).Str("incident_id", inc.ID).Msg("Threat store failed")
		return
	}

	hostInv, dockerInv := d.snapshots()
	sysContext := map[string]any{
		"host":   hostInv,
		"docker": dockerInv,
		"incident": map[string]any{
			"title":     inc.Title,
			"narrative": inc.Narrative,
			"severity":  inc.Severity,
		},
	}
	result := d.llmAgent.Run(ctx, agent.ModeResolve, sysContext, inc,
		d.registry.ContextForPrompt(threatContextLimit))

	inc.LLMSummary = inc.LLMSummary + fmt.Sprintf("\n[Agent] %s", result.Summary)
	if len(result.ActionsTaken) == 0 {
		return
	}
	if err := d.registry.MarkResolved(threatID, result.ActionsTaken); err != nil {
		log.Error().Err(err).Str("threat_id", threatID).Msg("Threat resolve update failed")
	}
	d.reports.SendResolutionNotification(threatID, inc.Title, inc.Narrative, result.ActionsTaken)
}

// runPeriodicAgent runs the scan-mode agent on its own schedule. A
// finding is stored, rendered to PDF, and alerted.
func (d *Daemon) runPeriodicAgent(ctx context.Context) {
	ival := time.Duration(d.intervals.LLMScanSec) * time.Second
	for {
		if !sleepCtx(ctx, ival) {
			return
		}
		d.runScan(ctx)
	}
}

func (d *Daemon) runScan(ctx context.Context) {
	hostInv, dockerInv := d.snapshots()
	sysContext := map[string]any{"host": hostInv, "docker": dockerInv}
	result := d.llmAgent.Run(ctx, agent.ModeScan, sysContext, nil,
		d.registry.ContextForPrompt(threatContextLimit))
	if result.Finding == nil {
		return
	}
	finding := result.Finding
	severity := models.SeverityFromString(finding.Severity)
	threatID, err := d.registry.Store(finding.Title, finding.Description, severity, nil, nil)
	if err != nil {
		log.Error().Err(err).Msg("Threat store failed for scan finding")
		return
	}
	log.Info().Str("threat_id", threatID).Str("title", finding.Title).Msg("Scan finding stored")

	pdf, err := d.pdfGen.Generate(reporting.Finding{
		Title:       finding.Title,
		Description: finding.Description,
		Severity:    string(severity),
	}, threatID, &reporting.HostContext{
		Hostname:  hostInv.Hostname,
		OS:        hostInv.OS,
		OSRelease: hostInv.OSRelease,
	})
	if err != nil {
		log.Error().Err(err).Str("threat_id", threatID).Msg("PDF generation failed")
	} else {
		d.writeReport(threatID, pdf)
	}
	d.reports.SendVulnerabilityAlert(finding.Title, finding.Description, string(severity), threatID, pdf)
}

// writeReport persists the PDF under <data_dir>/reports for later review.
func (d *Daemon) writeReport(threatID string, pdf []byte) {
	dir := filepath.Join(d.cfg.Agent.DataDir, "reports")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.Error().Err(err).Msg("Reports dir create failed")
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("vuln-%s.pdf", threatID))
	if err := os.WriteFile(path, pdf, 0o640); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Report write failed")
	}
}

func (d *Daemon) snapshots() (collector.HostInventory, collector.DockerInventory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHostInv, d.lastDockerInv
}

// enqueue delivers the event to the processor, waiting when the queue is
// full so producers back off instead of losing events. Cancellation is
// the only way an event is not delivered.
func (d *Daemon) enqueue(ctx context.Context, ev models.Event) {
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		log.Debug().Str("event_type", ev.Type).Msg("Shutdown before event was queued")
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(dur):
		return true
	}
}

func minDuration(values ...time.Duration) time.Duration {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
