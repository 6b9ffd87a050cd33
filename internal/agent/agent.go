package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/ai/providers"
	"github.com/DulanDias/opensecagent/internal/audit"
	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const (
	maxContextBytes   = 8000
	stdoutFeedback    = 1500
	stderrFeedback    = 500
	commandRunTimeout = 120 * time.Second
)

// Result summarizes one agent run.
type Result struct {
	Iterations       int
	CommandsExecuted int
	Summary          string
	Finding          *Finding
	ActionsTaken     []string
}

// Agent drives the bounded suggest-execute-feedback loop. The model only
// ever proposes commands; IsCommandAllowed decides what runs.
type Agent struct {
	provider      providers.Provider
	llmCfg        config.LLMConfig
	maxIterations int
	runAs         string
	activity      *audit.Activity
}

// New returns an agent. provider may not be nil.
func New(provider providers.Provider, llmCfg config.LLMConfig, agentCfg config.LLMAgentConfig, runAs string, activity *audit.Activity) *Agent {
	maxIter := agentCfg.AgentMaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	return &Agent{
		provider:      provider,
		llmCfg:        llmCfg,
		maxIterations: maxIter,
		runAs:         runAs,
		activity:      activity,
	}
}

// Run executes the loop in the given mode ("scan" or "resolve").
// threatContext carries prior resolved threats into the system prompt.
func (a *Agent) Run(ctx context.Context, mode string, systemContext map[string]any, incident *models.Incident, threatContext string) *Result {
	systemPrompt := SystemPrompt(mode, threatContext)
	model := a.llmCfg.ScanModel()
	if mode == ModeResolve {
		model = a.llmCfg.ResolveModel()
	}

	messages := []providers.Message{{Role: "user", Content: a.buildUserContext(mode, systemContext, incident)}}

	result := &Result{}
	var finding *Finding
	for result.Iterations < a.maxIterations {
		if ctx.Err() != nil {
			break
		}
		result.Iterations++

		start := time.Now()
		resp, err := a.provider.Chat(ctx, providers.ChatRequest{
			Model:     model,
			System:    systemPrompt,
			Messages:  messages,
			MaxTokens: a.maxTokens(),
		})
		if err != nil {
			log.Warn().Err(err).Str("mode", mode).Msg("Agent LLM call failed")
			a.activity.LogLLMCall("agent_loop", 0, 0, time.Since(start), false, err.Error())
			break
		}
		a.activity.LogLLMCall("agent_loop", resp.PromptTokens, resp.CompletionTokens, time.Since(start), true, "")

		reply := ParseReply(resp.Content)
		if reply.Finding != nil {
			finding = reply.Finding
		}

		executed := 0
		var results []string
		for _, c := range reply.Commands {
			cmd := strings.TrimSpace(c.Cmd)
			if cmd == "" || !IsCommandAllowed(cmd) {
				if cmd != "" {
					log.Debug().Str("command", cmd).Msg("Agent command refused by whitelist")
				}
				continue
			}
			run := a.execute(ctx, cmd)
			executed++
			result.CommandsExecuted++
			result.ActionsTaken = append(result.ActionsTaken, cmd)
			results = append(results, fmt.Sprintf("Command: %s\nExit: %d\nStdout: %s\nStderr: %s",
				cmd, run.exitCode, clip(run.stdout, stdoutFeedback), clip(run.stderr, stderrFeedback)))
		}
		if executed > 0 {
			messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})
			for _, r := range results {
				messages = append(messages, providers.Message{Role: "user", Content: r})
			}
		}

		a.activity.LogAgentIteration(result.Iterations, len(reply.Commands), executed, reply.Done,
			fmt.Sprintf("Executed %d commands", executed))

		if reply.Done || executed == 0 {
			break
		}
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: "Based on the command outputs above, suggest next commands or set done: true. Return JSON only.",
		})
	}

	result.Summary = fmt.Sprintf("Agent completed %d iterations, executed %d commands",
		result.Iterations, result.CommandsExecuted)
	result.Finding = finding
	return result
}

func (a *Agent) buildUserContext(mode string, systemContext map[string]any, incident *models.Incident) string {
	blob, err := json.MarshalIndent(systemContext, "", "  ")
	if err != nil {
		blob = []byte("{}")
	}
	if len(blob) > maxContextBytes {
		blob = blob[:maxContextBytes]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "System context:\n%s\n", Redact(string(blob), a.llmCfg.RedactPatterns))
	if incident != nil {
		fmt.Fprintf(&sb, "\nIncident to address: %s\n%s\n",
			incident.Title, Redact(incident.Narrative, a.llmCfg.RedactPatterns))
	}
	if mode == ModeScan {
		sb.WriteString("\nSuggest commands to SCAN only. Return JSON. If you identify a vulnerability, set vulnerability_found: true and include finding.")
	} else {
		sb.WriteString("\nSuggest commands to RESOLVE the issue. Return JSON only.")
	}
	return sb.String()
}

func (a *Agent) maxTokens() int {
	if a.llmCfg.MaxTokens > 0 {
		return a.llmCfg.MaxTokens
	}
	return 2048
}

type commandRun struct {
	exitCode int
	stdout   string
	stderr   string
}

// execute runs one whitelisted command through the shell, optionally
// wrapped in sudo -u for the configured run_as user.
func (a *Agent) execute(ctx context.Context, cmd string) commandRun {
	runCmd := cmd
	if a.runAs != "" {
		runCmd = fmt.Sprintf("sudo -u %s %s", a.runAs, cmd)
	}
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, commandRunTimeout)
	defer cancel()
	proc := exec.CommandContext(execCtx, "sh", "-c", runCmd)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	run := commandRun{}
	if err := proc.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			run.exitCode = exitErr.ExitCode()
		} else {
			run.exitCode = -1
			fmt.Fprintf(&stderr, "%v", err)
		}
	}
	run.stdout = stdout.String()
	run.stderr = stderr.String()

	a.activity.LogCommandExecution(cmd, run.exitCode, run.stdout, run.stderr, time.Since(start), "llm_agent")
	return run
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
