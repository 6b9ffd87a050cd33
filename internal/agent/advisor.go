package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/ai/providers"
	"github.com/DulanDias/opensecagent/internal/audit"
	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

// Advisor produces short human-readable incident summaries. Everything
// sent to the model is redacted first.
type Advisor struct {
	provider providers.Provider
	llmCfg   config.LLMConfig
	activity *audit.Activity
}

// NewAdvisor returns an advisor. A nil provider disables it.
func NewAdvisor(provider providers.Provider, llmCfg config.LLMConfig, activity *audit.Activity) *Advisor {
	return &Advisor{provider: provider, llmCfg: llmCfg, activity: activity}
}

// SummarizeIncident asks the model for a 2-3 sentence administrator
// summary. Failures return an empty string; a missing summary never
// blocks the pipeline.
func (a *Advisor) SummarizeIncident(ctx context.Context, inc *models.Incident) string {
	if a.provider == nil {
		return ""
	}
	prompt := fmt.Sprintf(
		"You are a defensive security assistant. Summarize this security incident in 2-3 clear sentences "+
			"for a system administrator. Do NOT suggest exploits or offensive actions. Only defensive remediation.\n\n"+
			"Title: %s\nNarrative: %s\nEvidence (sanitized): %v",
		inc.Title,
		Redact(inc.Narrative, a.llmCfg.RedactPatterns),
		RedactMap(inc.EvidenceSummary, a.llmCfg.RedactPatterns),
	)

	start := time.Now()
	resp, err := a.provider.Chat(ctx, providers.ChatRequest{
		Messages:  []providers.Message{{Role: "user", Content: prompt}},
		MaxTokens: a.llmCfg.MaxTokens,
	})
	if err != nil {
		log.Warn().Err(err).Str("incident_id", inc.ID).Msg("LLM summarize failed")
		a.activity.LogLLMCall("summarize_incident", 0, 0, time.Since(start), false, err.Error())
		return ""
	}
	a.activity.LogLLMCall("summarize_incident", resp.PromptTokens, resp.CompletionTokens, time.Since(start), true, "")
	return resp.Content
}
