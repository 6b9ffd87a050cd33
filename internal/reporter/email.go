package reporter

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const resendAPIURL = "https://api.resend.com/emails"

// attachment is an optional PDF attached to an email.
type attachment struct {
	Name    string
	Content []byte
}

// EmailSender delivers notifications via SMTP or the Resend HTTP API.
type EmailSender struct {
	cfg        config.NotificationsConfig
	from       string
	httpClient *http.Client
	resendURL  string
}

// NewEmailSender returns a sender for the configured provider.
func NewEmailSender(cfg config.NotificationsConfig) *EmailSender {
	from := cfg.SMTP.From
	if cfg.Provider == "resend" && cfg.Resend.From != "" {
		from = cfg.Resend.From
	}
	if from == "" {
		from = "OpenSecAgent <noreply@localhost>"
	}
	return &EmailSender{
		cfg:        cfg,
		from:       from,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		resendURL:  resendAPIURL,
	}
}

// CanSend reports whether enough configuration exists to deliver mail.
func (s *EmailSender) CanSend() bool {
	if len(s.cfg.AdminEmails) == 0 {
		return false
	}
	if s.cfg.Provider == "resend" {
		return s.cfg.Resend.APIKey != "" && s.cfg.Resend.From != ""
	}
	return s.cfg.SMTP.Host != ""
}

// IncidentAlert emails the incident to the admin list.
func (s *EmailSender) IncidentAlert(inc *models.Incident, allowedActions []models.ActionSpec) {
	if !s.CanSend() {
		return
	}
	subject := fmt.Sprintf("[OpenSecAgent] %s: %s", inc.Severity, clipText(inc.Title, 60))
	s.send(subject, formatIncidentBody(inc, allowedActions), nil)
}

// VulnerabilityAlert emails a scan finding, optionally with the PDF
// report attached.
func (s *EmailSender) VulnerabilityAlert(title, description, severity, threatID string, pdf []byte) {
	if !s.CanSend() {
		return
	}
	if title == "" {
		title = "Vulnerability detected"
	}
	if severity == "" {
		severity = "P2"
	}
	if description == "" {
		description = "N/A"
	}
	subject := fmt.Sprintf("[OpenSecAgent] Vulnerability: %s", clipText(title, 50))
	body := fmt.Sprintf(
		"OpenSecAgent has identified a potential vulnerability during scan.\n\n"+
			"Threat ID: %s\nSeverity: %s\nTitle: %s\n\nDescription:\n%s\n\n"+
			"A detailed report is attached (PDF). Please review and take action.\n",
		threatID, severity, title, description)
	var att *attachment
	if len(pdf) > 0 {
		att = &attachment{Name: "vulnerability_report.pdf", Content: pdf}
	}
	s.send(subject, body, att)
}

// ResolutionNotification emails the actions the agent took to resolve a
// threat.
func (s *EmailSender) ResolutionNotification(threatID, title, description string, actionsTaken []string) {
	if !s.CanSend() {
		return
	}
	subject := fmt.Sprintf("[OpenSecAgent] Resolved: %s", clipText(title, 50))
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"OpenSecAgent has resolved the following vulnerability.\n\n"+
			"Threat ID: %s\nTitle: %s\n\nDescription: %s\n\nActions taken to resolve:\n",
		threatID, title, clipText(description, 500))
	for _, a := range actionsTaken {
		fmt.Fprintf(&sb, "  - %s\n", a)
	}
	sb.WriteString("\nPlease verify the system state if needed.\n")
	s.send(subject, sb.String(), nil)
}

// DailyDigest emails the day's incident summaries.
func (s *EmailSender) DailyDigest(incidents []digestEntry) {
	if !s.CanSend() {
		return
	}
	var sb strings.Builder
	sb.WriteString("OpenSecAgent Daily Digest\n\n")
	fmt.Fprintf(&sb, "Incidents in last 24h: %d\n\n", len(incidents))
	for i, inc := range incidents {
		if i >= 20 {
			break
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", inc.Severity, inc.Title)
	}
	s.send("[OpenSecAgent] Daily security digest", sb.String(), nil)
}

func formatIncidentBody(inc *models.Incident, allowedActions []models.ActionSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Incident: %s\nSeverity: %s\nTitle: %s\nTime: %s\n\nNarrative:\n%s\n\nRecommended actions:\n",
		inc.ID, inc.Severity, inc.Title, inc.CreatedAt.UTC().Format(time.RFC3339), inc.Narrative)
	for _, a := range inc.RecommendedActions {
		fmt.Fprintf(&sb, "  - %s\n", a)
	}
	sb.WriteString("\nActions taken (policy):\n")
	for _, a := range allowedActions {
		fmt.Fprintf(&sb, "  - %s\n", a.Action)
	}
	if len(inc.ActionsTaken) > 0 {
		sb.WriteString("Executed:\n")
		for _, a := range inc.ActionsTaken {
			fmt.Fprintf(&sb, "  - %s\n", a)
		}
	}
	if inc.LLMSummary != "" {
		fmt.Fprintf(&sb, "\nSummary (LLM):\n%s", inc.LLMSummary)
	}
	return sb.String()
}

// send dispatches through the configured provider. Delivery failures are
// logged, never propagated: notification loss must not stall the
// pipeline.
func (s *EmailSender) send(subject, body string, att *attachment) {
	var err error
	if s.cfg.Provider == "resend" {
		err = s.sendResend(subject, body, att)
	} else {
		err = s.sendSMTP(subject, body, att)
	}
	if err != nil {
		log.Warn().Err(err).Str("provider", s.cfg.Provider).Str("subject", subject).Msg("Failed to send email")
		return
	}
	log.Info().Str("subject", subject).Int("recipients", len(s.cfg.AdminEmails)).Msg("Email sent")
}

func (s *EmailSender) sendSMTP(subject, body string, att *attachment) error {
	smtpCfg := s.cfg.SMTP
	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	if smtpCfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: smtpCfg.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if smtpCfg.User != "" && smtpCfg.Password != "" {
		auth := smtp.PlainAuth("", smtpCfg.User, smtpCfg.Password, smtpCfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractAddress(s.from)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range s.cfg.AdminEmails {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMIMEMessage(s.from, s.cfg.AdminEmails, subject, body, att)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return client.Quit()
}

// buildMIMEMessage assembles a plain text message, multipart when an
// attachment is present.
func buildMIMEMessage(from string, to []string, subject, body string, att *attachment) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")

	if att == nil {
		msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		msg.WriteString(body)
		return msg.Bytes()
	}

	boundary := "opensecagent-boundary"
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, body)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: application/pdf\r\nContent-Transfer-Encoding: base64\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Disposition: attachment; filename=%q\r\n\r\n", att.Name)
	encoded := base64.StdEncoding.EncodeToString(att.Content)
	for len(encoded) > 76 {
		msg.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	msg.WriteString(encoded + "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type resendPayload struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	Text        string             `json:"text"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

type resendAttachment struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

func (s *EmailSender) sendResend(subject, body string, att *attachment) error {
	payload := resendPayload{
		From:    s.from,
		To:      s.cfg.AdminEmails,
		Subject: subject,
		Text:    body,
	}
	if att != nil {
		payload.Attachments = []resendAttachment{{
			Content:  base64.StdEncoding.EncodeToString(att.Content),
			Filename: att.Name,
		}}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequest("POST", s.resendURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Resend.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("resend API error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// extractAddress pulls the bare address out of "Name <addr>" forms.
func extractAddress(from string) string {
	if start := strings.Index(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			return from[start+1 : start+end]
		}
	}
	return from
}

func clipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
