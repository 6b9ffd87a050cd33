package reporter

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

func resendConfig() config.NotificationsConfig {
	cfg := config.Default().Notifications
	cfg.Provider = "resend"
	cfg.AdminEmails = []string{"admin@example.com"}
	cfg.Resend.APIKey = "re_test_key"
	cfg.Resend.From = "OpenSecAgent <alerts@example.com>"
	return cfg
}

// resendCapture spins up a fake Resend API and returns the sender wired
// to it plus the captured payloads.
func resendCapture(t *testing.T, cfg config.NotificationsConfig, status int) (*EmailSender, *[]resendPayload, *http.Header) {
	t.Helper()
	var payloads []resendPayload
	var lastHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastHeader = r.Header.Clone()
		var p resendPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		payloads = append(payloads, p)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	sender := NewEmailSender(cfg)
	sender.resendURL = srv.URL
	return sender, &payloads, &lastHeader
}

func TestCanSend(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*config.NotificationsConfig)
		want bool
	}{
		{"resend configured", func(c *config.NotificationsConfig) {}, true},
		{"no recipients", func(c *config.NotificationsConfig) { c.AdminEmails = nil }, false},
		{"resend missing key", func(c *config.NotificationsConfig) { c.Resend.APIKey = "" }, false},
		{"resend missing from", func(c *config.NotificationsConfig) { c.Resend.From = "" }, false},
		{"smtp configured", func(c *config.NotificationsConfig) {
			c.Provider = "smtp"
			c.SMTP.Host = "mail.example.com"
		}, true},
		{"smtp missing host", func(c *config.NotificationsConfig) { c.Provider = "smtp" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := resendConfig()
			tc.mod(&cfg)
			assert.Equal(t, tc.want, NewEmailSender(cfg).CanSend())
		})
	}
}

func TestIncidentAlertViaResend(t *testing.T) {
	sender, payloads, header := resendCapture(t, resendConfig(), http.StatusOK)

	inc := &models.Incident{
		ID:                 "inc-aaa111bbb222",
		Severity:           models.SeverityP1,
		Title:              "New container started: miner (xmrig:latest)",
		Narrative:          "new_container event from detector.containers",
		CreatedAt:          time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		RecommendedActions: []string{"Confirm new container is expected; stop if not."},
		ActionsTaken:       []string{"Stopped container ccc333ddd444"},
		LLMSummary:         "A likely cryptominer container was started and has been stopped.",
	}
	sender.IncidentAlert(inc, []models.ActionSpec{
		{Action: models.ActionAlertOnly},
		{Action: models.ActionStopContainer},
	})

	require.Len(t, *payloads, 1)
	p := (*payloads)[0]
	assert.Equal(t, "[OpenSecAgent] P1: New container started: miner (xmrig:latest)", p.Subject)
	assert.Equal(t, []string{"admin@example.com"}, p.To)
	assert.Equal(t, "OpenSecAgent <alerts@example.com>", p.From)
	assert.Contains(t, p.Text, "Incident: inc-aaa111bbb222")
	assert.Contains(t, p.Text, "Severity: P1")
	assert.Contains(t, p.Text, "  - stop_container")
	assert.Contains(t, p.Text, "Executed:\n  - Stopped container ccc333ddd444")
	assert.Contains(t, p.Text, "Summary (LLM):")
	assert.Empty(t, p.Attachments)
	assert.Equal(t, "Bearer re_test_key", header.Get("Authorization"))
}

func TestIncidentAlertTruncatesSubject(t *testing.T) {
	sender, payloads, _ := resendCapture(t, resendConfig(), http.StatusOK)
	inc := &models.Incident{
		Severity: models.SeverityP2,
		Title:    strings.Repeat("x", 100),
	}
	sender.IncidentAlert(inc, nil)
	require.Len(t, *payloads, 1)
	assert.Equal(t, "[OpenSecAgent] P2: "+strings.Repeat("x", 60), (*payloads)[0].Subject)
}

func TestVulnerabilityAlertAttachesPDF(t *testing.T) {
	sender, payloads, _ := resendCapture(t, resendConfig(), http.StatusOK)
	pdf := []byte("%PDF-1.4 fake report body")

	sender.VulnerabilityAlert("Outdated OpenSSL", "CVE fixed upstream", "P2", "thr-aaa111bbb222", pdf)

	require.Len(t, *payloads, 1)
	p := (*payloads)[0]
	assert.Equal(t, "[OpenSecAgent] Vulnerability: Outdated OpenSSL", p.Subject)
	assert.Contains(t, p.Text, "Threat ID: thr-aaa111bbb222")
	require.Len(t, p.Attachments, 1)
	assert.Equal(t, "vulnerability_report.pdf", p.Attachments[0].Filename)
	decoded, err := base64.StdEncoding.DecodeString(p.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, pdf, decoded)
}

func TestVulnerabilityAlertDefaults(t *testing.T) {
	sender, payloads, _ := resendCapture(t, resendConfig(), http.StatusOK)
	sender.VulnerabilityAlert("", "", "", "thr-1", nil)

	require.Len(t, *payloads, 1)
	p := (*payloads)[0]
	assert.Equal(t, "[OpenSecAgent] Vulnerability: Vulnerability detected", p.Subject)
	assert.Contains(t, p.Text, "Severity: P2")
	assert.Contains(t, p.Text, "Description:\nN/A")
}

func TestResolutionNotification(t *testing.T) {
	sender, payloads, _ := resendCapture(t, resendConfig(), http.StatusOK)
	sender.ResolutionNotification("thr-1", "Miner container", "xmrig detected",
		[]string{"docker stop ccc333ddd444", "docker rm -f ccc333ddd444"})

	require.Len(t, *payloads, 1)
	p := (*payloads)[0]
	assert.Equal(t, "[OpenSecAgent] Resolved: Miner container", p.Subject)
	assert.Contains(t, p.Text, "Actions taken to resolve:\n  - docker stop ccc333ddd444\n  - docker rm -f ccc333ddd444")
}

func TestResendAPIErrorDoesNotPanic(t *testing.T) {
	sender, payloads, _ := resendCapture(t, resendConfig(), http.StatusUnauthorized)
	sender.DailyDigest([]digestEntry{{Severity: "P3", Title: "drift"}})
	assert.Len(t, *payloads, 1)
}

func TestSendSkippedWhenUnconfigured(t *testing.T) {
	cfg := resendConfig()
	cfg.AdminEmails = nil
	sender, payloads, _ := resendCapture(t, cfg, http.StatusOK)
	sender.IncidentAlert(&models.Incident{Severity: models.SeverityP1, Title: "x"}, nil)
	assert.Empty(t, *payloads)
}

func TestBuildMIMEMessagePlain(t *testing.T) {
	msg := string(buildMIMEMessage("OpenSecAgent <a@example.com>", []string{"b@example.com", "c@example.com"},
		"subject line", "body text", nil))
	assert.Contains(t, msg, "From: OpenSecAgent <a@example.com>\r\n")
	assert.Contains(t, msg, "To: b@example.com, c@example.com\r\n")
	assert.Contains(t, msg, "Subject: subject line\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n\r\nbody text")
	assert.NotContains(t, msg, "multipart")
}

func TestBuildMIMEMessageWithAttachment(t *testing.T) {
	content := []byte(strings.Repeat("pdf-bytes-", 20))
	msg := string(buildMIMEMessage("a@example.com", []string{"b@example.com"},
		"s", "body", &attachment{Name: "vulnerability_report.pdf", Content: content}))

	assert.Contains(t, msg, "Content-Type: multipart/mixed; boundary=opensecagent-boundary")
	assert.Contains(t, msg, `Content-Disposition: attachment; filename="vulnerability_report.pdf"`)
	assert.Contains(t, msg, "Content-Transfer-Encoding: base64")
	assert.Contains(t, msg, "--opensecagent-boundary--\r\n")

	// Base64 payload is wrapped at 76 characters.
	encoded := base64.StdEncoding.EncodeToString(content)
	assert.Contains(t, msg, encoded[:76]+"\r\n")
	assert.NotContains(t, msg, encoded)
}

func TestExtractAddress(t *testing.T) {
	assert.Equal(t, "a@example.com", extractAddress("OpenSecAgent <a@example.com>"))
	assert.Equal(t, "a@example.com", extractAddress("a@example.com"))
	assert.Equal(t, "bad <", extractAddress("bad <"))
}

func TestManagerImmediateAlertBySeverity(t *testing.T) {
	cfg := resendConfig()
	cfg.ImmediateSeverities = []string{"P1", "P2"}
	m := NewManager(cfg)
	sender, payloads, _ := resendCapture(t, cfg, http.StatusOK)
	m.sender = sender

	m.ReportIncident(&models.Incident{Severity: models.SeverityP1, Title: "p1"}, nil)
	m.ReportIncident(&models.Incident{Severity: models.SeverityP3, Title: "p3"}, nil)

	require.Len(t, *payloads, 1)
	assert.Contains(t, (*payloads)[0].Subject, "P1")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.pending, 2)
}

func TestManagerFlushDigest(t *testing.T) {
	cfg := resendConfig()
	m := NewManager(cfg)
	sender, payloads, _ := resendCapture(t, cfg, http.StatusOK)
	m.sender = sender

	// Nothing pending: no mail.
	m.flushDigest()
	assert.Empty(t, *payloads)

	m.pending = []digestEntry{
		{Severity: "P3", Title: "config_drift on /etc/ssh/sshd_config"},
		{Severity: "P2", Title: "auth_failures from 203.0.113.9"},
	}
	m.flushDigest()

	require.Len(t, *payloads, 1)
	p := (*payloads)[0]
	assert.Equal(t, "[OpenSecAgent] Daily security digest", p.Subject)
	assert.Contains(t, p.Text, "Incidents in last 24h: 2")
	assert.Contains(t, p.Text, "- [P3] config_drift on /etc/ssh/sshd_config")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.pending)
}
