// -----------------------------------------------------------------------
// Mailer - SMTP delivery of completion notifications
// -----------------------------------------------------------------------

package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/models"
)

// Mailer sends completion summaries over SMTP. Implements the Notifier
// interface; callers decide which completions warrant an email.
type Mailer struct {
	cfg    *common.NotifyConfig
	logger arbor.ILogger
}

// NewMailer creates an SMTP mailer from config.
func NewMailer(cfg *common.NotifyConfig, logger arbor.ILogger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger}
}

// IsConfigured reports whether SMTP has the minimum required settings.
func (m *Mailer) IsConfigured() bool {
	return m.cfg.SMTPHost != "" && m.cfg.From != ""
}

// NotifyCompletion emails the customer a summary of their finished entry.
func (m *Mailer) NotifyCompletion(ctx context.Context, event models.CompletionEvent) error {
	if !m.IsConfigured() {
		return fmt.Errorf("SMTP not configured")
	}
	if event.CustomerEmail == "" {
		return fmt.Errorf("entry %s has no customer email", event.EntryID)
	}

	subject := fmt.Sprintf("Directory submissions %s", strings.ReplaceAll(string(event.FinalStatus), "_", " "))
	body := m.buildBody(event)

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", m.cfg.FromName, m.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", event.CustomerEmail))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	}

	if err := m.sendWithSTARTTLS(addr, auth, event.CustomerEmail, msg.String()); err != nil {
		return fmt.Errorf("failed to send completion email: %w", err)
	}

	m.logger.Info().
		Str("entry_id", event.EntryID).
		Str("to", event.CustomerEmail).
		Msg("Completion email sent")
	return nil
}

func (m *Mailer) buildBody(event models.CompletionEvent) string {
	var b strings.Builder
	b.WriteString("Your directory submission batch has finished.\r\n\r\n")
	b.WriteString(fmt.Sprintf("Reference:  %s\r\n", event.EntryID))
	b.WriteString(fmt.Sprintf("Status:     %s\r\n", event.FinalStatus))
	b.WriteString(fmt.Sprintf("Succeeded:  %d\r\n", event.Succeeded))
	b.WriteString(fmt.Sprintf("Failed:     %d\r\n", event.Failed))
	b.WriteString(fmt.Sprintf("Skipped:    %d\r\n", event.Skipped))
	if event.TotalDurationSeconds > 0 {
		b.WriteString(fmt.Sprintf("Duration:   %.0f seconds\r\n", event.TotalDurationSeconds))
	}
	return b.String()
}

// sendWithSTARTTLS connects plain and upgrades to TLS before
// authenticating. Falls back to unencrypted delivery only when the server
// offers no STARTTLS, which keeps local mailcatchers working in dev.
func (m *Mailer) sendWithSTARTTLS(addr string, auth smtp.Auth, to, msg string) error {
	host := strings.Split(addr, ":")[0]

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}
