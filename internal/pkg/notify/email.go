package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"callcrm/internal/config"
	"callcrm/internal/model"
	"callcrm/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

const subjectPrefix = "[CallCRM]"

// EmailNotifier 通过 SMTP 发送通知邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = n.dialAndSend
	return n
}

// Configured 判断 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n.cfg != nil && n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// LeadTransferred 给接收线索的 CRO 坐席发送提醒。
func (n *EmailNotifier) LeadTransferred(ctx context.Context, lead *model.Lead, from *model.User, to *model.User) error {
	subject := fmt.Sprintf("%s New lead %s transferred to you", subjectPrefix, lead.ProfileID)
	body := leadTransferBody(lead, from, to)
	return n.deliver(ctx, "lead_transferred", to.Email, subject, body)
}

// PasswordReset 告知用户密码已被修改。
func (n *EmailNotifier) PasswordReset(ctx context.Context, user *model.User) error {
	subject := subjectPrefix + " Your password was reset"
	body := passwordResetBody(user)
	return n.deliver(ctx, "password_reset", user.Email, subject, body)
}

func (n *EmailNotifier) deliver(ctx context.Context, kind, toEmail, subject, body string) error {
	if !n.Configured() {
		n.logger.Warn("email config missing, skip notification", slog.String("kind", kind))
		metrics.NotificationsTotal.WithLabelValues(kind, "skipped").Inc()
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification", slog.String("kind", kind))
		metrics.NotificationsTotal.WithLabelValues(kind, "skipped").Inc()
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := n.send(m); err != nil {
		metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("send email: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	n.logger.Info("email notification sent", slog.String("kind", kind), slog.String("to", toEmail))
	return nil
}

func (n *EmailNotifier) dialAndSend(m *gomail.Message) error {
	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	return d.DialAndSend(m)
}

func leadTransferBody(lead *model.Lead, from *model.User, to *model.User) string {
	const tpl = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <div style="max-width: 560px; margin: 0 auto; padding: 16px;">
    <h2>New lead assigned</h2>
    <p>Hi %s,</p>
    <p>%s transferred lead <strong>%s</strong> to you.</p>
    <table style="border-collapse: collapse;">
      <tr><td style="padding: 4px 12px 4px 0;">Customer</td><td>%s</td></tr>
      <tr><td style="padding: 4px 12px 4px 0;">Number</td><td>%s</td></tr>
      <tr><td style="padding: 4px 12px 4px 0;">Notes</td><td>%s</td></tr>
    </table>
  </div>
</body>
</html>`
	return fmt.Sprintf(tpl,
		html.EscapeString(to.Name),
		html.EscapeString(from.Name),
		html.EscapeString(lead.ProfileID),
		html.EscapeString(lead.CustomerName),
		html.EscapeString(lead.CustomerNumber),
		html.EscapeString(lead.Description))
}

func passwordResetBody(user *model.User) string {
	const tpl = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Password reset</h2>
    <p>Hi %s, the password for %s was just reset.</p>
    <p>If this wasn't you, contact your administrator.</p>
  </div>
</body>
</html>`
	return fmt.Sprintf(tpl, html.EscapeString(user.Name), html.EscapeString(user.Email))
}
