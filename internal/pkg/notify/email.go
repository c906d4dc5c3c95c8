package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"blogapi/internal/config"
	"blogapi/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender 通过 SMTP 发送邮件。
type EmailSender struct {
	cfg    *config.EmailConfig
	dialer mailDialer
	logger *slog.Logger
}

// NewEmailSender 创建 SMTP 发送器。
func NewEmailSender(cfg *config.EmailConfig, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		logger: logger,
	}
}

// Configured 判断 SMTP 配置是否完整。
func (n *EmailSender) Configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// Send 发送邮件。SMTP 未配置时记录警告并跳过。
func (n *EmailSender) Send(ctx context.Context, m Mail) error {
	if !n.Configured() {
		n.logger.Warn("email config missing, skip mail", slog.String("kind", m.Kind))
		metrics.MailSentTotal.WithLabelValues(m.Kind, "skipped").Inc()
		return nil
	}
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", n.cfg.FromEmail)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/html", m.HTML)

	if err := n.dialer.DialAndSend(msg); err != nil {
		metrics.MailSentTotal.WithLabelValues(m.Kind, "failure").Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.MailSentTotal.WithLabelValues(m.Kind, "success").Inc()
	n.logger.Info("email sent", slog.String("to", m.To), slog.String("kind", m.Kind))
	return nil
}
