package api

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"fingerflow/backend/internal/config"
)

// Mailer delivers outbound email. The console provider logs instead of
// sending, which is the development default.
type Mailer interface {
	Send(toEmail, subject, plainBody string) error
}

func NewMailer(cfg config.Config, logger *zap.Logger) Mailer {
	if cfg.EmailProvider == "smtp" {
		if m := newSMTPMailer(cfg); m != nil {
			return m
		}
		logger.Warn("smtp_mailer_incomplete_config", zap.String("fallback", "console"))
	}
	return &consoleMailer{logger: logger}
}

type consoleMailer struct {
	logger *zap.Logger
}

func (m *consoleMailer) Send(toEmail, subject, plainBody string) error {
	m.logger.Info("email_console_delivery",
		zap.String("to", toEmail),
		zap.String("subject", subject),
		zap.String("body", plainBody),
	)
	return nil
}

type smtpMailer struct {
	host     string
	port     string
	username string
	password string
	fromName string
	fromAddr string
}

func newSMTPMailer(cfg config.Config) *smtpMailer {
	host := strings.TrimSpace(cfg.SMTPHost)
	port := strings.TrimSpace(cfg.SMTPPort)
	username := strings.TrimSpace(cfg.SMTPUsername)
	password := strings.TrimSpace(cfg.SMTPPassword)
	fromAddr := strings.TrimSpace(cfg.FromEmail)
	fromName := strings.TrimSpace(cfg.FromName)

	if host == "" || port == "" || username == "" || password == "" || fromAddr == "" {
		return nil
	}
	return &smtpMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		fromName: fromName,
		fromAddr: fromAddr,
	}
}

func (m *smtpMailer) Send(toEmail, subject, plainBody string) error {
	toEmail = strings.TrimSpace(toEmail)
	if toEmail == "" {
		return fmt.Errorf("missing recipient")
	}

	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	addr := m.host + ":" + m.port
	fromHeader := m.fromAddr
	if m.fromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", m.fromName, m.fromAddr)
	}

	msg := strings.Join([]string{
		fmt.Sprintf("From: %s", fromHeader),
		fmt.Sprintf("To: %s", toEmail),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		plainBody,
	}, "\r\n")

	return smtp.SendMail(addr, auth, m.fromAddr, []string{toEmail}, []byte(msg))
}
