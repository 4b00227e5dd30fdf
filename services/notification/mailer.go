package notification

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"seekcap-controlplane/pkg/config"

	"go.uber.org/zap"
)

type Mailer interface {
	Send(email Email) error
}

type smtpMailer struct {
	host     string
	port     int
	username string
	password string
	sender   string
}

func NewSMTPMailer(cfg *config.Config) Mailer {
	sender := cfg.SMTP.Sender
	if sender == "" {
		sender = "no-reply@localhost"
		zap.L().Warn("SMTP.SENDER not set, using default sender", zap.String("sender", sender))
	}

	return &smtpMailer{
		host:     cfg.SMTP.Host,
		port:     cfg.SMTP.Port,
		username: cfg.SMTP.Username,
		password: cfg.SMTP.Password,
		sender:   sender,
	}
}

func (m *smtpMailer) Send(email Email) error {
	if m.host == "" {
		return fmt.Errorf("smtp host is not configured")
	}

	var auth smtp.Auth
	if m.username != "" && m.password != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(fmt.Sprintf("%s:%d", m.host, m.port), auth, m.sender, []string{email.To}, buildMessage(m.sender, email))
}

func buildMessage(sender string, email Email) []byte {
	contentType := "text/plain"
	body := email.TextBody
	if email.HTMLBody != "" {
		contentType = "text/html"
		body = email.HTMLBody
	}

	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n",
			headerValue(sender), headerValue(email.To), mime.QEncoding.Encode("utf-8", headerValue(email.Subject))) +
			"MIME-Version: 1.0\r\n" +
			fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n\r\n", contentType) +
			body,
	)
}

// headerValue folds CR and LF into spaces so a value cannot start a new
// header line.
func headerValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}
