package email

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Sender delivers plain text mail.
type Sender interface {
	SendText(to, subject, body string) error
}

type SMTPSender struct {
	Cfg SMTPConfig
}

func (s SMTPSender) SendText(to, subject, body string) error {
	return SendText(s.Cfg, to, subject, body)
}

func SendText(cfg SMTPConfig, to, subject, body string) error {
	if cfg.Host == "" {
		return errors.New("smtp: host not configured")
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("smtp: invalid header value")
	}

	msg := "From: " + cfg.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" + body

	var a smtp.Auth
	if cfg.User != "" {
		a = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return smtp.SendMail(addr, a, cfg.From, []string{to}, []byte(msg))
}
