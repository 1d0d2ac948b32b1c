package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// MailSender はサインインリンクの配送インターフェース。
type MailSender interface {
	// SendSignInLink はリンクをtoへ送る。配送に失敗した場合はエラーを返す。
	SendSignInLink(ctx context.Context, to, link string, ttl time.Duration) error
}

// LogMailSender はリンクをログに出力するだけの開発用MailSender。
type LogMailSender struct {
	Logger *slog.Logger
}

var _ MailSender = (*LogMailSender)(nil)

// SendSignInLink はリンクをログに出力する。
func (s *LogMailSender) SendSignInLink(ctx context.Context, to, link string, ttl time.Duration) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "sign-in link issued",
		slog.String("to", to),
		slog.String("link", link),
		slog.Duration("ttl", ttl),
	)
	return nil
}

// SMTPConfig はSMTP配送の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailSender はSMTPでサインインリンクを送るMailSender。
type SMTPMailSender struct {
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ MailSender = (*SMTPMailSender)(nil)

// NewSMTPMailSender はSMTPMailSenderを生成する。
func NewSMTPMailSender(config SMTPConfig) *SMTPMailSender {
	return &SMTPMailSender{config: config, send: smtp.SendMail}
}

// SendSignInLink はリンクを記載したメールを送信する。
func (s *SMTPMailSender) SendSignInLink(ctx context.Context, to, link string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var a smtp.Auth
	if s.config.Username != "" {
		a = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if err := s.send(addr, a, s.config.From, []string{to}, buildMessage(s.config.From, to, link, ttl)); err != nil {
		return fmt.Errorf("failed to send sign-in link: %w", err)
	}
	return nil
}

func buildMessage(from, to, link string, ttl time.Duration) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: Your sign-in link\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString("Use the link below to sign in.\r\n\r\n")
	b.WriteString(link + "\r\n\r\n")
	fmt.Fprintf(&b, "This link expires in %d minutes and can be used once.\r\n", int(ttl.Minutes()))
	return []byte(b.String())
}
