package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"
	"path/filepath"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/citizenspring/website/internal/metrics"
)

// Message is a rendered outbound email ready for transport.
type Message struct {
	From    string
	To      []string
	Cc      []string
	ReplyTo string
	Subject string
	HTML    string
	Headers map[string]string
}

// Sender delivers rendered messages. SMTPSender is the production
// implementation; tests substitute a recording fake.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPConfig carries the transport settings for SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	UseTLS   bool
}

// SMTPSender delivers messages over SMTP, optionally via implicit TLS.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	from := msg.From
	if from == "" {
		from = s.cfg.From
	}

	var headers bytes.Buffer
	headers.WriteString(fmt.Sprintf("From: %s\r\n", from))
	headers.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		headers.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	if msg.ReplyTo != "" {
		headers.WriteString(fmt.Sprintf("Reply-To: %s\r\n", msg.ReplyTo))
	}
	headers.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	headers.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	for name, value := range msg.Headers {
		headers.WriteString(fmt.Sprintf("%s: %s\r\n", name, value))
	}
	headers.WriteString("MIME-Version: 1.0\r\n")
	headers.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	headers.WriteString("\r\n")
	headers.WriteString(msg.HTML)

	recipients := append(append([]string{}, msg.To...), msg.Cc...)
	envelopeFrom := envelopeAddress(from)
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	if s.cfg.UseTLS {
		return s.sendTLS(addr, auth, envelopeFrom, recipients, headers.Bytes())
	}
	return smtp.SendMail(addr, auth, envelopeFrom, recipients, headers.Bytes())
}

func (s *SMTPSender) sendTLS(addr string, auth smtp.Auth, from string, recipients []string, body []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(envelopeAddress(recipient)); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data transfer: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data transfer: %w", err)
	}
	return client.Quit()
}

// envelopeAddress extracts the bare address from "Name <a@b>" forms.
func envelopeAddress(value string) string {
	if open := strings.LastIndex(value, "<"); open >= 0 {
		if close := strings.LastIndex(value, ">"); close > open {
			return value[open+1 : close]
		}
	}
	return strings.TrimSpace(value)
}

// SendOptions tune a single templated send.
type SendOptions struct {
	From    string
	Cc      []string
	ReplyTo string
	Headers map[string]string
	// Exclude removes addresses from To and Cc before sending, so the
	// author never receives their own post.
	Exclude []string
}

// Mailer renders pongo2 email templates and hands them to the sender.
type Mailer struct {
	sender    Sender
	templates *pongo2.TemplateSet
	from      string
	logger    *log.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMailer builds a mailer over a template directory. Template names
// passed to Send resolve to <dir>/<name>.pongo2.
func NewMailer(sender Sender, templateDir, defaultFrom string, opts ...Option) (*Mailer, error) {
	abs, err := filepath.Abs(templateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template dir: %w", err)
	}
	loader, err := pongo2.NewLocalFileSystemLoader(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to load email templates: %w", err)
	}
	m := &Mailer{
		sender:    sender,
		templates: pongo2.NewSet("emails", loader),
		from:      defaultFrom,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Send renders the named template with data and delivers it. Sending to
// an empty recipient set after exclusions is a no-op, not an error.
func (m *Mailer) Send(ctx context.Context, to []string, subject, template string, data pongo2.Context, opts *SendOptions) error {
	if opts == nil {
		opts = &SendOptions{}
	}

	to = excludeAddresses(to, opts.Exclude)
	cc := excludeAddresses(opts.Cc, opts.Exclude)
	if len(to) == 0 && len(cc) == 0 {
		m.logger.Printf("mailer: no recipients left for %q, skipping", subject)
		return nil
	}

	tpl, err := m.templates.FromCache(template + ".pongo2")
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", template, err)
	}
	html, err := tpl.Execute(data)
	if err != nil {
		return fmt.Errorf("failed to render template %s: %w", template, err)
	}

	from := opts.From
	if from == "" {
		from = m.from
	}
	msg := &Message{
		From:    from,
		To:      to,
		Cc:      cc,
		ReplyTo: opts.ReplyTo,
		Subject: subject,
		HTML:    html,
		Headers: opts.Headers,
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("failed to send %q: %w", subject, err)
	}
	metrics.NotificationsSent.Inc()
	return nil
}

func excludeAddresses(addrs, exclude []string) []string {
	if len(addrs) == 0 {
		return addrs
	}
	drop := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		drop[strings.ToLower(envelopeAddress(e))] = struct{}{}
	}
	kept := addrs[:0:0]
	for _, a := range addrs {
		if _, ok := drop[strings.ToLower(envelopeAddress(a))]; ok {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}
