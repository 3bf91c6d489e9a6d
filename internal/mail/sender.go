package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"
	"net/smtp"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"

	"tldread/internal/config"
	"tldread/internal/core"
	"tldread/internal/logger"
)

// SMTPSender delivers digests over authenticated SMTP with STARTTLS.
type SMTPSender struct {
	cfg config.SMTP
}

// NewSMTPSender creates a sender for the configured SMTP account.
func NewSMTPSender(cfg config.SMTP) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers the digest as a multipart/alternative message with both the
// plain-text and HTML bodies.
func (s *SMTPSender) Send(_ context.Context, to string, payload core.DigestPayload) error {
	msg := buildMIME(s.cfg.Username, to, payload)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	if err := smtp.SendMail(s.cfg.Addr(), auth, s.cfg.Username, []string{to}, msg); err != nil {
		if strings.Contains(err.Error(), "535") || strings.Contains(strings.ToLower(err.Error()), "auth") {
			return fmt.Errorf("%w: SMTP as %s: %v", ErrAuth, s.cfg.Username, err)
		}
		return fmt.Errorf("send digest to %s: %w", to, err)
	}
	logger.Infof("digest sent to %s via SMTP", to)
	return nil
}

// GmailSender delivers digests through the Gmail API send endpoint, using
// the same OAuth files as the Gmail fetcher.
type GmailSender struct {
	svc  *gmailapi.Service
	from string
}

// NewGmailSender builds a send-capable Gmail client.
func NewGmailSender(ctx context.Context, cfg config.Gmail, from string) (*GmailSender, error) {
	svc, err := newGmailService(ctx, cfg, gmailapi.GmailSendScope)
	if err != nil {
		return nil, err
	}
	return &GmailSender{svc: svc, from: from}, nil
}

// Send delivers the digest via the authenticated Gmail account.
func (g *GmailSender) Send(ctx context.Context, to string, payload core.DigestPayload) error {
	raw := buildMIME(g.from, to, payload)
	msg := &gmailapi.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	if _, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("send digest to %s: %w", to, err)
	}
	logger.Infof("digest sent to %s via Gmail", to)
	return nil
}

// buildMIME assembles a multipart/alternative message. The plain part comes
// first so clients that honor ordering prefer the HTML rendering.
func buildMIME(from, to string, payload core.DigestPayload) []byte {
	const boundary = "tldread-digest-boundary"

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + payload.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=\"" + boundary + "\"\r\n")
	b.WriteString("\r\n")

	writePart(&b, boundary, "text/plain; charset=utf-8", payload.Text)
	writePart(&b, boundary, "text/html; charset=utf-8", payload.HTML)
	b.WriteString("--" + boundary + "--\r\n")

	return []byte(b.String())
}

func writePart(b *strings.Builder, boundary, contentType, body string) {
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	b.WriteString("\r\n")

	qp := quotedprintable.NewWriter(b)
	qp.Write([]byte(body))
	qp.Close()
	b.WriteString("\r\n")
}
