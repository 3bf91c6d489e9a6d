package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	netmail "net/mail"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"tldread/internal/config"
	"tldread/internal/core"
	"tldread/internal/logger"
)

// GmailFetcher reads the mailbox through the Gmail REST API instead of IMAP.
// It needs an OAuth client credentials file and a previously obtained token.
type GmailFetcher struct {
	svc *gmailapi.Service
}

// NewGmailFetcher builds a read-only Gmail client from the configured OAuth
// files.
func NewGmailFetcher(ctx context.Context, cfg config.Gmail) (*GmailFetcher, error) {
	svc, err := newGmailService(ctx, cfg, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, err
	}
	return &GmailFetcher{svc: svc}, nil
}

// FetchSince returns inbox messages received within the last `hours` hours.
// Gmail's after: operator is second-granular, so only a safety re-filter
// against InternalDate is applied.
func (f *GmailFetcher) FetchSince(ctx context.Context, hours int) ([]core.RawMessage, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	query := fmt.Sprintf("in:inbox after:%d", cutoff.Unix())

	var ids []string
	pageToken := ""
	for {
		call := f.svc.Users.Messages.List("me").Q(query).MaxResults(100).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	var result []core.RawMessage
	for _, id := range ids {
		full, err := f.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			logger.Warnf("skipping message %s: %v", id, err)
			continue
		}
		raw := parseGmailMessage(full)
		if raw.ReceivedAt.Before(cutoff) {
			continue
		}
		result = append(result, raw)
	}

	logger.Debugf("Gmail fetch: %d messages within %dh window", len(result), hours)
	return result, nil
}

func parseGmailMessage(msg *gmailapi.Message) core.RawMessage {
	raw := core.RawMessage{
		MessageID:  msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload == nil {
		return raw
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			if addr, err := netmail.ParseAddress(h.Value); err == nil {
				raw.SenderEmail = strings.ToLower(addr.Address)
				raw.SenderName = addr.Name
			} else {
				raw.SenderEmail = strings.ToLower(strings.TrimSpace(h.Value))
			}
		case "subject":
			raw.Subject = h.Value
		case "message-id":
			// Prefer the RFC 5322 ID over Gmail's internal one so the dedup
			// key is stable across backends.
			raw.MessageID = strings.Trim(h.Value, "<> ")
		case "list-unsubscribe":
			raw.HasListUnsubscribe = true
		}
	}
	if raw.SenderName == "" {
		raw.SenderName = raw.SenderEmail
	}

	raw.HTMLBody, raw.PlainBody = extractGmailBodies(msg.Payload)
	return raw
}

func extractGmailBodies(part *gmailapi.MessagePart) (html, plain string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/html":
				html = string(data)
			case "text/plain":
				plain = string(data)
			}
		}
	}
	for _, child := range part.Parts {
		h, p := extractGmailBodies(child)
		if html == "" {
			html = h
		}
		if plain == "" {
			plain = p
		}
	}
	return html, plain
}

// newGmailService wires the OAuth files into an authenticated API client.
// Missing or unreadable credentials surface as ErrAuth.
func newGmailService(ctx context.Context, cfg config.Gmail, scopes ...string) (*gmailapi.Service, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials %s: %v", ErrAuth, cfg.CredentialsFile, err)
	}
	conf, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials: %v", ErrAuth, err)
	}
	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read token %s: %v", ErrAuth, cfg.TokenFile, err)
	}

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create Gmail service: %w", err)
	}
	return svc, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}
