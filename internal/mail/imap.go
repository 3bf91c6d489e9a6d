package mail

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"tldread/internal/config"
	"tldread/internal/core"
	"tldread/internal/logger"
)

// IMAPFetcher polls an IMAP mailbox over TLS. A fresh connection is dialed
// per fetch; runs are minutes apart so keeping a session alive buys nothing.
type IMAPFetcher struct {
	cfg config.IMAP
}

// NewIMAPFetcher creates a fetcher for the configured IMAP account.
func NewIMAPFetcher(cfg config.IMAP) *IMAPFetcher {
	return &IMAPFetcher{cfg: cfg}
}

// FetchSince returns inbox messages received within the last `hours` hours.
// The IMAP SINCE criterion is date-granular, so results are re-filtered
// against the exact cutoff after download.
func (f *IMAPFetcher) FetchSince(ctx context.Context, hours int) ([]core.RawMessage, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	c, err := client.DialTLS(f.cfg.Addr(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.cfg.Addr(), err)
	}
	defer c.Logout()

	if err := c.Login(f.cfg.Username, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("%w: login as %s: %v", ErrAuth, f.cfg.Username, err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = cutoff
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search since %s: %w", cutoff.Format("2006-01-02"), err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	// Peek avoids flagging messages as read.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var result []core.RawMessage
	for msg := range messages {
		if err := ctx.Err(); err != nil {
			// Drain so the fetch goroutine can finish.
			continue
		}
		raw, perr := parseIMAPMessage(msg, section)
		if perr != nil {
			logger.Warnf("skipping unparseable message: %v", perr)
			continue
		}
		if raw.ReceivedAt.Before(cutoff) {
			continue
		}
		result = append(result, raw)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debugf("IMAP fetch: %d messages within %dh window", len(result), hours)
	return result, nil
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (core.RawMessage, error) {
	body := msg.GetBody(section)
	if body == nil {
		return core.RawMessage{}, fmt.Errorf("message %d has no body section", msg.SeqNum)
	}

	mr, err := gomail.CreateReader(body)
	if err != nil {
		return core.RawMessage{}, fmt.Errorf("parse message %d: %w", msg.SeqNum, err)
	}

	raw := core.RawMessage{}

	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		raw.SenderEmail = strings.ToLower(addrs[0].Address)
		raw.SenderName = addrs[0].Name
	}
	if raw.SenderName == "" {
		raw.SenderName = raw.SenderEmail
	}
	raw.Subject, _ = mr.Header.Subject()
	if date, err := mr.Header.Date(); err == nil {
		raw.ReceivedAt = date
	} else if msg.Envelope != nil {
		raw.ReceivedAt = msg.Envelope.Date
	}
	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		raw.MessageID = id
	} else {
		// Some senders omit Message-ID. Synthesize one so the dedup key
		// is never empty.
		raw.MessageID = "generated-" + uuid.NewString()
	}
	raw.HasListUnsubscribe = mr.Header.Get("List-Unsubscribe") != ""

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return core.RawMessage{}, fmt.Errorf("read part of %s: %w", raw.MessageID, err)
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, _ := inline.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch ctype {
		case "text/html":
			if raw.HTMLBody == "" {
				raw.HTMLBody = string(data)
			}
		case "text/plain":
			if raw.PlainBody == "" {
				raw.PlainBody = string(data)
			}
		}
	}

	return raw, nil
}
