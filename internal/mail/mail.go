// Package mail provides the mailbox backends (IMAP and the Gmail API) and
// outbound digest delivery (SMTP and the Gmail API).
package mail

import (
	"context"
	"errors"

	"tldread/internal/core"
)

// ErrAuth marks a mailbox or delivery authentication failure. Auth failures
// abort the run immediately and are never retried.
var ErrAuth = errors.New("mail authentication failed")

// Fetcher retrieves messages received within the last `hours` hours.
type Fetcher interface {
	FetchSince(ctx context.Context, hours int) ([]core.RawMessage, error)
}

// Sender delivers an assembled digest to one recipient.
type Sender interface {
	Send(ctx context.Context, to string, payload core.DigestPayload) error
}
