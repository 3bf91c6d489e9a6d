// Package pipeline runs one end-to-end digest cycle: fetch, filter,
// normalize, summarize, cluster, assemble, deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tldread/internal/config"
	"tldread/internal/core"
	"tldread/internal/digest"
	"tldread/internal/logger"
	"tldread/internal/mail"
	"tldread/internal/parser"
	"tldread/internal/store"
	"tldread/internal/summarize"
)

// DefaultHours is the lookback window when none is given.
const DefaultHours = 24

// Summarizer is the model-facing surface the pipeline needs. Satisfied by
// *summarize.Summarizer; tests substitute fakes.
type Summarizer interface {
	Summarize(ctx context.Context, content string, meta summarize.MessageMeta) (core.SummaryResult, error)
	Cluster(ctx context.Context, entries []core.DigestEntry) (core.ClusterResult, error)
}

// Options control one run.
type Options struct {
	DryRun bool  // Assemble but write locally instead of sending
	Hours  int   // Lookback window, 0 means DefaultHours
	Force  bool  // Reprocess messages already marked processed
	UserID int64 // Subscription owner, 0 means user 1
}

// Report summarizes what one run did.
type Report struct {
	Fetched    int
	Matched    int
	Reused     int
	Summarized int
	Failed     int
	Skipped    int
	Themes     int
	DigestSent bool
	DigestPath string // Local fallback location, when written
}

// Pipeline wires the stages together. A nil sender means local-only output.
type Pipeline struct {
	store   *store.Store
	fetcher mail.Fetcher
	summ    Summarizer
	sender  mail.Sender
	cfg     *config.Config

	now func() time.Time
}

// New assembles a pipeline from its stages.
func New(st *store.Store, fetcher mail.Fetcher, summ Summarizer, sender mail.Sender, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:   st,
		fetcher: fetcher,
		summ:    summ,
		sender:  sender,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run executes one digest cycle. Per-message failures are recorded and
// skipped; only mailbox auth failures and storage errors abort the run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	hours := opts.Hours
	if hours <= 0 {
		hours = DefaultHours
	}
	userID := opts.UserID
	if userID <= 0 {
		userID = 1
	}

	report := &Report{}

	messages, err := p.fetcher.FetchSince(ctx, hours)
	if err != nil {
		return nil, fmt.Errorf("fetch mailbox: %w", err)
	}
	report.Fetched = len(messages)
	logger.Infof("fetched %d messages from the last %dh", len(messages), hours)

	active, err := p.store.ActiveSenders(userID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		logger.Warnf("no active subscriptions for user %d; nothing to process", userID)
		return report, nil
	}

	var rowIDs []int64
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sender, senderName := resolveSender(msg)
		if !active[sender] {
			continue
		}
		report.Matched++

		rowID, out, err := p.processMessage(ctx, msg, sender, senderName, opts.Force)
		if err != nil {
			return nil, err
		}
		switch out {
		case outcomeReused:
			report.Reused++
		case outcomeSummarized:
			report.Summarized++
		case outcomeFailed:
			report.Failed++
		case outcomeSkipped:
			report.Skipped++
		}
		if rowID != 0 {
			rowIDs = append(rowIDs, rowID)
		}
	}

	entries, err := p.store.GetDigestEntries(rowIDs)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		logger.Infof("no summaries this run; skipping digest")
		return report, nil
	}

	clusters := p.cluster(ctx, entries)
	report.Themes = len(clusters.Clusters)

	payload, err := digest.Assemble(entries, clusters, p.now())
	if err != nil {
		return nil, err
	}

	if err := p.deliver(ctx, payload, opts.DryRun, report); err != nil {
		return nil, err
	}

	if !opts.DryRun {
		_, err = p.store.SaveDigest(core.DigestRecord{
			UserEmail:        p.cfg.Digest.ToAddress,
			DigestDate:       p.now().Format("2006-01-02"),
			Subject:          payload.Subject,
			HTML:             payload.HTML,
			ThemesCount:      len(clusters.Clusters),
			NewslettersCount: len(entries),
		})
		if err != nil {
			logger.Errorf(err, "digest delivered but not recorded")
		}
	}

	return report, nil
}

type outcome int

const (
	outcomeReused outcome = iota
	outcomeSummarized
	outcomeFailed
	outcomeSkipped
)

// processMessage drives one message through the state machine. The returned
// row ID is zero when the message produced no usable summary row.
func (p *Pipeline) processMessage(ctx context.Context, msg core.RawMessage, sender, senderName string, force bool) (int64, outcome, error) {
	newsletterID, err := p.store.GetOrCreateNewsletter(sender, senderName)
	if err != nil {
		return 0, outcomeFailed, err
	}

	tracked, created, err := p.store.InsertMessage(core.TrackedMessage{
		NewsletterID: newsletterID,
		MessageID:    msg.MessageID,
		Subject:      msg.Subject,
		ReceivedAt:   msg.ReceivedAt,
		RawHTML:      msg.HTMLBody,
		PlainText:    msg.PlainBody,
		Status:       core.StatusPending,
	})
	if err != nil {
		return 0, outcomeFailed, err
	}

	if !created && tracked.Status == core.StatusProcessed && !force {
		logger.Debugf("reusing summary for %s", tracked.MessageID)
		return tracked.ID, outcomeReused, nil
	}

	body := tracked.RawHTML
	if body == "" {
		body = tracked.PlainText
	}
	normalized := parser.Normalize(body)
	if strings.TrimSpace(normalized.CleanText) == "" {
		// Nothing to summarize. Not a failure; the message just carries no
		// usable content.
		logger.Warnf("message %s has empty content; skipping", tracked.MessageID)
		if err := p.store.UpdateMessageStatus(tracked.ID, core.StatusProcessed); err != nil {
			return 0, outcomeFailed, err
		}
		return 0, outcomeSkipped, nil
	}

	summary, err := p.summ.Summarize(ctx, normalized.CleanText, summarize.MessageMeta{
		SenderName:  senderName,
		SenderEmail: sender,
		Subject:     tracked.Subject,
		ReceivedAt:  tracked.ReceivedAt,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, outcomeFailed, err
		}
		logger.Errorf(err, "summarization failed for %s", tracked.MessageID)
		if serr := p.store.UpdateMessageStatus(tracked.ID, core.StatusFailed); serr != nil {
			return 0, outcomeFailed, serr
		}
		return 0, outcomeFailed, nil
	}

	summary.MessageRowID = tracked.ID
	if err := p.store.SaveSummary(summary); err != nil {
		return 0, outcomeFailed, err
	}
	if err := p.store.UpdateMessageStatus(tracked.ID, core.StatusProcessed); err != nil {
		return 0, outcomeFailed, err
	}
	return tracked.ID, outcomeSummarized, nil
}

// cluster runs the cross-newsletter synthesis. Clustering is best-effort:
// any failure degrades to a digest of individual summaries.
func (p *Pipeline) cluster(ctx context.Context, entries []core.DigestEntry) core.ClusterResult {
	if len(entries) < 2 {
		return core.ClusterResult{}
	}

	result, err := p.summ.Cluster(ctx, entries)
	if err != nil {
		logger.Errorf(err, "clustering failed; digest will have no themes")
		return core.ClusterResult{}
	}

	date := p.now().Format("2006-01-02")
	for _, c := range result.Clusters {
		if err := p.store.SaveCluster(core.StoredCluster{
			DigestDate:  date,
			Name:        c.Name,
			Synthesis:   c.Synthesis,
			SourceCount: len(c.Sources),
		}); err != nil {
			logger.Errorf(err, "failed to save cluster %q", c.Name)
		}
	}
	return result
}

// deliver sends the digest, or writes it under the data dir on dry runs,
// missing sender configuration, or delivery failure.
func (p *Pipeline) deliver(ctx context.Context, payload core.DigestPayload, dryRun bool, report *Report) error {
	if !dryRun && p.sender != nil && p.cfg.Digest.ToAddress != "" {
		err := p.sender.Send(ctx, p.cfg.Digest.ToAddress, payload)
		if err == nil {
			report.DigestSent = true
			return nil
		}
		if errors.Is(err, mail.ErrAuth) {
			return err
		}
		logger.Errorf(err, "delivery failed; writing digest locally")
	}

	path, err := p.writeLocal(payload)
	if err != nil {
		return err
	}
	report.DigestPath = path
	logger.Infof("digest written to %s", path)
	return nil
}

func (p *Pipeline) writeLocal(payload core.DigestPayload) (string, error) {
	date := p.now().Format("2006-01-02")
	base := filepath.Join(p.cfg.App.DataDir, "digest_"+date)

	if err := os.WriteFile(base+".html", []byte(payload.HTML), 0644); err != nil {
		return "", fmt.Errorf("write digest HTML: %w", err)
	}
	if err := os.WriteFile(base+".txt", []byte(payload.Text), 0644); err != nil {
		return "", fmt.Errorf("write digest text: %w", err)
	}
	return base + ".html", nil
}

// resolveSender attributes a message to its real newsletter author. A
// forwarded newsletter is credited to the original sender extracted from the
// forwarding preamble, not the forwarding account.
func resolveSender(msg core.RawMessage) (email, name string) {
	if fwd := parser.ExtractForwardedSender(msg.Body()); fwd != nil {
		return strings.ToLower(fwd.Email), fwd.Name
	}
	return strings.ToLower(msg.SenderEmail), msg.SenderName
}
