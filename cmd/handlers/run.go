package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tldread/internal/config"
	"tldread/internal/llm"
	"tldread/internal/mail"
	"tldread/internal/pipeline"
	"tldread/internal/store"
	"tldread/internal/summarize"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		dryRun bool
		hours  int
		force  bool
		userID int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, summarize, and deliver today's digest",
		Long: `Run one full digest cycle: fetch recent mail, summarize the newsletters
you are subscribed to, synthesize themes across them, and deliver the
digest.

Examples:
  # Normal daily run over the last 24 hours
  tldread run

  # Preview without sending; the digest is written under the data dir
  tldread run --dry-run

  # Wider window and reprocessing of already-summarized messages
  tldread run --hours 72 --force`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := runPipeline(dryRun, hours, force, userID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "assemble the digest but write it locally instead of sending")
	cmd.Flags().IntVar(&hours, "hours", pipeline.DefaultHours, "lookback window in hours")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess messages that already have summaries")
	cmd.Flags().Int64Var(&userID, "user", 1, "subscription owner ID")

	return cmd
}

func runPipeline(dryRun bool, hours int, force bool, userID int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.App.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}

	client, err := llm.NewClient(ctx, cfg.Gemini)
	if err != nil {
		return err
	}
	summ := summarize.New(client, cfg.Digest.Interests, summarize.DefaultOptions())

	sender, err := newSender(ctx, cfg)
	if err != nil {
		return err
	}

	p := pipeline.New(st, fetcher, summ, sender, cfg)
	report, err := p.Run(ctx, pipeline.Options{
		DryRun: dryRun,
		Hours:  hours,
		Force:  force,
		UserID: userID,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %d messages, %d from subscriptions\n", report.Fetched, report.Matched)
	fmt.Printf("Summarized %d, reused %d, skipped %d, failed %d\n",
		report.Summarized, report.Reused, report.Skipped, report.Failed)
	if report.Themes > 0 {
		fmt.Printf("Synthesized %d themes\n", report.Themes)
	}
	switch {
	case report.DigestSent:
		fmt.Printf("Digest sent to %s\n", cfg.Digest.ToAddress)
	case report.DigestPath != "":
		fmt.Printf("Digest written to %s\n", report.DigestPath)
	default:
		fmt.Println("No digest produced this run")
	}
	return nil
}

// newFetcher picks the mailbox backend from configuration.
func newFetcher(ctx context.Context, cfg *config.Config) (mail.Fetcher, error) {
	switch cfg.Mail.Backend {
	case "gmail":
		return mail.NewGmailFetcher(ctx, cfg.Gmail)
	case "imap", "":
		if cfg.IMAP.Host == "" {
			return nil, fmt.Errorf("imap.host is not configured. Set IMAP_HOST or imap.host in the config file")
		}
		return mail.NewIMAPFetcher(cfg.IMAP), nil
	default:
		return nil, fmt.Errorf("unknown mail backend %q (want imap or gmail)", cfg.Mail.Backend)
	}
}

// newSender returns the delivery backend, or nil when none is configured.
// The pipeline falls back to local files with a nil sender.
func newSender(ctx context.Context, cfg *config.Config) (mail.Sender, error) {
	if cfg.Mail.Backend == "gmail" {
		return mail.NewGmailSender(ctx, cfg.Gmail, cfg.Digest.ToAddress)
	}
	if cfg.SMTP.Host == "" {
		return nil, nil
	}
	return mail.NewSMTPSender(cfg.SMTP), nil
}
