package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tldread/internal/classify"
	"tldread/internal/core"
	"tldread/internal/store"
)

// NewSubscriptionsCmd creates the subscriptions command group.
func NewSubscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Manage which newsletter senders go into your digest",
	}

	cmd.AddCommand(newSubscriptionsListCmd())
	cmd.AddCommand(newSubscriptionsAddCmd())
	cmd.AddCommand(newSubscriptionsRemoveCmd())
	cmd.AddCommand(newSubscriptionsDetectCmd())

	return cmd
}

func newSubscriptionsListCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fail(err)
			}
			st, err := store.New(cfg.App.DataDir)
			if err != nil {
				fail(err)
			}
			defer st.Close()

			subs, err := st.ListSubscriptions(userID)
			if err != nil {
				fail(err)
			}
			if len(subs) == 0 {
				fmt.Println("No subscriptions. Find newsletters with 'tldread subscriptions detect'.")
				return
			}
			for _, sub := range subs {
				marker := " "
				if sub.IsActive {
					marker = "*"
				}
				fmt.Printf("%s %s <%s>\n", marker, sub.SenderName, sub.SenderEmail)
			}
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 1, "subscription owner ID")
	return cmd
}

func newSubscriptionsAddCmd() *cobra.Command {
	var (
		userID int64
		name   string
	)

	cmd := &cobra.Command{
		Use:   "add [sender-email]",
		Short: "Subscribe to a newsletter sender",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fail(err)
			}
			st, err := store.New(cfg.App.DataDir)
			if err != nil {
				fail(err)
			}
			defer st.Close()

			email := strings.ToLower(strings.TrimSpace(args[0]))
			if name == "" {
				name = email
			}
			if _, err := st.AddSubscription(email, name, userID); err != nil {
				fail(err)
			}
			fmt.Printf("Subscribed to %s\n", email)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 1, "subscription owner ID")
	cmd.Flags().StringVar(&name, "name", "", "display name for the sender")
	return cmd
}

func newSubscriptionsRemoveCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "remove [sender-email]",
		Short: "Unsubscribe from a newsletter sender",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fail(err)
			}
			st, err := store.New(cfg.App.DataDir)
			if err != nil {
				fail(err)
			}
			defer st.Close()

			email := strings.ToLower(strings.TrimSpace(args[0]))
			removed, err := st.DeactivateSubscription(email, userID)
			if err != nil {
				fail(err)
			}
			if removed {
				fmt.Printf("Unsubscribed from %s\n", email)
			} else {
				fmt.Printf("No active subscription for %s\n", email)
			}
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 1, "subscription owner ID")
	return cmd
}

func newSubscriptionsDetectCmd() *cobra.Command {
	var (
		userID    int64
		hours     int
		subscribe bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan recent mail for newsletters you could subscribe to",
		Long: `Scan the mailbox for messages that look like newsletters and list one
candidate per sender with its score. With --subscribe, every candidate is
added as an active subscription.

Examples:
  tldread subscriptions detect
  tldread subscriptions detect --hours 168 --subscribe`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fail(err)
			}

			ctx := context.Background()
			fetcher, err := newFetcher(ctx, cfg)
			if err != nil {
				fail(err)
			}

			messages, err := fetcher.FetchSince(ctx, hours)
			if err != nil {
				fail(err)
			}

			candidates := classify.Detect(toClassifierInput(messages), cfg.IMAP.Username)
			if len(candidates) == 0 {
				fmt.Printf("No newsletter candidates found in the last %dh.\n", hours)
				return
			}

			fmt.Printf("Found %d newsletter candidates:\n\n", len(candidates))
			for _, c := range candidates {
				fmt.Printf("  %s <%s>  (score %d, %d emails)\n", c.SenderName, c.SenderEmail, c.Score, c.EmailCount)
				fmt.Printf("    %s\n", c.Subject)
				if c.Snippet != "" {
					fmt.Printf("    %s...\n", c.Snippet)
				}
				fmt.Println()
			}

			if !subscribe {
				fmt.Println("Subscribe with 'tldread subscriptions add <email>' or rerun with --subscribe.")
				return
			}

			st, err := store.New(cfg.App.DataDir)
			if err != nil {
				fail(err)
			}
			defer st.Close()

			for _, c := range candidates {
				if _, err := st.AddSubscription(c.SenderEmail, c.SenderName, userID); err != nil {
					fail(err)
				}
				fmt.Printf("Subscribed to %s\n", c.SenderEmail)
			}
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 1, "subscription owner ID")
	cmd.Flags().IntVar(&hours, "hours", 72, "lookback window in hours")
	cmd.Flags().BoolVar(&subscribe, "subscribe", false, "subscribe to every detected candidate")
	return cmd
}

func toClassifierInput(messages []core.RawMessage) []classify.Message {
	input := make([]classify.Message, 0, len(messages))
	for _, m := range messages {
		input = append(input, classify.Message{
			ID:                 m.MessageID,
			SenderEmail:        m.SenderEmail,
			SenderName:         m.SenderName,
			Subject:            m.Subject,
			Body:               m.Body(),
			HasListUnsubscribe: m.HasListUnsubscribe,
		})
	}
	return input
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
