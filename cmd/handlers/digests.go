package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"tldread/internal/store"
)

// NewDigestsCmd creates the digests command group.
func NewDigestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digests",
		Short: "Review past digests",
	}

	cmd.AddCommand(newDigestsListCmd())
	return cmd
}

func newDigestsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent digests",
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

			recs, err := st.GetDigestsForUser(cfg.Digest.ToAddress, limit)
			if err != nil {
				fail(err)
			}
			if len(recs) == 0 {
				fmt.Println("No digests yet. Generate one with 'tldread run'.")
				return
			}
			for _, rec := range recs {
				fmt.Printf("%s  %s  (%d newsletters, %d themes)\n",
					rec.DigestDate, rec.Subject, rec.NewslettersCount, rec.ThemesCount)
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "maximum number of digests to list")
	return cmd
}
