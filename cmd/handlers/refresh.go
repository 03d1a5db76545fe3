package handlers

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRefreshCmd creates the refresh command for ingesting feeds
func NewRefreshCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ingest RSS feeds into the article store",
		Long: `Prune articles older than the staleness window, collect the configured
feeds, embed new articles and mark the store fresh.

Without --force nothing happens while the store is still fresh.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Refresh even if the store is still fresh")

	return cmd
}

func runRefresh(cmd *cobra.Command, force bool) error {
	ctx := commandContext(cmd)

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if !force {
		refreshed, err := a.articles.RefreshIfStale(ctx)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		if !refreshed {
			last, _, _ := a.articles.LastRefresh(ctx)
			fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("Article store is fresh (last refresh %s). Use --force to refresh anyway.",
				last.Local().Format("2006-01-02 15:04"))))
			return nil
		}
	} else if _, err := a.articles.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	count, err := a.articles.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Article store refreshed: %d articles available", count)))
	return nil
}
