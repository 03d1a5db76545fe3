package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"newsrec/internal/config"
	"newsrec/internal/recommend"
)

// NewRecommendCmd creates the recommend command
func NewRecommendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <user_id>",
		Short: "Print recommendations for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.engine.GetRecommendations(ctx, args[0])
			if err != nil {
				return fmt.Errorf("recommendation failed: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRecommendations(args[0], recs, a.cfg.Recommend.DiscoveryExplanation))
			return nil
		},
	}
}

// NewAdjustCmd creates the adjust command
func NewAdjustCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "adjust <user_id> <request...>",
		Short:   "Adjust a user's preferences with a free-text request",
		Example: `  newsrec adjust alice "more cycling, less celebrity gossip"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, err := a.engine.AdjustRecommendations(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return fmt.Errorf("adjustment failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)

			prefs, err := a.users.GetPreferenceText(ctx, args[0])
			if err == nil && prefs != "" {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Preferences: "+prefs))
			}
			return nil
		},
	}
}

// NewClickCmd creates the click command for recording a click by hand
func NewClickCmd() *cobra.Command {
	var (
		date   string
		domain string
	)

	cmd := &cobra.Command{
		Use:   "click <user_id> <title>",
		Short: "Record that a user clicked an article",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			event, err := a.clicks.RecordClick(ctx, recommend.Click{
				UserID: args[0],
				Title:  args[1],
				Date:   date,
				Domain: domain,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("✓ Recorded click %s", event.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "Date of the click")
	cmd.Flags().StringVar(&domain, "domain", "", "Domain of the clicked article (required)")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newApp(ctx, cfg)
}
