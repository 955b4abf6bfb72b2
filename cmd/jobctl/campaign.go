package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/romariotrain/media-jobs/internal/campaign"
)

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "View campaigns",
	}

	var in struct {
		videoID    string
		total      int
		days       int
		pattern    string
		dailyLimit int
		createdBy  string
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a pending campaign and print its schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			videoID, err := uuid.Parse(in.videoID)
			if err != nil {
				return fmt.Errorf("invalid --video-id: %w", err)
			}
			c, dist, err := deps.Campaign.Create(cmd.Context(), campaign.CreateInput{
				VideoID:      videoID,
				TotalCount:   in.total,
				DurationDays: in.days,
				Pattern:      campaign.Pattern(in.pattern),
				DailyLimit:   in.dailyLimit,
				CreatedBy:    in.createdBy,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"campaign": c, "distribution": dist})
		},
	}
	create.Flags().StringVar(&in.videoID, "video-id", "", "video to boost")
	create.Flags().IntVar(&in.total, "total", 0, "total views")
	create.Flags().IntVar(&in.days, "days", 1, "duration in days")
	create.Flags().StringVar(&in.pattern, "pattern", string(campaign.PatternSteady), "steady or burst")
	create.Flags().IntVar(&in.dailyLimit, "daily-limit", 0, "maximum views per day")
	create.Flags().StringVar(&in.createdBy, "created-by", "", "operator id")
	_ = create.MarkFlagRequired("video-id")
	_ = create.MarkFlagRequired("total")
	_ = create.MarkFlagRequired("daily-limit")

	cmd.AddCommand(
		create,
		campaignAction("start", "Start a pending campaign", func(s *campaign.Service) func(context.Context, uuid.UUID) (*campaign.Campaign, error) { return s.Start }),
		campaignAction("pause", "Pause a running campaign", func(s *campaign.Service) func(context.Context, uuid.UUID) (*campaign.Campaign, error) { return s.Pause }),
		campaignAction("resume", "Resume a paused campaign", func(s *campaign.Service) func(context.Context, uuid.UUID) (*campaign.Campaign, error) { return s.Resume }),
		campaignAction("cancel", "Cancel a campaign", func(s *campaign.Service) func(context.Context, uuid.UUID) (*campaign.Campaign, error) { return s.Cancel }),
		&cobra.Command{
			Use:   "get <campaign-id>",
			Short: "Show a campaign with its progress and schedule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid campaign id: %w", err)
				}
				c, err := deps.Campaign.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				dist, err := deps.Campaign.Distribution(c)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"campaign":     c,
					"progress":     c.Progress(),
					"distribution": dist,
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List campaigns, newest first",
			RunE: func(cmd *cobra.Command, _ []string) error {
				list, err := deps.Campaign.List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			},
		},
		&cobra.Command{
			Use:   "limits",
			Short: "Show campaign caps and this month's usage",
			RunE: func(cmd *cobra.Command, _ []string) error {
				view, err := deps.Campaign.Limits(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, view)
			},
		},
	)
	return cmd
}

// campaignAction builds a "<verb> <campaign-id>" subcommand. The service is
// resolved at run time because deps is opened in the root pre-run hook.
func campaignAction(use, short string, pick func(*campaign.Service) func(context.Context, uuid.UUID) (*campaign.Campaign, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <campaign-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid campaign id: %w", err)
			}
			c, err := pick(deps.Campaign)(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, c)
		},
	}
}
