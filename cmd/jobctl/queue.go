package main

import (
	"github.com/spf13/cobra"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Job queue inspection and maintenance",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status and broker depth by type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := deps.Queue.Status(cmd.Context())
			if err != nil {
				return err
			}
			depth := make(map[models.JobType]int64)
			for _, t := range []models.JobType{models.TranscodeJob, models.CampaignJob} {
				n, err := deps.Broker.Len(cmd.Context(), t)
				if err != nil {
					return err
				}
				depth[t] = n
			}
			return printJSON(cmd, map[string]any{"jobs": counts, "broker": depth})
		},
	}

	var completed, failed string
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete terminal jobs past their retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := queue.PrunerConfig{Logger: logger}
			var err error
			if cfg.CompletedRetention, err = parseDuration(completed); err != nil {
				return err
			}
			if cfg.FailedRetention, err = parseDuration(failed); err != nil {
				return err
			}
			n, err := queue.NewPruner(deps.Jobs, cfg).PruneOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"deleted": n})
		},
	}
	prune.Flags().StringVar(&completed, "completed", "24h", "retention for completed jobs")
	prune.Flags().StringVar(&failed, "failed", "168h", "retention for failed jobs")

	recoverJobs := &cobra.Command{
		Use:   "recover",
		Short: "Re-push queued and retrying jobs and reclaim stale active ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := deps.Queue.Recover(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"pushed": n})
		},
	}

	cmd.AddCommand(status, prune, recoverJobs)
	return cmd
}
