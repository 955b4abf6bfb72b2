package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
)

func transcodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcode",
		Short: "Transcoding jobs",
	}

	var (
		videoID   string
		sourceKey string
		mimeType  string
	)
	enqueue := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a transcode for an uploaded source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(videoID)
			if err != nil {
				return fmt.Errorf("invalid --video-id: %w", err)
			}
			payload := models.TranscodePayload{VideoID: id, SourceStorageKey: sourceKey, MimeType: mimeType}

			jobID, err := deps.Queue.Enqueue(cmd.Context(), models.TranscodeJob, payload, queue.Options{DedupKey: id.String()})
			duplicate := errors.Is(err, models.ErrDuplicate)
			if err != nil && !duplicate {
				return err
			}
			return printJSON(cmd, map[string]any{"job_id": jobID, "duplicate": duplicate})
		},
	}
	enqueue.Flags().StringVar(&videoID, "video-id", "", "video id")
	enqueue.Flags().StringVar(&sourceKey, "source-key", "", "storage key of the raw upload")
	enqueue.Flags().StringVar(&mimeType, "mime-type", "video/mp4", "mime type of the raw upload")
	_ = enqueue.MarkFlagRequired("video-id")
	_ = enqueue.MarkFlagRequired("source-key")

	variants := &cobra.Command{
		Use:   "variants <video-id>",
		Short: "List the stored quality variants of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid video id: %w", err)
			}
			list, err := deps.Videos.ListVariants(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		},
	}

	cmd.AddCommand(enqueue, variants)
	return cmd
}
