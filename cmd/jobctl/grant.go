package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/romariotrain/media-jobs/internal/download"
)

func grantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Offline download grants",
	}

	var userID, deviceID, videoID, quality, token string

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a grant and a presigned download URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			vid, err := uuid.Parse(videoID)
			if err != nil {
				return fmt.Errorf("invalid --video-id: %w", err)
			}
			t, err := deps.Downloads.RequestDownload(cmd.Context(), download.Request{
				UserID: userID, DeviceID: deviceID, VideoID: vid, Quality: quality,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"decryption_token": t.Grant.Token,
				"expires_at":       t.Grant.ExpiresAt,
				"storage_key":      t.StorageKey,
				"download_url":     t.PresignedURL,
			})
		},
	}
	issue.Flags().StringVar(&videoID, "video-id", "", "video id")
	issue.Flags().StringVar(&quality, "quality", "720p", "variant quality")
	_ = issue.MarkFlagRequired("video-id")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check whether a token is a live grant for the user and device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ok, err := deps.Downloads.Verify(cmd.Context(), token, userID, deviceID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"valid": ok})
		},
	}
	verify.Flags().StringVar(&token, "token", "", "decryption token")
	_ = verify.MarkFlagRequired("token")

	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke grants for a device, or every device when --device is omitted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := deps.Downloads.Revoke(cmd.Context(), userID, deviceID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"revoked": n})
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired grants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := deps.Downloads.CleanupExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"deleted": n})
		},
	}

	for _, c := range []*cobra.Command{issue, verify, revoke} {
		c.Flags().StringVar(&userID, "user", "", "user id")
		_ = c.MarkFlagRequired("user")
	}
	for _, c := range []*cobra.Command{issue, verify} {
		c.Flags().StringVar(&deviceID, "device", "", "device id")
		_ = c.MarkFlagRequired("device")
	}
	revoke.Flags().StringVar(&deviceID, "device", "", "device id (all devices when empty)")

	cmd.AddCommand(issue, verify, revoke, cleanup)
	return cmd
}
