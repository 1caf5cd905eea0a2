package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ctscribe/internal/broker"
	"ctscribe/internal/transcription"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Enqueue caption jobs",
	}
	publishCmd.AddCommand(newPublishJobCommand(ctx, "transcribe", broker.QueueTranscribe,
		"Transcribe a video and write SRT and WebVTT captions"))
	publishCmd.AddCommand(newPublishJobCommand(ctx, "captions", broker.QueueGenerateCaptionFiles,
		"Re-render caption files from a previous transcription"))
	return publishCmd
}

func newPublishJobCommand(ctx *commandContext, use, queue, short string) *cobra.Command {
	var force bool
	var meta []string

	cmd := &cobra.Command{
		Use:   use + " <video-id> <media-path>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaPath, err := filepath.Abs(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("resolve media path: %w", err)
			}
			job := transcription.Job{VideoID: strings.TrimSpace(args[0]), MediaPath: mediaPath}
			if err := job.Validate(use); err != nil {
				return err
			}
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			params := broker.Parameters{Force: force, Metadata: metadata}

			return ctx.withBroker(cmd.Context(), func(b *broker.Broker) error {
				if err := broker.Publish(cmd.Context(), b, queue, job, params); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s for %s\n", queue, job.VideoID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Regenerate captions even if they already exist")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Job metadata as key=value (language, speech_language, phrase_hints)")
	return cmd
}

func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		metadata[key] = strings.TrimSpace(value)
	}
	return metadata, nil
}
