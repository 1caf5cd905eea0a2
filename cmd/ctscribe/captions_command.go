package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ctscribe/internal/captions"
	"ctscribe/internal/transcription"
)

const cueSidecarSuffix = ".cues.json"

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	captionsCmd := &cobra.Command{
		Use:   "captions",
		Short: "Build caption files offline",
	}
	captionsCmd.AddCommand(newCaptionsSegmentCommand(ctx))
	captionsCmd.AddCommand(newCaptionsRenderCommand(ctx))
	return captionsCmd
}

func newCaptionsSegmentCommand(ctx *commandContext) *cobra.Command {
	var outStem, lang string

	cmd := &cobra.Command{
		Use:   "segment <words.json>",
		Short: "Segment a JSON array of recognizer words into SRT and WebVTT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read words: %w", err)
			}
			var raw []json.RawMessage
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse words: expected a JSON array: %w", err)
			}

			result := captions.NewSegmenter(transcription.SegmenterOptions(cfg.Captions)).SegmentRaw(raw)
			paths := stemPaths(args[0], outStem, ".json")
			if err := captions.WriteFiles(paths, result.Cues, languageOr(lang, cfg.Captions.Language)); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %d cues to %s and %s\n", len(result.Cues), paths.SRT, paths.VTT)
			if result.Skipped > 0 {
				fmt.Fprintf(out, "Skipped %d malformed words\n", result.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outStem, "out", "o", "", "Output path without extension (defaults to the input name)")
	cmd.Flags().StringVar(&lang, "lang", "", "WebVTT language (defaults to captions.language)")
	return cmd
}

func newCaptionsRenderCommand(ctx *commandContext) *cobra.Command {
	var outStem, lang string
	var maxChars int

	cmd := &cobra.Command{
		Use:   "render <file.srt|file.cues.json>",
		Short: "Split long cues and rewrite SRT and WebVTT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input := args[0]

			var (
				cues []captions.Cue
				ext  string
			)
			switch {
			case strings.HasSuffix(input, cueSidecarSuffix):
				ext = cueSidecarSuffix
				cues, err = captions.ReadCueSidecar(input)
			case strings.EqualFold(filepath.Ext(input), ".srt"):
				ext = filepath.Ext(input)
				var data []byte
				if data, err = os.ReadFile(input); err == nil {
					cues, err = captions.ParseSRT(string(data))
				}
			default:
				return fmt.Errorf("unsupported input %q: expected .srt or %s", input, cueSidecarSuffix)
			}
			if err != nil {
				return err
			}

			if maxChars <= 0 {
				maxChars = cfg.Captions.MaxLineChars
			}
			split := captions.SplitLongCues(cues, maxChars)
			paths := stemPaths(input, outStem, ext)
			paths.Cues = ""
			if err := captions.WriteFiles(paths, split, languageOr(lang, cfg.Captions.Language)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rendered %d cues (%d before splitting) to %s and %s\n",
				len(split), len(cues), paths.SRT, paths.VTT)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outStem, "out", "o", "", "Output path without extension (defaults to the input name)")
	cmd.Flags().StringVar(&lang, "lang", "", "WebVTT language (defaults to captions.language)")
	cmd.Flags().IntVar(&maxChars, "max-line-chars", 0, "Split cues longer than this (defaults to captions.max_line_chars)")
	return cmd
}

func stemPaths(input, outStem, ext string) captions.Paths {
	stem := strings.TrimSpace(outStem)
	if stem == "" {
		stem = strings.TrimSuffix(input, ext)
	}
	return captions.Paths{SRT: stem + ".srt", VTT: stem + ".vtt", Cues: stem + cueSidecarSuffix}
}

func languageOr(flag, fallback string) string {
	if lang := strings.TrimSpace(flag); lang != "" {
		return lang
	}
	return fallback
}
