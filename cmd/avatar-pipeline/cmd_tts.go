package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/tts"
)

func newTTSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tts <text>",
		Short: "Synthesize speech into the input directory",
		Long:  "Synthesizes text with ElevenLabs and saves the MP3 into the input directory,\nwhere the next run converts and uses it. The API key is read from ELEVENLABS_API_KEY.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			if v, _ := cmd.Flags().GetString("voice"); v != "" {
				cfg.TTS.VoiceID = v
			}

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				base := cfg.Paths.PipelineDir
				if base == "" {
					if base, err = os.Getwd(); err != nil {
						return err
					}
				}
				dir = cfg.Paths.InputDir
				if !filepath.IsAbs(dir) {
					dir = filepath.Join(base, dir)
				}
			}
			name, _ := cmd.Flags().GetString("name")

			client := tts.NewClient(cfg.TTS, nil, log)
			path, err := client.SynthesizeToFile(cmd.Context(), strings.Join(args, " "), dir, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", styleSuccess.Render("✓"), path)
			return nil
		},
	}
	cmd.Flags().String("voice", "", "Voice id (default from tts.voice_id)")
	cmd.Flags().String("dir", "", "Target directory (default the input directory)")
	cmd.Flags().String("name", "", "File name (default from tts.output_name)")
	cmd.AddCommand(newTTSVoicesCmd())
	return cmd
}

func newTTSVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List available voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			voices, err := tts.NewClient(cfg.TTS, nil, log).Voices(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, v := range voices {
				mark := " "
				if v.VoiceID == cfg.TTS.VoiceID {
					mark = styleSuccess.Render("*")
				}
				fmt.Fprintf(out, "  %s %s  %s %s\n", mark, styleValue.Render(v.VoiceID), v.Name, styleLabel.Render("("+v.Category+")"))
			}
			return nil
		},
	}
}
