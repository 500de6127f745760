package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mediaconv/config"
	"mediaconv/transcode"
)

func newProbeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <video>",
		Short: "Print ffprobe stream and container metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p := transcode.New(transcode.Options{FFmpeg: c.Transcode.FFmpeg, FFprobe: c.Transcode.FFprobe, TempDir: c.Transcode.TempDir})
			meta, err := p.Probe(cmd.Context(), data, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "duration=%s video_streams=%d audio_streams=%d\n",
				meta.Duration(), len(meta.VideoStreams()), len(meta.AudioStreams()))
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}
}
