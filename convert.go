package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"mediaconv/config"
	"mediaconv/errors"
	"mediaconv/models"
	"mediaconv/scheduler"
)

type convertOptions struct {
	format      string
	quality     int
	width       int
	height      int
	bgColor     string
	bgThreshold float64
	codec       string
	bitrate     string
	mute        bool
	out         string
}

func newConvertCmd(cfg func() *config.Config) *cobra.Command {
	var opts convertOptions
	cmd := &cobra.Command{
		Use:   "convert <file>...",
		Short: "Convert local files using the same queue as the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConvert(ctx, cfg(), opts, args, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "output format (default webp for images, mp4 for videos)")
	f.IntVar(&opts.quality, "quality", 0, "image quality 1-100 (0 = format default)")
	f.IntVar(&opts.width, "width", 0, "target width")
	f.IntVar(&opts.height, "height", 0, "target height")
	f.StringVar(&opts.bgColor, "bg-color", "", "chroma-key color to remove, #RRGGBB")
	f.Float64Var(&opts.bgThreshold, "bg-threshold", 10, "chroma-key threshold in percent")
	f.StringVar(&opts.codec, "codec", "", "ffmpeg video codec")
	f.StringVar(&opts.bitrate, "bitrate", "", "ffmpeg video bitrate, e.g. 2M")
	f.BoolVar(&opts.mute, "mute", false, "drop audio from videos")
	f.StringVar(&opts.out, "out", "", "output directory (default: next to each input)")
	return cmd
}

func (o convertOptions) settings(kind models.Kind) models.Settings {
	var s models.Settings
	switch kind {
	case models.KindImage:
		format := o.format
		if format == "" {
			format = "webp"
		}
		s.Image = &models.ImageSettings{Format: format, Quality: o.quality, Width: o.width, Height: o.height}
		if o.bgColor != "" {
			s.Image.RemoveBackground = &models.ChromaKeySettings{Color: o.bgColor, Threshold: o.bgThreshold}
		}
	case models.KindVideo:
		format := o.format
		if format == "" {
			format = "mp4"
		}
		s.Video = &models.VideoSettings{
			Format:    format,
			Codec:     o.codec,
			Bitrate:   o.bitrate,
			Width:     o.width,
			Height:    o.height,
			MuteAudio: o.mute,
		}
	}
	return s
}

// terminalWaiter counts jobs that reached Completed or Error.
type terminalWaiter struct {
	mu      sync.Mutex
	pending map[string]bool
	done    chan struct{}
	out     io.Writer
}

func (w *terminalWaiter) OnTransition(t models.Transition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	line := fmt.Sprintf("%s %s", t.JobID[:8], t.Status)
	if t.Error != "" {
		line += ": " + t.Error
	}
	fmt.Fprintln(w.out, line)

	if !t.Status.IsTerminal() || !w.pending[t.JobID] {
		return
	}
	delete(w.pending, t.JobID)
	if len(w.pending) == 0 {
		close(w.done)
	}
}

func runConvert(ctx context.Context, cfg *config.Config, opts convertOptions, files []string, out io.Writer) error {
	waiter := &terminalWaiter{pending: map[string]bool{}, done: make(chan struct{}), out: out}
	sched := scheduler.New(schedulerConfig(cfg), nil, pipelines(cfg), waiter)

	inputs := map[string]string{}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mediaType := models.DetectMediaType("", path, data)
		kind, err := models.KindFromMediaType(mediaType)
		if err != nil {
			return errors.Wrapf(err, "%s", path)
		}
		id, err := sched.AddJob(data, mediaType, filepath.Base(path), "local", opts.settings(kind))
		if err != nil {
			return errors.Wrapf(err, "%s", path)
		}
		inputs[id] = path
		waiter.mu.Lock()
		waiter.pending[id] = true
		waiter.mu.Unlock()
		fmt.Fprintf(out, "%s %s\n", id[:8], path)
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	sched.SubmitAll()

	select {
	case <-waiter.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var failed int
	for id, path := range inputs {
		job, _ := sched.Job(id)
		if job.Status != models.StatusCompleted || job.Result == nil {
			failed++
			continue
		}
		dir := opts.out
		if dir == "" {
			dir = filepath.Dir(path)
		}
		dest := filepath.Join(dir, job.Result.Filename)
		if dest == path {
			dest = filepath.Join(dir, "converted-"+job.Result.Filename)
		}
		if err := os.WriteFile(dest, job.Result.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%d bytes)\n", dest, len(job.Result.Data))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(inputs))
	}
	return nil
}
