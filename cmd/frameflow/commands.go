package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/extract"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/queue"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/sampler"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/snapshot"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

var (
	startFlag  int
	endFlag    int
	strideFlag int
	outputFlag string
	indexFlag  int
)

var probeCmd = &cobra.Command{
	Use:   "probe <video>",
	Short: "Print the frame count, rate and size of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, ff := setup()

		info, err := ff.Probe(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info.Model())
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <video>",
	Short: "Save every stride-th frame of a range as JPEG",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <video>",
	Short: "Save a single frame as JPEG",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <video>",
	Short: "Queue an extraction for a worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueue,
}

func init() {
	for _, c := range []*cobra.Command{extractCmd, enqueueCmd} {
		c.Flags().IntVar(&startFlag, "start", 0, "First frame of the range")
		c.Flags().IntVar(&endFlag, "end", -1, "Last frame of the range (-1 = last frame)")
		c.Flags().IntVarP(&strideFlag, "stride", "s", 10, "Save every Nth frame")
	}
	for _, c := range []*cobra.Command{extractCmd, snapshotCmd, enqueueCmd} {
		c.Flags().StringVarP(&outputFlag, "output", "o", "", "Output directory (default <video dir>/frames_output)")
	}
	snapshotCmd.Flags().IntVarP(&indexFlag, "index", "i", 0, "Frame to capture")
}

// resolveRange applies the CLI defaults to a range over a video with
// totalFrames frames and validates it.
func resolveRange(start, end, stride, totalFrames int) (sampler.Range, error) {
	if end < 0 {
		end = totalFrames - 1
	}
	r := sampler.Range{Start: start, End: end, Stride: stride}
	if err := r.Validate(totalFrames); err != nil {
		return sampler.Range{}, err
	}
	return r, nil
}

// outputDir returns flag, or dirName next to the video when flag is empty
func outputDir(flag, videoPath, dirName string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	abs, err := filepath.Abs(videoPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(abs), dirName), nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, logger, ff := setup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	videoPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	info, err := ff.Probe(ctx, videoPath)
	if err != nil {
		return err
	}
	r, err := resolveRange(startFlag, endFlag, strideFlag, info.TotalFrames)
	if err != nil {
		return err
	}
	dir, err := outputDir(outputFlag, videoPath, cfg.Extractor.OutputDirName)
	if err != nil {
		return err
	}

	extractor := extract.NewExtractor(ff, extract.Options{
		JPEGQuality:       cfg.Extractor.JPEGQuality,
		ProgressEvery:     cfg.Extractor.ProgressEvery,
		MaxDecodeFailures: cfg.Extractor.MaxDecodeFailures,
	}, logger)
	manager := extract.NewManager(extractor, logger, extract.WithSource("cli"))

	job, err := manager.Start(ctx, extract.Request{VideoPath: videoPath, OutputDir: dir, Range: r})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		job.Cancel()
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "Extracting %d frames from %s\n", r.Count(), filepath.Base(videoPath))
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Extracting"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
	)

	var final extract.Event
	for ev := range job.Events() {
		bar.Set(ev.Percent)
		bar.Describe(ev.Message)
		if ev.Terminal {
			final = ev
		}
	}
	bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())

	fmt.Fprintln(cmd.OutOrStdout(), final.Message)
	if !final.Success {
		return fmt.Errorf("extraction %s", final.Status)
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, logger, ff := setup()
	ctx := cmd.Context()

	dir, err := outputDir(outputFlag, args[0], cfg.Extractor.OutputDirName)
	if err != nil {
		return err
	}

	dec, err := ff.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer dec.Release()

	if indexFlag < 0 || indexFlag >= dec.Info().TotalFrames {
		return fmt.Errorf("index %d outside [0, %d]", indexFlag, dec.Info().TotalFrames-1)
	}

	snap, err := snapshot.NewCapturer(cfg.Extractor.JPEGQuality, logger).Capture(ctx, dec, indexFlag, dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), snap.Path)
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, _, ff := setup()
	ctx := cmd.Context()

	videoPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	info, err := ff.Probe(ctx, videoPath)
	if err != nil {
		return err
	}
	r, err := resolveRange(startFlag, endFlag, strideFlag, info.TotalFrames)
	if err != nil {
		return err
	}
	dir, err := outputDir(outputFlag, videoPath, cfg.Extractor.OutputDirName)
	if err != nil {
		return err
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return err
	}
	defer q.Close()

	req := &models.ExtractionRequest{
		JobID:     uuid.New().String(),
		VideoPath: videoPath,
		OutputDir: dir,
		Range:     extract.RangeToModel(r),
	}
	if err := q.PublishExtraction(ctx, req); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), req.JobID)
	return nil
}
