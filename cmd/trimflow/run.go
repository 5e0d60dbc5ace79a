package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/maauso/trimflow/internal/bootstrap"
	"github.com/maauso/trimflow/internal/config"
	"github.com/maauso/trimflow/internal/pipeline"
)

// eventBuffer is the capacity of the channel between the pipeline and the
// progress printer. Silence and segment lists arrive in bursts.
const eventBuffer = 1024

type runOptions struct {
	output     string
	threshold  float64
	minSilence float64
	suffix     string
	upload     bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <input> [input...]",
		Short: "Remove silence from one video, or several in sequence",
		Long: `Detects silent stretches, cuts the remaining segments out and joins them
into a single output next to the input. With more than one input the files are
processed one after another and the first failure stops the batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrim(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output path (single input only)")
	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", 0, "silence threshold in dB (default from SILENCE_THRESHOLD_DB)")
	cmd.Flags().Float64VarP(&opts.minSilence, "min-silence", "d", 0, "minimum silence length in seconds (default from MIN_SILENCE_DURATION)")
	cmd.Flags().StringVar(&opts.suffix, "suffix", "", "suffix for derived output names (default from OUTPUT_SUFFIX)")
	cmd.Flags().BoolVar(&opts.upload, "upload", false, "publish outputs to S3")
	return cmd
}

func runTrim(cmd *cobra.Command, args []string, opts runOptions) error {
	if opts.output != "" && len(args) > 1 {
		return fmt.Errorf("%w: --output cannot be used with multiple inputs", errUsage)
	}

	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.suffix != "" {
		cfg.OutputSuffix = opts.suffix
	}

	logger := cfg.NewLoggerTo(cmd.ErrOrStderr())
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	req := pipeline.Request{
		ThresholdDB:        deps.Defaults.ThresholdDB,
		MinSilenceDuration: deps.Defaults.MinDuration,
		Upload:             opts.upload,
	}
	if cmd.Flags().Changed("threshold") {
		req.ThresholdDB = opts.threshold
	}
	if cmd.Flags().Changed("min-silence") {
		req.MinSilenceDuration = opts.minSilence
	}
	if len(args) == 1 {
		req.InputPath = args[0]
		req.OutputPath = opts.output
	} else {
		req.BatchInputs = args
	}

	sink := pipeline.NewChannelSink(eventBuffer)
	wait := watch(cmd.ErrOrStderr(), sink)

	res, err := deps.Orchestrator.Run(ctx, req, sink)
	wait()

	printSummary(cmd.OutOrStdout(), res)
	return err
}

// watch prints the events of sink in the background. The returned function
// closes sink, waits for the printer and reports events lost to a full buffer.
func watch(w io.Writer, sink *pipeline.ChannelSink) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(w, sink.Events())
	}()
	return func() {
		sink.Close()
		<-done
		if n := sink.Dropped(); n > 0 {
			fmt.Fprintf(w, "(%d progress events dropped)\n", n)
		}
	}
}

// printEvents writes progress and log lines until events is closed.
func printEvents(w io.Writer, events <-chan pipeline.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case pipeline.Progress:
			fmt.Fprintf(w, "[%3d%%] %s\n", e.Percent, e.Status)
		case pipeline.LogLine:
			fmt.Fprintf(w, "       %s\n", e.Message)
		case pipeline.Completion:
			if e.Diagnostics != "" {
				fmt.Fprintf(w, "%s\n%s\n", e.Message, e.Diagnostics)
			} else {
				fmt.Fprintln(w, e.Message)
			}
		}
	}
}

// printSummary writes one line per finished file.
func printSummary(w io.Writer, res pipeline.Result) {
	for _, f := range res.Files {
		switch {
		case f.Passthrough:
			fmt.Fprintf(w, "%s -> %s (no silence found, copied)\n", f.Input, f.Output)
		default:
			fmt.Fprintf(w, "%s -> %s (kept %.1fs of %.1fs in %d segments)\n",
				f.Input, f.Output, f.KeptDuration, f.TotalDuration, f.Segments)
		}
		if f.URL != "" {
			fmt.Fprintf(w, "  uploaded: %s\n", f.URL)
		}
	}
}
