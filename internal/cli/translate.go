package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/minhvu-dev/subsweep/internal/bootstrap"
	"github.com/minhvu-dev/subsweep/internal/dispatch"
	"github.com/minhvu-dev/subsweep/internal/gemini"
	"github.com/minhvu-dev/subsweep/internal/json"
	log "github.com/minhvu-dev/subsweep/internal/logging"
	"github.com/minhvu-dev/subsweep/internal/srt"
	"github.com/minhvu-dev/subsweep/internal/usage"
)

var (
	translateOutput     string
	translateModel      string
	translateWorkers    int
	translateLines      int
	translateParts      int
	translateTask       string
	translatePromptFile string
	translateScale      float64
	translateJSON       bool
)

var translateCmd = &cobra.Command{
	Use:   "translate <input.srt>",
	Short: "Translate a subtitle file",
	Long: `Translate an SRT file in parallel chunks, rotating across the whole
credential fleet. The output keeps the original timing; only cue text is
replaced. On fleet exhaustion the batch falls back to the next model tier
automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		res, err := bootstrap.Bootstrap(cfgFile)
		if err != nil {
			return err
		}
		cfg := res.Config

		if translateWorkers > 0 {
			cfg.Dispatch.Workers = translateWorkers
		}
		if translateModel != "" {
			cfg.Dispatch.Model = translateModel
		}

		initUsageBackend(cfg)
		defer func() {
			if err := usage.Stop(); err != nil {
				log.Warnf("usage shutdown: %v", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fleet, err := bootstrap.OpenFleet(ctx, cfg)
		if err != nil {
			return err
		}

		input := args[0]
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open %s: %w", input, err)
		}
		entries, err := srt.Parse(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		lines := srt.Lines(entries)
		if len(lines) == 0 {
			return fmt.Errorf("%s contains no subtitle text", input)
		}

		var parts []srt.Part
		if translateParts > 0 {
			parts = srt.SplitIntoParts(lines, translateParts)
		} else {
			parts = srt.SplitByLines(lines, translateLines)
		}

		var template []byte
		if translatePromptFile != "" {
			template, err = os.ReadFile(translatePromptFile)
			if err != nil {
				return fmt.Errorf("read prompt template: %w", err)
			}
		}

		chunks := make([]dispatch.Chunk, len(parts))
		for i, p := range parts {
			chunks[i] = dispatch.Chunk{ID: uuid.NewString(), Name: p.Name, Lines: p.Lines}
		}

		prompt := func(chunk dispatch.Chunk) (string, error) {
			return gemini.BuildPrompt(template, translateTask, chunk.Lines)
		}

		clientOpts := []gemini.Option{}
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, gemini.WithBaseURL(cfg.BaseURL))
		}
		client := gemini.NewClient(time.Duration(cfg.RequestTimeoutSeconds)*time.Second, clientOpts...)

		d := dispatch.New(fleet.Scheduler, fleet.Recorder, client, prompt, dispatch.Config{
			Workers:     cfg.Dispatch.Workers,
			Stagger:     time.Duration(cfg.Rotation.DelayBetweenMs) * time.Millisecond,
			KeyAttempts: cfg.Dispatch.KeyAttempts,
			Models:      cfg.Dispatch.Models,
			Retry:       cfg.Dispatch.RetryConfig(),
		}, usage.GetSink())

		log.Infof("translating %s: %d lines in %d chunk(s)", input, len(lines), len(chunks))
		report, runErr := d.Run(ctx, chunks, cfg.Dispatch.Model)
		if report == nil {
			return runErr
		}

		if fleet.Backup != nil {
			if err := fleet.Backup.Upload(context.Background()); err != nil {
				log.Warnf("state backup failed: %v", err)
			}
		}

		if translateJSON {
			out, err := json.MarshalIndent(report, "", "  ")
			if err == nil {
				fmt.Println(string(out))
			}
		} else {
			printReport(report)
		}

		if runErr != nil {
			return runErr
		}
		if !report.Complete() {
			return fmt.Errorf("%d of %d chunks failed", report.TotalChunks-report.DoneChunks, report.TotalChunks)
		}

		translated := make([][]string, len(report.Chunks))
		for i, cr := range report.Chunks {
			translated[i] = cr.Lines
		}
		merged := srt.MergeParts(translated)

		outEntries, applied := srt.ApplyTranslation(entries, merged)
		if applied < len(entries) {
			log.Warnf("translated %d of %d cues; the rest keep their source text", applied, len(entries))
		}
		if translateScale != 1.0 {
			outEntries = srt.ScaleTiming(outEntries, translateScale)
		}

		output := translateOutput
		if output == "" {
			output = input + ".translated.srt"
		}
		of, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		if err := srt.Write(of, outEntries); err != nil {
			_ = of.Close()
			return err
		}
		if err := of.Close(); err != nil {
			return err
		}

		fmt.Printf("Wrote %s (%d cues)\n", output, len(outEntries))
		return nil
	},
}

func printReport(r *dispatch.Report) {
	fmt.Printf("Batch %s: %d/%d chunks done on %s (tiers tried: %v)\n",
		r.BatchID, r.DoneChunks, r.TotalChunks, r.FinalModel, r.TiersTried)
	if r.FleetExhausted {
		fmt.Println("Every credential is exhausted on every model tier; try again after the daily reset.")
	}
	for _, cr := range r.Failed() {
		fmt.Printf("  FAILED %s: %s\n", cr.Name, cr.LastError)
	}
	for _, cr := range r.Chunks {
		if cr.Done && cr.CountMismatch {
			fmt.Printf("  WARNING %s: translated line count differs from source\n", cr.Name)
		}
	}
}

func init() {
	translateCmd.Flags().StringVarP(&translateOutput, "output", "o", "", "output SRT path (default: <input>.translated.srt)")
	translateCmd.Flags().StringVarP(&translateModel, "model", "m", "", "starting model tier")
	translateCmd.Flags().IntVarP(&translateWorkers, "workers", "w", 0, "concurrent chunk workers")
	translateCmd.Flags().IntVar(&translateLines, "lines-per-part", 100, "lines per translation chunk")
	translateCmd.Flags().IntVar(&translateParts, "parts", 0, "split into a fixed number of chunks instead")
	translateCmd.Flags().StringVar(&translateTask, "task", "translate_subtitles", "prompt task name")
	translateCmd.Flags().StringVar(&translatePromptFile, "prompt-template", "", "JSON prompt template file")
	translateCmd.Flags().Float64Var(&translateScale, "scale", 1.0, "scale output timing by this factor")
	translateCmd.Flags().BoolVar(&translateJSON, "json", false, "print the batch report as JSON")
	rootCmd.AddCommand(translateCmd)
}
