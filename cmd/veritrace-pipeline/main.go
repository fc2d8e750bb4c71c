// Package main runs the data reliability pipeline once from the command
// line, against the same stores the API server uses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veritrace/platform/internal/app/domain/ingest"
	"github.com/veritrace/platform/internal/app/domain/pipeline"
	"github.com/veritrace/platform/internal/app/runtime"
	pipelinesvc "github.com/veritrace/platform/internal/app/services/pipeline"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (default: CONFIG_FILE or config/veritrace.yaml)")
	source := flag.String("source", "", "Source data file to process (required)")
	output := flag.String("output", "", "Output path for the processed file (default: derived from the source name)")
	branch := flag.String("branch", "", "Branch to commit the output to (default: the configured default branch)")
	sourceFormat := flag.String("source-format", "", "Source format override: csv, json or xlsx (default: by extension)")
	format := flag.String("format", "text", "Summary format: text or json")
	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "missing required -source flag")
		flag.Usage()
		os.Exit(2)
	}
	if *format != "text" && *format != "json" {
		fmt.Fprintf(os.Stderr, "invalid -format %q: want text or json\n", *format)
		os.Exit(2)
	}

	cfg, err := runtime.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	app, err := runtime.NewWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialise platform: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, runErr := app.Platform().Pipeline.Run(ctx, pipelinesvc.RunRequest{
		SourcePath: *source,
		OutputPath: *output,
		Branch:     *branch,
		Format:     ingest.Format(*sourceFormat),
		Trigger:    pipeline.TriggerCLI,
	})

	if err := app.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if *format == "json" {
		renderJSON(os.Stdout, run)
	} else {
		renderText(os.Stdout, run)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "pipeline run failed: %v\n", runErr)
		os.Exit(1)
	}
}

func renderJSON(w io.Writer, run pipeline.Run) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		log.Printf("encode run: %v", err)
	}
}

func renderText(w io.Writer, run pipeline.Run) {
	if run.ID == "" {
		return
	}
	fmt.Fprintf(w, "Run:        %s\n", run.ID)
	fmt.Fprintf(w, "Status:     %s\n", run.Status)
	fmt.Fprintf(w, "Source:     %s\n", run.SourcePath)
	fmt.Fprintf(w, "Output:     %s\n", run.OutputPath)
	fmt.Fprintf(w, "Rows:       %d\n", run.RowsProcessed)
	fmt.Fprintf(w, "Validation: %s (%d issues)\n", passLabel(run.ValidationPassed), run.QualityIssues)
	fmt.Fprintf(w, "Anomalies:  %d (%.2f%%)\n", run.AnomalyCount, run.AnomalyRate*100)
	if run.CommitID != "" {
		fmt.Fprintf(w, "Commit:     %s\n", run.CommitID)
	}
	if run.TransactionID != "" {
		fmt.Fprintf(w, "Ledger tx:  %s\n", run.TransactionID)
	}
	if run.OutputHash != "" {
		fmt.Fprintf(w, "Hash:       %s\n", run.OutputHash)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", run.Error)
	}
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Duration:   %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
}

func passLabel(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

func init() {
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[veritrace-pipeline] ")
}
