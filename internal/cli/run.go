package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lucasnoah/mailgate/internal/config"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/integrity"
	"github.com/lucasnoah/mailgate/internal/logging"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
	"github.com/lucasnoah/mailgate/internal/stage"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a pipeline run through every stage",
	Long: `Start (or resume) a run and drive it from DataCollection to Delivery.

Each stage's payload comes from the first source that has one:
  1. the stage command configured under stages.<Stage>.command
  2. <stages-dir>/<Stage>.json (<Stage>.retry.json on retries)
  3. built-in sample payloads, with --fixtures

A new run takes its trace ID from --trace-id, or from the trace_id in
<stages-dir>/DataCollection.json so replayed payloads match the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetInt("max-retries"); cmd.Flags().Changed("max-retries") {
			cfg.Pipeline.MaxRetries = v
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.close(ctx)

		collab, err := buildCollaborator(cmd, cfg)
		if err != nil {
			return err
		}

		var o *orchestrator.Orchestrator
		if resumeID, _ := cmd.Flags().GetString("resume"); resumeID != "" {
			o, err = orchestrator.Resume(ctx, a.deps, cfg.OrchestratorConfig(), resumeID)
		} else {
			ocfg := cfg.OrchestratorConfig()
			if ocfg.TraceID, err = runTraceID(cmd); err != nil {
				return err
			}
			o, err = orchestrator.Start(ctx, a.deps, ocfg)
		}
		if err != nil {
			return err
		}

		started := o.Run()
		ctx = logging.WithRun(ctx, started.RunID, started.TraceID)
		a.log.Info(ctx, "run started")

		run, execErr := o.Execute(ctx, collab)
		records := o.Records()

		w := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			out := struct {
				Run        handoff.PipelineRun     `json:"run"`
				Records    []handoff.HandoffRecord `json:"records"`
				MerkleRoot string                  `json:"merkle_root,omitempty"`
			}{Run: run, Records: records}
			if len(records) > 0 {
				out.MerkleRoot = integrity.RunRoot(records)
			}
			if err := printJSON(w, out); err != nil {
				return err
			}
		} else {
			printRun(w, run, records)
		}

		if execErr != nil {
			return execErr
		}
		if run.Status == handoff.StatusFailed {
			return fmt.Errorf("run %s failed: %s", run.RunID, run.FailureReason)
		}
		return nil
	},
}

// runTraceID resolves the trace a new run adopts. Empty means a fresh one.
func runTraceID(cmd *cobra.Command) (string, error) {
	if id, _ := cmd.Flags().GetString("trace-id"); id != "" {
		return id, nil
	}
	dir, _ := cmd.Flags().GetString("stages-dir")
	if dir == "" {
		return "", nil
	}
	return stage.NewDirCollaborator(dir).TraceID()
}

// buildCollaborator routes configured stage commands first, then the stages
// directory, then fixtures.
func buildCollaborator(cmd *cobra.Command, cfg *config.Config) (orchestrator.Collaborator, error) {
	var fallback orchestrator.Collaborator
	dir, _ := cmd.Flags().GetString("stages-dir")
	useFixtures, _ := cmd.Flags().GetBool("fixtures")
	switch {
	case dir != "":
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("stages dir: %w", err)
		}
		fallback = stage.NewDirCollaborator(dir)
	case useFixtures:
		fallback = stage.Fixtures{}
	}

	commands := make(map[handoff.Stage]stage.Command, len(cfg.Stages))
	for name, sc := range cfg.Stages {
		commands[handoff.Stage(name)] = stage.Command{Command: sc.Command, Timeout: sc.Timeout}
	}
	if len(commands) == 0 && fallback == nil {
		return nil, errors.New("no payload source: configure stage commands, pass --stages-dir or --fixtures")
	}

	router := stage.NewRouter(fallback)
	if len(commands) > 0 {
		cc := stage.NewCommandCollaborator(nil, "", commands)
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			cc.SetProgress(cmd.ErrOrStderr())
		}
		for s := range commands {
			router.Route(s, cc)
		}
	}
	return router, nil
}

func printRun(w io.Writer, run handoff.PipelineRun, records []handoff.HandoffRecord) {
	fmt.Fprintf(w, "Run:      %s\n", run.RunID)
	fmt.Fprintf(w, "Trace:    %s\n", run.TraceID)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Stage:    %s\n", run.CurrentStage)
	fmt.Fprintf(w, "Retries:  %d/%d\n", run.IterationCount, run.MaxRetries)
	if len(records) > 0 {
		fmt.Fprintf(w, "Root:     %s\n", integrity.RunRoot(records))
	}

	if len(records) > 0 {
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			score := ""
			if r.QualityScore != nil {
				score = strconv.Itoa(r.QualityScore.Overall)
			}
			note := ""
			if r.Forced {
				note = "forced"
			}
			rows = append(rows, []string{
				strconv.Itoa(r.Seq),
				fmt.Sprintf("%s -> %s", r.StageFrom, r.StageTo),
				strconv.Itoa(len(r.ValidationResult.Errors)),
				score,
				note,
				r.Timestamp.Format("15:04:05.000"),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"Seq", "Transition", "Errors", "Score", "Note", "At"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignRight}))
	}

	switch {
	case run.Status == handoff.StatusFailed:
		fmt.Fprintln(w, verdictLine(w, verdictFail, run.FailureReason))
	case run.Warning:
		fmt.Fprintln(w, verdictLine(w, verdictWarn, strings.Join(run.Warnings, "; ")))
	case run.Status == handoff.StatusCompleted:
		fmt.Fprintln(w, verdictLine(w, verdictOK, "delivered"))
	}
}

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "List runs, or show one run and its handoff records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, cleanup, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		w := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")

		if len(args) == 1 {
			return showRun(ctx, w, store, args[0], format)
		}

		filter, _ := cmd.Flags().GetString("status")
		runs, err := store.ListRuns(ctx, handoff.RunStatus(filter))
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(w, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs found.")
			return nil
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			warn := ""
			if r.Warning {
				warn = strconv.Itoa(len(r.Warnings))
			}
			rows = append(rows, []string{
				r.RunID,
				string(r.Status),
				string(r.CurrentStage),
				fmt.Sprintf("%d/%d", r.IterationCount, r.MaxRetries),
				warn,
				r.UpdatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"Run", "Status", "Stage", "Retries", "Warnings", "Updated"}, rows, nil))
		return nil
	},
}

func showRun(ctx context.Context, w io.Writer, store runStore, runID, format string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	records, err := store.Records(ctx, runID)
	if err != nil {
		return err
	}
	if format == "json" {
		return printJSON(w, struct {
			Run     handoff.PipelineRun     `json:"run"`
			Records []handoff.HandoffRecord `json:"records"`
		}{run, records})
	}
	printRun(w, run, records)
	return nil
}

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Show the event log of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := d.GetPipelineEvents(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return printJSON(w, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(w, "No events found.")
			return nil
		}
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, []string{e.Timestamp, e.Stage, e.Event, e.State, truncate(e.Detail, 60)})
		}
		fmt.Fprintln(w, renderTable([]string{"Time", "Stage", "Event", "State", "Detail"}, rows, nil))
		return nil
	},
}

func init() {
	runCmd.Flags().String("stages-dir", "", "Directory of <Stage>.json payloads")
	runCmd.Flags().Bool("fixtures", false, "Use built-in sample payloads for stages without another source")
	runCmd.Flags().String("resume", "", "Resume an existing run by ID")
	runCmd.Flags().String("trace-id", "", "Trace ID for a new run (defaults to the stages dir's DataCollection trace_id)")
	runCmd.Flags().Int("max-retries", 1, "Override pipeline.max_retries")
	runCmd.Flags().Bool("quiet", false, "Suppress stage progress output")
	runCmd.Flags().String("format", "text", "Output format: text or json")

	statusCmd.Flags().String("status", "", "Filter by run status (Running, Completed, Failed, ...)")
	statusCmd.Flags().String("format", "text", "Output format: text or json")

	eventsCmd.Flags().String("format", "text", "Output format: text or json")
}
