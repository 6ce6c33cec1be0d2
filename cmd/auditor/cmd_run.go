package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/EstifanosTeklay/automaton-auditor/internal/activity"
	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
	"github.com/EstifanosTeklay/automaton-auditor/internal/render"
	"github.com/EstifanosTeklay/automaton-auditor/internal/rubric"
	base "github.com/EstifanosTeklay/automaton-auditor/pkg/activity"
	"github.com/EstifanosTeklay/automaton-auditor/pkg/events"
)

var runFlags struct {
	json    bool
	format  string
	runID   string
	noStore bool
}

var runCmd = &cobra.Command{
	Use:   "run <repo> <doc>",
	Short: "Audit a repository and its report in-process",
	Long: "Runs the audit graph locally. <repo> is a GitHub/GitLab https URL, or a local\n" +
		"directory when --allow-local-repo is set; <doc> is a Markdown or text report.",
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runFlags.json, "json", false, "Print the outcome as JSON")
	f.StringVar(&runFlags.format, "format", "table", "Table format: table or markdown")
	f.StringVar(&runFlags.runID, "run-id", "", "Run id (random when empty)")
	f.BoolVar(&runFlags.noStore, "no-store", false, "Do not record the run in the history database")
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := render.ParseMode(runFlags.format)
	if err != nil {
		return err
	}
	r, err := rubric.Load(cfg.RubricPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	runner, err := newRunner(ctx)
	if err != nil {
		return err
	}
	st, err := openStore(runFlags.noStore)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	runID := runFlags.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	acts := activity.NewActivities(base.NewBaseActivities(events.NewLogEventSink(logging.New("cli"))), runner, st)
	out, runErr := acts.RunAudit(ctx, activity.AuditInput{
		RunID:  runID,
		Inputs: domain.RunInputs{RepoLocator: args[0], DocLocator: args[1]},
		Rubric: r,
	})
	if out == nil {
		return runErr
	}
	if runErr != nil {
		logging.New("cli").Error("audit did not finish", "run_id", out.RunID, "error", runErr)
	}

	w := cmd.OutOrStdout()
	if runFlags.json {
		if err := render.JSON(w, out); err != nil {
			return err
		}
	} else {
		fmt.Fprint(w, render.Outcome(out, mode))
		fmt.Fprintln(w, render.StatusLine(out))
	}
	if code := audit.ExitCode(out, runErr); code != audit.ExitComplete {
		return exitError{code: code}
	}
	return nil
}
