package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/EstifanosTeklay/automaton-auditor/internal/audit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/render"
	"github.com/EstifanosTeklay/automaton-auditor/internal/rubric"
	"github.com/EstifanosTeklay/automaton-auditor/internal/worker"
	"github.com/EstifanosTeklay/automaton-auditor/internal/workflow"
)

var submitFlags struct {
	wait    bool
	json    bool
	format  string
	timeout time.Duration
}

var submitCmd = &cobra.Command{
	Use:   "submit <repo> <doc>",
	Short: "Start AuditWorkflow on Temporal",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.BoolVar(&submitFlags.wait, "wait", true, "Wait for the workflow and print its outcome")
	f.BoolVar(&submitFlags.json, "json", false, "Print the result as JSON")
	f.StringVar(&submitFlags.format, "format", "table", "Table format: table or markdown")
	f.DurationVar(&submitFlags.timeout, "timeout", workflow.DefaultAuditTimeout, "Timeout of each audit attempt")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	mode, err := render.ParseMode(submitFlags.format)
	if err != nil {
		return err
	}
	r, err := rubric.Load(cfg.RubricPath)
	if err != nil {
		return err
	}
	req := workflow.AuditRequest{
		RepoLocator: args[0],
		DocLocator:  args[1],
		Rubric:      r,
		Timeout:     submitFlags.timeout,
		MaxAttempts: int32(cfg.Temporal.ActivityRetry),
	}
	if err := req.Validate(); err != nil {
		return err
	}

	c, err := worker.Dial(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "audit-" + uuid.NewString(),
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflow.AuditWorkflow, req)
	if err != nil {
		return fmt.Errorf("start audit workflow: %w", err)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
	if !submitFlags.wait {
		return nil
	}

	var res workflow.AuditResult
	if err := run.Get(ctx, &res); err != nil {
		return fmt.Errorf("audit workflow %s: %w", run.GetID(), err)
	}
	if submitFlags.json {
		if err := render.JSON(w, res); err != nil {
			return err
		}
	} else if res.Outcome != nil {
		fmt.Fprint(w, render.Outcome(res.Outcome, mode))
		fmt.Fprintln(w, render.StatusLine(res.Outcome))
	}
	if res.ExitCode != audit.ExitComplete {
		return exitError{code: res.ExitCode}
	}
	return nil
}
