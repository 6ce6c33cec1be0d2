package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/EstifanosTeklay/automaton-auditor/internal/render"
	"github.com/EstifanosTeklay/automaton-auditor/internal/store"
)

var runsFlags struct {
	limit     int
	offset    int
	json      bool
	format    string
	olderThan time.Duration
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded audit runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full outcome of a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete recorded runs older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runRunsPrune,
}

func init() {
	pf := runsCmd.PersistentFlags()
	pf.BoolVar(&runsFlags.json, "json", false, "Print JSON")
	pf.StringVar(&runsFlags.format, "format", "table", "Table format: table or markdown")

	f := runsCmd.Flags()
	f.IntVar(&runsFlags.limit, "limit", 20, "Maximum runs to list")
	f.IntVar(&runsFlags.offset, "offset", 0, "Runs to skip")

	runsPruneCmd.Flags().DurationVar(&runsFlags.olderThan, "older-than", 30*24*time.Hour, "Age of runs to delete")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPruneCmd)
}

func openHistory() (*store.SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("no run history database configured")
	}
	return store.NewSQLiteStore(cfg.DBPath)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	mode, err := render.ParseMode(runsFlags.format)
	if err != nil {
		return err
	}
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, total, err := st.ListRuns(cmd.Context(), runsFlags.limit, runsFlags.offset)
	if err != nil {
		return err
	}
	if runsFlags.json {
		return render.JSON(cmd.OutOrStdout(), map[string]any{"runs": runs, "total": total})
	}
	fmt.Fprint(cmd.OutOrStdout(), render.Runs(runs, total, mode))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	mode, err := render.ParseMode(runsFlags.format)
	if err != nil {
		return err
	}
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	out, err := st.GetRun(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	if err != nil {
		return err
	}
	if runsFlags.json {
		return render.JSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprint(cmd.OutOrStdout(), render.Outcome(out, mode))
	return nil
}

func runRunsPrune(cmd *cobra.Command, _ []string) error {
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.Prune(cmd.Context(), time.Now().Add(-runsFlags.olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
	return nil
}
