package main

import (
	"github.com/spf13/cobra"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
	"github.com/EstifanosTeklay/automaton-auditor/internal/worker"
	"github.com/EstifanosTeklay/automaton-auditor/pkg/events"
)

var workerFlags struct {
	noStore bool
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve AuditWorkflow on a Temporal task queue",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerFlags.noStore, "no-store", false, "Do not record runs in the history database")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	runner, err := buildRunner(cmd.Context())
	if err != nil {
		return err
	}
	st, err := openStore(workerFlags.noStore)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	c, err := worker.Dial(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal, worker.Deps{
		Runner: runner,
		Store:  st,
		Sink:   events.NewLogEventSink(logging.New("worker")),
	})
	logging.New("worker").Info("worker starting",
		"host", cfg.Temporal.HostPort,
		"namespace", cfg.Temporal.Namespace,
		"task_queue", cfg.Temporal.TaskQueue)
	return w.Run(sdkworker.InterruptCh())
}
