package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// Observer receives executor lifecycle notifications. Calls are made from the
// executor's merge loop and must not block.
type Observer interface {
	NodeStarted(node string)
	NodeFinished(node string, status domain.NodeStatus, elapsed time.Duration)
	EvidenceMerged(node string, accepted, rejected int)
	RunFinished(status domain.RunStatus, elapsed time.Duration)
}

// NoopObserver discards all notifications.
type NoopObserver struct{}

func (NoopObserver) NodeStarted(string)                                    {}
func (NoopObserver) NodeFinished(string, domain.NodeStatus, time.Duration) {}
func (NoopObserver) EvidenceMerged(string, int, int)                       {}
func (NoopObserver) RunFinished(domain.RunStatus, time.Duration)           {}

// DefaultCancelGrace is how long a timed-out or cancelled node may take to
// return before the executor stops waiting for it.
const DefaultCancelGrace = 10 * time.Second

// Config controls execution policy.
type Config struct {
	// NodeTimeout bounds each node's execution. Zero disables the deadline.
	NodeTimeout time.Duration
	// CancelGrace bounds the wait for a node to return after its context is
	// done. Defaults to DefaultCancelGrace.
	CancelGrace time.Duration
	// MaxParallel caps concurrently executing nodes. Zero means unbounded.
	MaxParallel int
	// AbortOnFatal cancels the whole run on the first fatal node failure
	// instead of skipping only that node's dependents.
	AbortOnFatal bool
	// Classifier decides soft vs fatal for node errors. Defaults to DefaultClassifier.
	Classifier Classifier
	// Observer receives lifecycle notifications. Defaults to NoopObserver.
	Observer Observer
}

// NodeResult is the outcome of a single node.
type NodeResult struct {
	Status   domain.NodeStatus
	Err      error
	Elapsed  time.Duration
	Accepted int // evidence items merged
	Rejected int // evidence items dropped by validation
}

// Result is the outcome of a run. State is frozen.
type Result struct {
	State   *domain.RunState
	Nodes   map[string]NodeResult
	Status  domain.RunStatus
	Elapsed time.Duration
}

// Executor runs a Graph. It exclusively owns the canonical RunState during Run.
type Executor struct {
	graph *Graph
	cfg   Config
}

// NewExecutor creates an executor for g.
func NewExecutor(g *Graph, cfg Config) *Executor {
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	return &Executor{graph: g, cfg: cfg}
}

type completion struct {
	id       string
	patch    domain.Patch
	err      error
	timedOut bool
	elapsed  time.Duration
}

// run holds the mutable bookkeeping of one execution. Everything except the
// node goroutines is touched only from the merge loop in Executor.Run.
type run struct {
	e      *Executor
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	state   *domain.RunState
	status  map[string]domain.NodeStatus
	results map[string]NodeResult

	done     chan completion
	group    errgroup.Group
	inFlight int

	aborted    bool
	abortCause string
}

// Run executes the graph to completion starting from initial, which is not
// modified. It returns a DeadlockError alongside the result when a fatal
// failure left required nodes unexecuted, and ctx.Err() when the caller
// cancelled the run.
func (e *Executor) Run(ctx context.Context, initial *domain.RunState) (*Result, error) {
	if initial == nil {
		return nil, execErr("", "nil initial state")
	}
	if initial.Frozen() {
		return nil, domain.ErrStateFrozen
	}
	if e.graph == nil || e.graph.Len() == 0 {
		return nil, execErr("", "graph has no nodes")
	}

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		e:       e,
		ctx:     runCtx,
		cancel:  cancel,
		logger:  logging.FromContext(ctx).With("component", "executor"),
		state:   initial.Clone(),
		status:  make(map[string]domain.NodeStatus, e.graph.Len()),
		results: make(map[string]NodeResult, e.graph.Len()),
		done:    make(chan completion, e.graph.Len()),
	}
	if e.cfg.MaxParallel > 0 {
		r.group.SetLimit(e.cfg.MaxParallel)
	}
	for _, id := range e.graph.order {
		r.status[id] = domain.NodePending
	}

	r.logger.Debug("starting run", "nodes", e.graph.Len(), "max_parallel", e.cfg.MaxParallel)
	for _, id := range e.graph.order {
		if len(e.graph.vertices[id].upstream) == 0 {
			r.launch(id)
		}
	}

	for r.inFlight > 0 {
		r.handle(<-r.done)
	}
	if err := r.group.Wait(); err != nil {
		r.logger.Error("node goroutine failed", "error", err)
	}

	status, runErr := r.finalStatus()
	r.state.Freeze()
	elapsed := time.Since(start)
	e.cfg.Observer.RunFinished(status, elapsed)
	r.logger.Info("run finished", "status", status, "elapsed", elapsed,
		"evidence", r.state.Evidence.Len(), "node_errors", len(r.state.NodeErrors))

	res := &Result{State: r.state, Nodes: r.results, Status: status, Elapsed: elapsed}
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	return res, runErr
}

func (r *run) launch(id string) {
	v := r.e.graph.vertices[id]
	r.status[id] = domain.NodeRunning
	r.inFlight++
	r.e.cfg.Observer.NodeStarted(id)
	r.logger.Debug("node started", "node", id)

	timeout := v.timeout
	if timeout == 0 {
		timeout = r.e.cfg.NodeTimeout
	}
	snap := r.state.Snapshot()
	// With MaxParallel set, Go blocks until a slot frees. Node goroutines never
	// block on r.done, which is sized for every node.
	r.group.Go(func() error {
		r.done <- r.execute(v.node, snap, timeout)
		return nil
	})
}

// execute runs one node under its deadline. Once the deadline passes or the
// run is cancelled, the node gets CancelGrace to return and release what it
// holds; only then is its outcome reported. A node still running after the
// grace period is abandoned. Late results are discarded either way.
func (r *run) execute(n Node, snap domain.Snapshot, timeout time.Duration) completion {
	c := completion{id: n.ID()}
	nodeCtx, cancel := context.WithCancel(r.ctx)
	if timeout > 0 {
		nodeCtx, cancel = context.WithTimeout(r.ctx, timeout)
	}
	defer cancel()
	nodeCtx = logging.WithLogger(nodeCtx, r.logger.With("node", n.ID()))

	start := time.Now()
	out := make(chan completion, 1)
	go func() {
		res := completion{id: n.ID()}
		defer func() {
			if p := recover(); p != nil {
				res = completion{id: n.ID(), err: &PanicError{Node: n.ID(), Value: p}}
			}
			out <- res
		}()
		res.patch, res.err = n.Run(nodeCtx, snap)
	}()

	abandoned := false
	select {
	case c = <-out:
	case <-nodeCtx.Done():
		c.err = nodeCtx.Err()
		abandoned = !r.await(n.ID(), out)
	}
	c.elapsed = time.Since(start)
	if c.err != nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && r.ctx.Err() == nil {
		c.timedOut = true
		c.err = fmt.Errorf("deadline of %s exceeded: %w", timeout, c.err)
	}
	if abandoned {
		c.err = fmt.Errorf("%w (node abandoned after %s grace)", c.err, r.e.cfg.CancelGrace)
	}
	return c
}

// await waits up to CancelGrace for a node whose context is done. It reports
// whether the node returned.
func (r *run) await(id string, out <-chan completion) bool {
	timer := time.NewTimer(r.e.cfg.CancelGrace)
	defer timer.Stop()
	select {
	case <-out:
		return true
	case <-timer.C:
		r.logger.Error("abandoning node that ignored cancellation", "node", id, "grace", r.e.cfg.CancelGrace)
		return false
	}
}

func errorKind(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, domain.ErrSchema):
		return domain.KindSchema
	case errors.Is(err, domain.ErrCollaborator):
		return domain.KindCollaborator
	case errors.As(err, new(*PanicError)):
		return domain.KindPanic
	default:
		return domain.KindFailure
	}
}

func (r *run) classify(id string, err error) domain.NodeStatus {
	c := r.e.graph.vertices[id].classify
	if c == nil {
		c = r.e.cfg.Classifier
	}
	if c(err) == domain.NodeFailedSoft {
		return domain.NodeFailedSoft
	}
	return domain.NodeFailedFatal
}

// handle is the single serialized merge step for a finished node.
func (r *run) handle(c completion) {
	r.inFlight--
	res := NodeResult{Err: c.err, Elapsed: c.elapsed}

	var status domain.NodeStatus
	var rec *domain.NodeError
	switch {
	case c.err == nil:
		status = domain.NodeSucceeded
	case c.timedOut:
		status = domain.NodeFailedSoft
		rec = &domain.NodeError{Kind: domain.KindTimeout, Message: c.err.Error()}
	case r.aborted && errors.Is(c.err, context.Canceled):
		status = domain.NodeSkipped
		rec = &domain.NodeError{Kind: domain.KindSkipped, Cause: r.abortCause,
			Message: fmt.Sprintf("cancelled after fatal failure of '%s'", r.abortCause)}
	default:
		status = r.classify(c.id, c.err)
		rec = &domain.NodeError{Kind: errorKind(c.err), Message: c.err.Error()}
	}

	var patch domain.Patch
	if status == domain.NodeSucceeded {
		patch, res.Accepted, res.Rejected, rec = r.prepare(c.id, c.patch)
	}
	if status.Satisfies() {
		patch.CompletedNodes = []string{c.id}
	}
	if rec != nil {
		rec.Node, rec.Status = c.id, status
		patch.NodeErrors = map[string]domain.NodeError{c.id: *rec}
	}

	if err := r.state.Apply(patch); err != nil {
		status = domain.NodeFailedFatal
		res.Err = err
		ne := domain.NodeError{Node: c.id, Status: status, Kind: domain.KindFailure, Message: err.Error()}
		if applyErr := r.state.Apply(domain.Patch{NodeErrors: map[string]domain.NodeError{c.id: ne}}); applyErr != nil {
			r.logger.Error("failed to record merge failure", "node", c.id, "error", applyErr)
		}
		res.Accepted, res.Rejected = 0, 0
	}

	res.Status = status
	r.status[c.id] = status
	r.results[c.id] = res
	r.e.cfg.Observer.NodeFinished(c.id, status, c.elapsed)
	if status == domain.NodeSucceeded {
		r.e.cfg.Observer.EvidenceMerged(c.id, res.Accepted, res.Rejected)
	}
	r.logNode(c.id, res)

	switch status {
	case domain.NodeFailedFatal:
		r.skipDependents(c.id, c.id)
		if r.e.cfg.AbortOnFatal && !r.aborted {
			r.abort(c.id)
		}
	case domain.NodeSkipped:
		r.skipDependents(c.id, r.abortCause)
	default:
		r.release(c.id)
	}
}

// prepare stamps, validates and reduces a successful node's patch to the keys
// a node may contribute. NodeErrors and CompletedNodes are executor-owned.
func (r *run) prepare(id string, p domain.Patch) (domain.Patch, int, int, *domain.NodeError) {
	if len(p.NodeErrors) > 0 || len(p.CompletedNodes) > 0 {
		r.logger.Warn("ignoring executor-owned keys in node patch", "node", id)
	}
	items := make([]domain.EvidenceItem, len(p.Evidence))
	for i, it := range p.Evidence {
		if it.SourceNode == "" {
			it.SourceNode = id
		}
		items[i] = it
	}
	clean, errs := domain.SanitizePatch(domain.Patch{Evidence: items}, r.state.Rubric)
	out := domain.Patch{Evidence: clean.Evidence, Report: p.Report}
	if len(errs) == 0 {
		return out, len(clean.Evidence), 0, nil
	}
	for _, err := range errs {
		r.logger.Warn("dropping invalid evidence", "node", id, "error", err)
	}
	rec := &domain.NodeError{
		Kind:    domain.KindSchema,
		Dropped: len(errs),
		Message: errors.Join(errs...).Error(),
	}
	return out, len(clean.Evidence), len(errs), rec
}

func (r *run) logNode(id string, res NodeResult) {
	attrs := []any{"node", id, "status", res.Status, "elapsed", res.Elapsed}
	switch res.Status {
	case domain.NodeSucceeded:
		r.logger.Info("node finished", append(attrs, "accepted", res.Accepted, "rejected", res.Rejected)...)
	case domain.NodeFailedSoft:
		r.logger.Warn("node failed", append(attrs, "error", res.Err)...)
	default:
		r.logger.Error("node failed", append(attrs, "error", res.Err)...)
	}
}

// release launches every dependent of id whose upstream barrier is now satisfied.
func (r *run) release(id string) {
	for _, d := range r.e.graph.vertices[id].downstream {
		if r.status[d] != domain.NodePending || !r.ready(d) {
			continue
		}
		if r.ctx.Err() != nil {
			r.skip(d, id, "run cancelled before node started")
			r.skipDependents(d, id)
			continue
		}
		r.launch(d)
	}
}

func (r *run) ready(id string) bool {
	for _, up := range r.e.graph.vertices[id].upstream {
		if !r.status[up].Satisfies() {
			return false
		}
	}
	return true
}

func (r *run) skip(id, cause, msg string) {
	r.status[id] = domain.NodeSkipped
	ne := domain.NodeError{Node: id, Status: domain.NodeSkipped, Kind: domain.KindSkipped, Cause: cause, Message: msg}
	if err := r.state.Apply(domain.Patch{NodeErrors: map[string]domain.NodeError{id: ne}}); err != nil {
		r.logger.Error("failed to record skipped node", "node", id, "error", err)
	}
	r.results[id] = NodeResult{Status: domain.NodeSkipped}
	r.e.cfg.Observer.NodeFinished(id, domain.NodeSkipped, 0)
	r.logger.Warn("skipping node", "node", id, "cause", cause)
}

// skipDependents marks every pending transitive dependent of id as skipped.
func (r *run) skipDependents(id, cause string) {
	for _, d := range r.e.graph.vertices[id].downstream {
		if r.status[d] != domain.NodePending {
			continue
		}
		r.skip(d, cause, fmt.Sprintf("skipped due to upstream failure of '%s'", cause))
		r.skipDependents(d, cause)
	}
}

// abort cancels in-flight nodes and skips everything not yet started.
func (r *run) abort(cause string) {
	r.aborted = true
	r.abortCause = cause
	r.cancel()
	for _, id := range r.e.graph.order {
		if r.status[id] == domain.NodePending {
			r.skip(id, cause, fmt.Sprintf("run aborted after fatal failure of '%s'", cause))
		}
	}
}

func (r *run) finalStatus() (domain.RunStatus, error) {
	var fatal, skipped, pending []string
	partial := len(r.state.NodeErrors) > 0
	for _, id := range r.e.graph.order {
		switch r.status[id] {
		case domain.NodeFailedFatal:
			fatal = append(fatal, id)
		case domain.NodeSkipped:
			skipped = append(skipped, id)
		case domain.NodePending, domain.NodeRunning:
			pending = append(pending, id)
		}
	}

	switch {
	case len(pending) > 0:
		return domain.RunDeadlocked, &domain.DeadlockError{Blocking: r.blocker(pending[0]), Waiting: pending}
	case len(fatal) > 0 && len(skipped) > 0:
		return domain.RunDeadlocked, &domain.DeadlockError{Blocking: fatal[0], Waiting: skipped}
	case len(fatal) > 0:
		return domain.RunFailed, nil
	case partial:
		return domain.RunPartial, nil
	default:
		return domain.RunComplete, nil
	}
}

// blocker walks up from a pending node to the first dependency that never
// reached a satisfying state.
func (r *run) blocker(id string) string {
	for _, up := range r.e.graph.vertices[id].upstream {
		if !r.status[up].Satisfies() {
			if r.status[up] == domain.NodePending {
				return r.blocker(up)
			}
			return up
		}
	}
	return id
}
