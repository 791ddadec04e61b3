// ABOUTME: Executes action plans: ready-set dispatch over a worker pool,
// ABOUTME: transient retries, cancellation with abort, skip propagation

package applier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/pool"
	"github.com/openstack/watcher-sub000/store"
)

// Options configures an Applier.
type Options struct {
	Store    store.Store
	Compute  clients.ComputeClient
	Storage  clients.StorageClient
	Workers  *pool.Pool
	Hostname string

	// ActionTimeout bounds one action's handler calls end to end.
	ActionTimeout time.Duration
	// PollInterval paces migration and volume status polling.
	PollInterval time.Duration
	// ExecutionRule is halt or continue (config.ExecutionRule*).
	ExecutionRule string
	// MaxRetries bounds per-action retries of transient execute failures.
	MaxRetries int
	// RetryInterval separates retry attempts.
	RetryInterval time.Duration
	// HeartbeatInterval paces liveness beats on the running plan.
	HeartbeatInterval time.Duration
}

// Applier executes persisted action plans against the infrastructure.
type Applier struct {
	store    store.Store
	compute  clients.ComputeClient
	storage  clients.StorageClient
	workers  *pool.Pool
	hostname string

	actionTimeout     time.Duration
	pollInterval      time.Duration
	executionRule     string
	maxRetries        int
	retryInterval     time.Duration
	heartbeatInterval time.Duration

	mu   sync.Mutex
	runs map[string]*planRun
}

func New(opts Options) *Applier {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ExecutionRule == "" {
		opts.ExecutionRule = config.ExecutionRuleContinue
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	return &Applier{
		store:             opts.Store,
		compute:           opts.Compute,
		storage:           opts.Storage,
		workers:           opts.Workers,
		hostname:          opts.Hostname,
		actionTimeout:     opts.ActionTimeout,
		pollInterval:      opts.PollInterval,
		executionRule:     opts.ExecutionRule,
		maxRetries:        opts.MaxRetries,
		retryInterval:     opts.RetryInterval,
		heartbeatInterval: opts.HeartbeatInterval,
	}
}

// planRun tracks one executing plan: its cancel flag and the actions
// currently in flight, so a cancel can reach them.
type planRun struct {
	mu        sync.Mutex
	cancelled bool
	inflight  map[string]inflightAction
}

type inflightAction struct {
	handler Handler
	action  *models.Action
}

func (r *planRun) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *planRun) track(a *models.Action, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[a.UUID] = inflightAction{handler: h, action: a}
}

func (r *planRun) untrack(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, uuid)
}

// Execute runs the plan to a terminal state. It blocks until done; the
// decision engine submits it to a worker pool for background execution.
func (a *Applier) Execute(ctx context.Context, planUUID string) error {
	plan, err := a.store.GetPlan(planUUID)
	if err != nil {
		return err
	}
	if plan.State == models.PlanRecommended {
		if err := plan.TransitionTo(models.PlanPending); err != nil {
			return err
		}
	}
	if plan.State != models.PlanPending {
		return models.Invalid("action plan %s is %s; only PENDING plans execute", plan.UUID, plan.State)
	}
	plan.Hostname = a.hostname
	if err := plan.TransitionTo(models.PlanOngoing); err != nil {
		return err
	}
	if err := a.store.SavePlan(plan); err != nil {
		return err
	}
	slog.Info("action plan execution started", "plan", plan.UUID, "applier", a.hostname)

	run := &planRun{inflight: make(map[string]inflightAction)}
	a.mu.Lock()
	if a.runs == nil {
		a.runs = make(map[string]*planRun)
	}
	a.runs[plan.UUID] = run
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.runs, plan.UUID)
		a.mu.Unlock()
	}()

	// The heartbeat must be fully stopped before a terminal state is
	// saved, or a late tick could write a stale ONGOING copy over it.
	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		a.heartbeat(plan.UUID, stopHeartbeat)
	}()
	var heartbeatOnce sync.Once
	joinHeartbeat := func() {
		heartbeatOnce.Do(func() { close(stopHeartbeat) })
		<-heartbeatDone
	}
	defer joinHeartbeat()

	for {
		if run.isCancelled() {
			joinHeartbeat()
			return a.finishCancelled(plan)
		}
		actions, err := a.store.ListActionsForPlan(plan.UUID)
		if err != nil {
			return err
		}
		ready := readyActions(actions)
		if len(ready) == 0 {
			break
		}

		g, gctx := a.workers.Group(ctx)
		for _, action := range ready {
			g.Go(func() error {
				a.runAction(gctx, run, action)
				return nil
			})
		}
		_ = g.Wait()

		actions, err = a.store.ListActionsForPlan(plan.UUID)
		if err != nil {
			return err
		}
		if err := a.propagateSkips(actions); err != nil {
			return err
		}
		if a.executionRule == config.ExecutionRuleHalt && anyFailed(actions) {
			if err := a.skipRemaining(actions); err != nil {
				return err
			}
			break
		}
	}

	joinHeartbeat()
	return a.finish(plan, run)
}

// readyActions returns the PENDING actions whose parents all SUCCEEDED.
func readyActions(actions []*models.Action) []*models.Action {
	byUUID := make(map[string]*models.Action, len(actions))
	for _, action := range actions {
		byUUID[action.UUID] = action
	}
	var ready []*models.Action
	for _, action := range actions {
		if action.State != models.ActionPending {
			continue
		}
		ok := true
		for _, parent := range action.Parents {
			if p, found := byUUID[parent]; !found || p.State != models.ActionSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, action)
		}
	}
	return ready
}

func (a *Applier) runAction(ctx context.Context, run *planRun, action *models.Action) {
	if run.isCancelled() {
		a.settle(action, models.ActionCancelled, "")
		return
	}
	handler, err := a.handlerFor(action.Type)
	if err != nil {
		a.settle(action, models.ActionFailed, err.Error())
		return
	}
	if err := action.TransitionTo(models.ActionOngoing); err != nil {
		slog.Error("action dispatch raced its state", "action", action.UUID, "error", err)
		return
	}
	if err := a.store.SaveAction(action); err != nil {
		slog.Error("saving action state", "action", action.UUID, "error", err)
		return
	}

	run.track(action, handler)
	defer run.untrack(action.UUID)

	actx, cancel := context.WithTimeout(ctx, a.actionTimeout)
	defer cancel()

	if err := handler.PreCondition(actx, action); err != nil {
		a.settleOngoing(run, action, fmt.Errorf("precondition: %w", err))
		return
	}

	var execErr error
	for attempt := 0; ; attempt++ {
		execErr = handler.Execute(actx, action)
		if execErr == nil || !models.IsTransient(execErr) || attempt >= a.maxRetries {
			break
		}
		slog.Warn("retrying action after transient failure",
			"action", action.UUID, "type", action.Type, "attempt", attempt+1, "error", execErr)
		select {
		case <-actx.Done():
			execErr = actx.Err()
		case <-time.After(a.retryInterval):
			continue
		}
		break
	}
	if execErr != nil {
		a.settleOngoing(run, action, fmt.Errorf("execute: %w", execErr))
		return
	}

	if err := handler.PostCondition(actx, action); err != nil {
		a.settleOngoing(run, action, fmt.Errorf("postcondition: %w", err))
		return
	}
	a.settleOngoing(run, action, nil)
}

// settleOngoing finishes an ONGOING action. A failure during an accepted
// cancel counts as cancelled, not failed.
func (a *Applier) settleOngoing(run *planRun, action *models.Action, err error) {
	switch {
	case err == nil:
		a.settle(action, models.ActionSucceeded, "")
		slog.Info("action succeeded", "action", action.UUID, "type", action.Type)
	case run.isCancelled():
		a.settle(action, models.ActionCancelled, err.Error())
		slog.Info("action cancelled", "action", action.UUID, "type", action.Type)
	default:
		a.settle(action, models.ActionFailed, err.Error())
		slog.Error("action failed", "action", action.UUID, "type", action.Type, "error", err)
	}
}

func (a *Applier) settle(action *models.Action, state models.ActionState, message string) {
	action.Message = message
	if err := action.TransitionTo(state); err != nil {
		slog.Error("illegal action transition", "action", action.UUID, "error", err)
		return
	}
	if err := a.store.SaveAction(action); err != nil {
		slog.Error("saving action state", "action", action.UUID, "error", err)
	}
}

// propagateSkips marks every pending descendant of a failed action
// SKIPPED; they can never become ready.
func (a *Applier) propagateSkips(actions []*models.Action) error {
	children := make(map[string][]*models.Action)
	var queue []string
	for _, action := range actions {
		for _, parent := range action.Parents {
			children[parent] = append(children[parent], action)
		}
		if action.State == models.ActionFailed || action.State == models.ActionSkipped {
			queue = append(queue, action.UUID)
		}
	}
	seen := make(map[string]bool)
	for len(queue) > 0 {
		uuid := queue[0]
		queue = queue[1:]
		if seen[uuid] {
			continue
		}
		seen[uuid] = true
		for _, child := range children[uuid] {
			if child.State == models.ActionPending {
				a.settle(child, models.ActionSkipped, "a required parent action did not succeed")
			}
			queue = append(queue, child.UUID)
		}
	}
	return nil
}

// skipRemaining marks every still-pending action SKIPPED; used by the
// halt execution rule after a failure.
func (a *Applier) skipRemaining(actions []*models.Action) error {
	for _, action := range actions {
		if action.State == models.ActionPending {
			a.settle(action, models.ActionSkipped, "plan halted after an action failure")
		}
	}
	return nil
}

func anyFailed(actions []*models.Action) bool {
	for _, action := range actions {
		if action.State == models.ActionFailed {
			return true
		}
	}
	return false
}

func (a *Applier) finish(plan *models.ActionPlan, run *planRun) error {
	if run.isCancelled() {
		return a.finishCancelled(plan)
	}
	actions, err := a.store.ListActionsForPlan(plan.UUID)
	if err != nil {
		return err
	}
	next := models.PlanSucceeded
	for _, action := range actions {
		if action.State != models.ActionSucceeded {
			next = models.PlanFailed
			plan.Message = fmt.Sprintf("action %s ended %s", action.UUID, action.State)
			break
		}
	}
	if err := plan.TransitionTo(next); err != nil {
		return err
	}
	if err := a.store.SavePlan(plan); err != nil {
		return err
	}
	slog.Info("action plan finished", "plan", plan.UUID, "state", plan.State)
	return nil
}

func (a *Applier) finishCancelled(plan *models.ActionPlan) error {
	actions, err := a.store.ListActionsForPlan(plan.UUID)
	if err != nil {
		return err
	}
	for _, action := range actions {
		if action.State == models.ActionPending {
			a.settle(action, models.ActionCancelled, "plan cancelled")
		}
	}
	if err := plan.TransitionTo(models.PlanCancelled); err != nil {
		return err
	}
	if err := a.store.SavePlan(plan); err != nil {
		return err
	}
	slog.Info("action plan cancelled", "plan", plan.UUID)
	return nil
}

// Cancel requests cancellation of a plan. A running plan stops
// dispatching, aborts abortable in-flight actions, and settles as
// CANCELLED; a not-yet-started plan is cancelled in place. Terminal
// plans reject the request.
func (a *Applier) Cancel(ctx context.Context, planUUID string) error {
	a.mu.Lock()
	run := a.runs[planUUID]
	a.mu.Unlock()

	if run != nil {
		run.mu.Lock()
		run.cancelled = true
		inflight := make([]inflightAction, 0, len(run.inflight))
		for _, ia := range run.inflight {
			inflight = append(inflight, ia)
		}
		run.mu.Unlock()

		for _, ia := range inflight {
			aborter, ok := ia.handler.(Aborter)
			if !ok {
				continue
			}
			if err := aborter.Abort(ctx, ia.action); err != nil {
				slog.Warn("aborting in-flight action", "action", ia.action.UUID, "error", err)
			}
		}
		slog.Info("cancel accepted for running plan", "plan", planUUID)
		return nil
	}

	plan, err := a.store.GetPlan(planUUID)
	if err != nil {
		return err
	}
	if plan.State.Terminal() {
		return models.Invalid("action plan %s is already %s", plan.UUID, plan.State)
	}
	actions, err := a.store.ListActionsForPlan(plan.UUID)
	if err != nil {
		return err
	}
	for _, action := range actions {
		if action.State == models.ActionPending {
			a.settle(action, models.ActionCancelled, "plan cancelled before launch")
		}
	}
	if err := plan.TransitionTo(models.PlanCancelled); err != nil {
		return err
	}
	return a.store.SavePlan(plan)
}

// heartbeat refreshes the running plan's UpdatedAt so other applier
// instances can tell it is alive.
func (a *Applier) heartbeat(planUUID string, stop <-chan struct{}) {
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			plan, err := a.store.GetPlan(planUUID)
			if err != nil || plan.State != models.PlanOngoing {
				continue
			}
			plan.UpdatedAt = time.Now().UTC()
			if err := a.store.SavePlan(plan); err != nil {
				slog.Warn("heartbeat save failed", "plan", planUUID, "error", err)
			}
		}
	}
}

// FailStrandedPlans finds ONGOING plans owned by another applier whose
// heartbeat went stale and fails them cleanly. Run at startup before
// accepting new launches.
func (a *Applier) FailStrandedPlans(staleAfter time.Duration) error {
	plans, err := a.store.ListPlans()
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-staleAfter)
	for _, plan := range plans {
		if plan.State != models.PlanOngoing || plan.Hostname == a.hostname || plan.UpdatedAt.After(cutoff) {
			continue
		}
		actions, err := a.store.ListActionsForPlan(plan.UUID)
		if err != nil {
			return err
		}
		for _, action := range actions {
			if action.State == models.ActionPending || action.State == models.ActionOngoing {
				a.settle(action, models.ActionCancelled, "applier went away mid-plan")
			}
		}
		plan.Message = fmt.Sprintf("inherited from stranded applier %q", plan.Hostname)
		if err := plan.TransitionTo(models.PlanFailed); err != nil {
			return err
		}
		if err := a.store.SavePlan(plan); err != nil {
			return err
		}
		slog.Warn("failed stranded plan", "plan", plan.UUID, "previous_applier", plan.Hostname)
	}
	return nil
}
