// ABOUTME: Decision engine: runs the audit pipeline end to end and exposes
// ABOUTME: the trigger/launch/cancel/info surface over the bus and HTTP

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openstack/watcher-sub000/applier"
	"github.com/openstack/watcher-sub000/collector"
	"github.com/openstack/watcher-sub000/datasource"
	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/planner"
	"github.com/openstack/watcher-sub000/pool"
	"github.com/openstack/watcher-sub000/store"
	"github.com/openstack/watcher-sub000/strategy"
)

// Options wires the decision engine's collaborators.
type Options struct {
	Store       store.Store
	Compute     *collector.ComputeCollector
	Storage     *collector.StorageCollector
	Dispatcher  *collector.Dispatcher
	Datasources *datasource.Manager
	Planner     *planner.Planner
	Applier     *applier.Applier
	Launcher    *pool.Pool
	Bus         *Bus

	// PlannerName selects the scheduling algorithm for recommended plans.
	PlannerName string
	// ContinuousInterval applies to continuous audits with no interval of
	// their own.
	ContinuousInterval time.Duration
	// SchedulerTick paces the continuous-audit scheduler loop.
	SchedulerTick time.Duration
}

// Engine orchestrates audits: scope -> model -> strategy -> plan.
type Engine struct {
	store       store.Store
	compute     *collector.ComputeCollector
	storage     *collector.StorageCollector
	dispatcher  *collector.Dispatcher
	datasources *datasource.Manager
	planner     *planner.Planner
	applier     *applier.Applier
	launcher    *pool.Pool
	bus         *Bus

	plannerName        string
	continuousInterval time.Duration
	schedulerTick      time.Duration
}

func New(opts Options) *Engine {
	if opts.PlannerName == "" {
		opts.PlannerName = planner.DefaultName
	}
	if opts.ContinuousInterval <= 0 {
		opts.ContinuousInterval = time.Hour
	}
	if opts.SchedulerTick <= 0 {
		opts.SchedulerTick = 10 * time.Second
	}
	return &Engine{
		store:              opts.Store,
		compute:            opts.Compute,
		storage:            opts.Storage,
		dispatcher:         opts.Dispatcher,
		datasources:        opts.Datasources,
		planner:            opts.Planner,
		applier:            opts.Applier,
		launcher:           opts.Launcher,
		bus:                opts.Bus,
		plannerName:        opts.PlannerName,
		continuousInterval: opts.ContinuousInterval,
		schedulerTick:      opts.SchedulerTick,
	}
}

// CreateAudit persists a new audit in PENDING. A missing uuid is filled
// in; the uuid is returned for the caller to track.
func (e *Engine) CreateAudit(audit *models.Audit) (string, error) {
	if audit.UUID == "" {
		audit.UUID = uuid.NewString()
	}
	if audit.Type == "" {
		audit.Type = models.AuditOneshot
	}
	if _, err := strategy.New(audit.StrategyName); err != nil {
		return "", err
	}
	audit.State = models.AuditPending
	audit.CreatedAt = time.Now().UTC()
	audit.UpdatedAt = audit.CreatedAt
	if err := e.store.CreateAudit(audit); err != nil {
		return "", err
	}
	slog.Info("audit created", "audit", audit.UUID, "strategy", audit.StrategyName, "type", audit.Type)
	return audit.UUID, nil
}

// TriggerAudit schedules the audit pipeline on the launcher pool.
func (e *Engine) TriggerAudit(ctx context.Context, auditUUID string) error {
	if _, err := e.store.GetAudit(auditUUID); err != nil {
		return err
	}
	return e.launcher.Submit(ctx, "audit:"+auditUUID, func(ctx context.Context) error {
		return e.RunAudit(ctx, auditUUID)
	})
}

// RunAudit executes one audit pipeline synchronously: build the model
// for the audit's scope, run the strategy, plan the solution. The audit
// ends SUCCEEDED or FAILED; a pre-execute failure creates no plan.
func (e *Engine) RunAudit(ctx context.Context, auditUUID string) error {
	audit, err := e.store.GetAudit(auditUUID)
	if err != nil {
		return err
	}
	if err := audit.TransitionTo(models.AuditOngoing); err != nil {
		return err
	}
	if err := e.store.SaveAudit(audit); err != nil {
		return err
	}
	slog.Info("audit started", "audit", audit.UUID, "strategy", audit.StrategyName)

	plan, err := e.runPipeline(ctx, audit)
	if err != nil {
		return e.failAudit(audit, err)
	}

	audit.LastRunAt = time.Now().UTC()
	if err := audit.TransitionTo(models.AuditSucceeded); err != nil {
		return err
	}
	if err := e.store.SaveAudit(audit); err != nil {
		return err
	}
	slog.Info("audit succeeded", "audit", audit.UUID, "plan", plan.UUID, "plan_state", plan.State)

	if audit.AutoTrigger && plan.State == models.PlanRecommended {
		if err := e.LaunchActionPlan(ctx, plan.UUID); err != nil {
			slog.Error("auto-launching plan", "plan", plan.UUID, "error", err)
		}
	}
	return nil
}

func (e *Engine) runPipeline(ctx context.Context, audit *models.Audit) (*models.ActionPlan, error) {
	strat, err := strategy.New(audit.StrategyName)
	if err != nil {
		return nil, err
	}

	// Datasource coverage is checked up front so a misconfigured audit
	// fails before any expensive model build.
	if required := strat.RequiredMetrics(); len(required) > 0 {
		if _, err := e.datasources.GetBackend(required); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
		}
	}
	router := e.datasources.Router(strat.DatasourcePreference())

	model, err := e.compute.Execute(ctx, audit.Scope)
	if err != nil {
		return nil, fmt.Errorf("building compute model: %w", err)
	}
	var storageModel *models.StorageModel
	if e.storage != nil {
		storageModel, err = e.storage.Execute(ctx, audit.Scope)
		if err != nil {
			return nil, fmt.Errorf("building storage model: %w", err)
		}
	}

	sc := &strategy.Context{
		Model:    model,
		Storage:  storageModel,
		Router:   router,
		Params:   audit.Parameters,
		Solution: &models.Solution{StrategyName: strat.Name()},
	}
	if err := strat.PreExecute(ctx, sc); err != nil {
		return nil, fmt.Errorf("strategy %s pre-execute: %w", strat.Name(), err)
	}
	if err := strat.DoExecute(ctx, sc); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
	}
	if err := strat.PostExecute(ctx, sc); err != nil {
		return nil, fmt.Errorf("strategy %s post-execute: %w", strat.Name(), err)
	}

	if e.plannerName == planner.WeightName {
		// The weight planner cross-links resizes to migrations sharing a
		// host; resolve hosts against the model this audit just built.
		hostOf := func(instanceUUID string) (string, bool) {
			node, err := model.NodeForInstance(instanceUUID)
			if err != nil {
				return "", false
			}
			return node.Hostname, true
		}
		return e.planner.BuildPlanWith(audit, sc.Solution, planner.NewWeightPlanner(hostOf))
	}
	return e.planner.BuildPlan(audit, sc.Solution, e.plannerName)
}

func (e *Engine) failAudit(audit *models.Audit, cause error) error {
	audit.Message = cause.Error()
	if err := audit.TransitionTo(models.AuditFailed); err != nil {
		slog.Error("failing audit", "audit", audit.UUID, "error", err)
		return cause
	}
	if err := e.store.SaveAudit(audit); err != nil {
		slog.Error("saving failed audit", "audit", audit.UUID, "error", err)
	}
	slog.Error("audit failed", "audit", audit.UUID, "error", cause)
	return cause
}

// LaunchActionPlan schedules plan execution on the launcher pool. The
// applier records its identity on the plan when it picks it up.
func (e *Engine) LaunchActionPlan(ctx context.Context, planUUID string) error {
	plan, err := e.store.GetPlan(planUUID)
	if err != nil {
		return err
	}
	if plan.State != models.PlanRecommended && plan.State != models.PlanPending {
		return models.Invalid("action plan %s is %s; only RECOMMENDED or PENDING plans launch",
			plan.UUID, plan.State)
	}
	return e.launcher.Submit(ctx, "plan:"+planUUID, func(ctx context.Context) error {
		return e.applier.Execute(ctx, planUUID)
	})
}

// CancelActionPlan forwards a cancel request to the applier.
func (e *Engine) CancelActionPlan(ctx context.Context, planUUID string) error {
	return e.applier.Cancel(ctx, planUUID)
}

// DeleteAudit soft-deletes an audit. The state machine rejects audits
// still ONGOING; cancel or let them finish first.
func (e *Engine) DeleteAudit(uuid string) error {
	if err := e.store.SoftDeleteAudit(uuid); err != nil {
		return err
	}
	slog.Info("audit deleted", "audit", uuid)
	return nil
}

// DeleteActionPlan soft-deletes an action plan. PENDING and ONGOING
// plans must be cancelled before they can be deleted.
func (e *Engine) DeleteActionPlan(uuid string) error {
	if err := e.store.SoftDeletePlan(uuid); err != nil {
		return err
	}
	slog.Info("action plan deleted", "plan", uuid)
	return nil
}

// StrategyInfo is the schema and metadata served for one strategy.
type StrategyInfo struct {
	Name                 string                            `json:"name"`
	DisplayName          string                            `json:"display_name"`
	RequiredMetrics      []string                          `json:"required_metrics"`
	DatasourcePreference []string                          `json:"datasource_preference,omitempty"`
	Parameters           map[string]strategy.ParameterDesc `json:"parameters"`
}

// GetStrategyInfo returns the schema for the named strategy.
func (e *Engine) GetStrategyInfo(name string) (*StrategyInfo, error) {
	strat, err := strategy.New(name)
	if err != nil {
		return nil, err
	}
	return &StrategyInfo{
		Name:                 strat.Name(),
		DisplayName:          strat.DisplayName(),
		RequiredMetrics:      strat.RequiredMetrics(),
		DatasourcePreference: strat.DatasourcePreference(),
		Parameters:           strat.ParameterSpec(),
	}, nil
}

// ListStrategies returns the info of every registered strategy.
func (e *Engine) ListStrategies() []*StrategyInfo {
	names := strategy.Names()
	out := make([]*StrategyInfo, 0, len(names))
	for _, name := range names {
		if info, err := e.GetStrategyInfo(name); err == nil {
			out = append(out, info)
		}
	}
	return out
}

// GetDataModelInfo serializes the current cluster data model of the
// given type (compute or storage).
func (e *Engine) GetDataModelInfo(modelType string) (any, error) {
	switch modelType {
	case "", "compute":
		model, err := e.compute.Model()
		if err != nil {
			return nil, err
		}
		return model.Snapshot(), nil
	case "storage":
		if e.storage == nil {
			return nil, models.NotFound("data model", modelType)
		}
		model, err := e.storage.Model()
		if err != nil {
			return nil, err
		}
		return model.Snapshot(), nil
	default:
		return nil, models.Invalid("unknown data model type %q", modelType)
	}
}

// BindNotifications subscribes the collector dispatcher to the given
// bus topics so infrastructure events fold into the cluster model.
func (e *Engine) BindNotifications(topics []string) {
	for _, topic := range topics {
		e.bus.Subscribe(topic, func(ctx context.Context, payload any) {
			event, ok := payload.(collector.Event)
			if !ok {
				slog.Warn("Dropping non-event payload", "topic", topic)
				return
			}
			if err := e.dispatcher.Dispatch(ctx, event); err != nil {
				slog.Error("Notification handler failed",
					"topic", topic, "event_type", event.EventType, "error", err)
			}
		})
	}
}

// RPCRequest is the envelope for control messages on the conductor
// topics. Query methods publish an RPCResponse on ReplyTo when set.
type RPCRequest struct {
	Method  string `json:"method"`
	UUID    string `json:"uuid,omitempty"`    // audit or plan uuid
	Name    string `json:"name,omitempty"`    // strategy name for get_strategy_info
	Type    string `json:"type,omitempty"`    // model type for get_data_model_info
	ReplyTo string `json:"reply_to,omitempty"`
}

// RPCResponse carries a query result back on the requester's topic.
type RPCResponse struct {
	Method string `json:"method"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RPC method names accepted on the conductor topics.
const (
	MethodTriggerAudit     = "trigger_audit"
	MethodLaunchActionPlan = "launch_action_plan"
	MethodCancelActionPlan = "cancel_action_plan"
	MethodGetStrategyInfo  = "get_strategy_info"
	MethodGetDataModelInfo = "get_data_model_info"
)

// BindRPC serves the control surface on a conductor topic.
func (e *Engine) BindRPC(topic string) {
	e.bus.Subscribe(topic, func(ctx context.Context, payload any) {
		req, ok := payload.(RPCRequest)
		if !ok {
			slog.Warn("Dropping malformed control message", "topic", topic)
			return
		}
		var (
			result any
			err    error
		)
		switch req.Method {
		case MethodTriggerAudit:
			err = e.TriggerAudit(ctx, req.UUID)
		case MethodLaunchActionPlan:
			err = e.LaunchActionPlan(ctx, req.UUID)
		case MethodCancelActionPlan:
			err = e.CancelActionPlan(ctx, req.UUID)
		case MethodGetStrategyInfo:
			result, err = e.GetStrategyInfo(req.Name)
		case MethodGetDataModelInfo:
			result, err = e.GetDataModelInfo(req.Type)
		default:
			slog.Warn("Unknown control method", "topic", topic, "method", req.Method)
			return
		}
		if err != nil {
			slog.Error("Control method failed", "method", req.Method, "uuid", req.UUID, "error", err)
		}
		if req.ReplyTo == "" {
			return
		}
		resp := RPCResponse{Method: req.Method, Result: result}
		if err != nil {
			resp.Error = err.Error()
		}
		if pubErr := e.bus.Publish(ctx, req.ReplyTo, resp); pubErr != nil {
			slog.Error("Publishing control reply failed", "topic", req.ReplyTo, "error", pubErr)
		}
	})
}

// Run drives continuous audits until ctx is cancelled: each tick, every
// continuous audit whose interval has elapsed is re-triggered.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.triggerDueAudits(ctx)
		}
	}
}

func (e *Engine) triggerDueAudits(ctx context.Context) {
	audits, err := e.store.ListAudits()
	if err != nil {
		slog.Error("listing audits for scheduling", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, audit := range audits {
		if audit.Type != models.AuditContinuous || audit.State == models.AuditOngoing ||
			audit.State == models.AuditCancelled || audit.State == models.AuditDeleted {
			continue
		}
		interval := audit.Interval
		if interval <= 0 {
			interval = e.continuousInterval
		}
		if !audit.LastRunAt.IsZero() && now.Sub(audit.LastRunAt) < interval {
			continue
		}
		if err := e.TriggerAudit(ctx, audit.UUID); err != nil {
			slog.Error("triggering continuous audit", "audit", audit.UUID, "error", err)
		}
	}
}
