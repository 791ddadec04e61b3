// ABOUTME: Turns a strategy solution into a persisted DAG action plan
// ABOUTME: Validates every action type before any store write happens

package planner

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/store"
)

// Algorithm orders a solution's proposed actions into a DAG. Schedule
// returns actions with uuids and parent links assigned; the caller binds
// them to a plan and persists them.
type Algorithm interface {
	Name() string
	Schedule(proposed []models.ProposedAction) ([]*models.Action, error)
}

var algorithms = map[string]func() Algorithm{}

// RegisterAlgorithm makes a planner algorithm available by name. Called
// from init; duplicate names are a programming error.
func RegisterAlgorithm(name string, factory func() Algorithm) {
	if _, dup := algorithms[name]; dup {
		panic(fmt.Sprintf("planner algorithm %q registered twice", name))
	}
	algorithms[name] = factory
}

// NewAlgorithm returns the named algorithm, or ErrNotFound.
func NewAlgorithm(name string) (Algorithm, error) {
	factory, ok := algorithms[name]
	if !ok {
		return nil, models.NotFound("planner", name)
	}
	return factory(), nil
}

// AlgorithmNames lists the registered planner algorithms, sorted.
func AlgorithmNames() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Planner persists action plans built from solutions.
type Planner struct {
	store store.Store
}

func New(s store.Store) *Planner {
	return &Planner{store: s}
}

// BuildPlan schedules the solution with the named algorithm and persists
// the resulting plan, its actions, and the solution's efficacy
// indicators. Any prior non-terminal plan for the same audit is
// superseded. Nothing is written if validation or scheduling fails, so a
// rejected solution never leaves a partial plan behind.
func (p *Planner) BuildPlan(audit *models.Audit, solution *models.Solution, algorithm string) (*models.ActionPlan, error) {
	algo, err := NewAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	return p.BuildPlanWith(audit, solution, algo)
}

// BuildPlanWith is BuildPlan with an already-constructed algorithm, for
// callers that configure one (a weight planner with a host resolver).
func (p *Planner) BuildPlanWith(audit *models.Audit, solution *models.Solution, algo Algorithm) (*models.ActionPlan, error) {
	for _, pa := range solution.Actions {
		if err := models.ValidateActionInput(pa.Type, pa.Input); err != nil {
			return nil, fmt.Errorf("solution for audit %s: %w", audit.UUID, err)
		}
	}

	actions, err := algo.Schedule(solution.Actions)
	if err != nil {
		return nil, fmt.Errorf("scheduling solution for audit %s: %w", audit.UUID, err)
	}
	algorithm := algo.Name()

	if err := p.supersedePriorPlans(audit.UUID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	plan := &models.ActionPlan{
		UUID:           uuid.NewString(),
		AuditUUID:      audit.UUID,
		StrategyName:   solution.StrategyName,
		GlobalEfficacy: solution.GlobalEfficacy,
		State:          models.PlanRecommended,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(actions) == 0 {
		// Nothing to apply; the plan is complete the moment it exists.
		plan.State = models.PlanSucceeded
	}
	if err := p.store.CreatePlan(plan); err != nil {
		return nil, err
	}

	for i, action := range actions {
		action.PlanUUID = plan.UUID
		// Creation order carries the schedule order through listings.
		action.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		action.UpdatedAt = action.CreatedAt
		if err := p.store.CreateAction(action); err != nil {
			// Roll the half-written plan back out of the store.
			_ = p.store.DeleteActionsForPlan(plan.UUID)
			_ = p.store.DeletePlan(plan.UUID)
			return nil, err
		}
	}

	for _, ind := range solution.Indicators {
		record := ind
		record.PlanUUID = plan.UUID
		if err := p.store.CreateIndicator(&record); err != nil {
			return nil, err
		}
	}

	slog.Info("action plan created",
		"plan", plan.UUID,
		"audit", audit.UUID,
		"planner", algorithm,
		"actions", len(actions),
		"state", plan.State)
	return plan, nil
}

func (p *Planner) supersedePriorPlans(auditUUID string) error {
	prior, err := p.store.ListPlansForAudit(auditUUID)
	if err != nil {
		return err
	}
	for _, old := range prior {
		if old.State.Terminal() {
			continue
		}
		if err := old.TransitionTo(models.PlanSuperseded); err != nil {
			return err
		}
		if err := p.store.SavePlan(old); err != nil {
			return err
		}
		slog.Info("superseded prior action plan", "plan", old.UUID, "audit", auditUUID)
	}
	return nil
}

// newAction wraps a proposed action in a pending persisted action.
func newAction(pa models.ProposedAction) *models.Action {
	return &models.Action{
		UUID:  uuid.NewString(),
		Type:  pa.Type,
		Input: pa.Input,
		State: models.ActionPending,
	}
}
