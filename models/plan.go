// ABOUTME: Action plan and action entities with explicit state machines
// ABOUTME: Transitions are validated; terminal states are monotone

package models

import "time"

// PlanState is the lifecycle state of an action plan.
type PlanState string

const (
	PlanRecommended PlanState = "RECOMMENDED"
	PlanPending     PlanState = "PENDING"
	PlanOngoing     PlanState = "ONGOING"
	PlanSucceeded   PlanState = "SUCCEEDED"
	PlanFailed      PlanState = "FAILED"
	PlanCancelled   PlanState = "CANCELLED"
	PlanSuperseded  PlanState = "SUPERSEDED"
	PlanDeleted     PlanState = "DELETED"
)

// Terminal reports whether the plan state is final.
func (s PlanState) Terminal() bool {
	switch s {
	case PlanSucceeded, PlanFailed, PlanCancelled, PlanSuperseded, PlanDeleted:
		return true
	}
	return false
}

// ActionState is the lifecycle state of one action.
type ActionState string

const (
	ActionPending   ActionState = "PENDING"
	ActionOngoing   ActionState = "ONGOING"
	ActionSucceeded ActionState = "SUCCEEDED"
	ActionFailed    ActionState = "FAILED"
	ActionCancelled ActionState = "CANCELLED"
	ActionSkipped   ActionState = "SKIPPED"
)

// Terminal reports whether the action state is final.
func (s ActionState) Terminal() bool {
	switch s {
	case ActionSucceeded, ActionFailed, ActionCancelled, ActionSkipped:
		return true
	}
	return false
}

// ActionPlan is a persisted DAG of actions derived from a solution.
type ActionPlan struct {
	UUID           string    `json:"uuid"`
	AuditUUID      string    `json:"audit_uuid"`
	StrategyName   string    `json:"strategy"`
	GlobalEfficacy float64   `json:"global_efficacy"`
	State          PlanState `json:"state"`
	Hostname       string    `json:"hostname,omitempty"` // applier identity once launched
	Message        string    `json:"message,omitempty"`  // failure detail
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	DeletedAt      time.Time `json:"deleted_at,omitempty"`
}

var planTransitions = map[PlanState][]PlanState{
	PlanRecommended: {PlanPending, PlanCancelled, PlanSuperseded, PlanDeleted},
	PlanPending:     {PlanOngoing, PlanCancelled, PlanSuperseded},
	PlanOngoing:     {PlanSucceeded, PlanFailed, PlanCancelled},
	PlanSucceeded:   {PlanDeleted},
	PlanFailed:      {PlanDeleted},
	PlanCancelled:   {PlanDeleted},
	PlanSuperseded:  {PlanDeleted},
}

// TransitionTo moves the plan to the next state, rejecting illegal moves.
func (p *ActionPlan) TransitionTo(next PlanState) error {
	for _, allowed := range planTransitions[p.State] {
		if next == allowed {
			p.State = next
			p.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return Invalid("action plan %s: cannot transition %s -> %s", p.UUID, p.State, next)
}

// Action is one node of the plan DAG. Parents lists the action uuids that
// must reach SUCCEEDED before this action may start.
type Action struct {
	UUID     string         `json:"uuid"`
	PlanUUID string         `json:"action_plan_uuid"`
	Type     ActionType     `json:"action_type"`
	Input    map[string]any `json:"input_parameters"`
	State    ActionState    `json:"state"`
	Parents  []string       `json:"parents,omitempty"`
	Message  string         `json:"message,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

var actionTransitions = map[ActionState][]ActionState{
	ActionPending: {ActionOngoing, ActionCancelled, ActionSkipped},
	ActionOngoing: {ActionSucceeded, ActionFailed, ActionCancelled},
}

// TransitionTo moves the action to the next state. Terminal states are
// monotone: no transition leads out of them.
func (a *Action) TransitionTo(next ActionState) error {
	for _, allowed := range actionTransitions[a.State] {
		if next == allowed {
			a.State = next
			a.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return Invalid("action %s: cannot transition %s -> %s", a.UUID, a.State, next)
}

// InputString returns a string input parameter, or "" when absent.
func (a *Action) InputString(key string) string {
	if v, ok := a.Input[key].(string); ok {
		return v
	}
	return ""
}
