// ABOUTME: Strategy output: proposed actions plus efficacy indicators
// ABOUTME: Semantically unordered until a planner imposes dependencies

package models

// ProposedAction is one change a strategy wants applied. It carries no
// dependency information; ordering is the planner's job.
type ProposedAction struct {
	Type  ActionType     `json:"action_type"`
	Input map[string]any `json:"input_parameters"`
}

// EfficacyIndicator is a named numeric estimate of the benefit a solution
// delivers.
type EfficacyIndicator struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Value       float64 `json:"value"`

	// PlanUUID binds a persisted indicator to its action plan.
	PlanUUID string `json:"action_plan_uuid,omitempty"`
}

// Solution is what a strategy produces from the cluster data model.
type Solution struct {
	StrategyName   string              `json:"strategy"`
	Actions        []ProposedAction    `json:"actions"`
	Indicators     []EfficacyIndicator `json:"efficacy_indicators,omitempty"`
	GlobalEfficacy float64             `json:"global_efficacy"`
}

// AddAction appends a proposed action.
func (s *Solution) AddAction(t ActionType, input map[string]any) {
	s.Actions = append(s.Actions, ProposedAction{Type: t, Input: input})
}

// AddIndicator appends an efficacy indicator.
func (s *Solution) AddIndicator(name, unit, description string, value float64) {
	s.Indicators = append(s.Indicators, EfficacyIndicator{
		Name:        name,
		Unit:        unit,
		Description: description,
		Value:       value,
	})
}
