// ABOUTME: Default planner: keeps the strategy's order, groups consecutive
// ABOUTME: actions of one type so a group runs in parallel after its predecessor

package planner

import "github.com/openstack/watcher-sub000/models"

const DefaultName = "default"

func init() {
	RegisterAlgorithm(DefaultName, func() Algorithm { return &defaultPlanner{} })
}

type defaultPlanner struct{}

func (*defaultPlanner) Name() string { return DefaultName }

// Schedule walks the proposed actions in order. Consecutive actions of
// the same type form a group with no dependencies among themselves; every
// member of a group parents every member of the previous group. This
// preserves the strategy's intent (disables before migrations, say) while
// letting same-type work run in parallel.
func (*defaultPlanner) Schedule(proposed []models.ProposedAction) ([]*models.Action, error) {
	var (
		out       []*models.Action
		prevGroup []string
		group     []string
		groupType models.ActionType
	)
	for _, pa := range proposed {
		if len(group) > 0 && pa.Type != groupType {
			prevGroup = group
			group = nil
		}
		action := newAction(pa)
		action.Parents = append([]string(nil), prevGroup...)
		out = append(out, action)
		group = append(group, action.UUID)
		groupType = pa.Type
	}
	return out, nil
}
