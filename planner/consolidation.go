// ABOUTME: Node-resource-consolidation planner: disables gate migration
// ABOUTME: chains per source node, enables wait for every chain to finish

package planner

import (
	"fmt"

	"github.com/openstack/watcher-sub000/models"
)

const NodeResourceConsolidationName = "node_resource_consolidation"

func init() {
	RegisterAlgorithm(NodeResourceConsolidationName, func() Algorithm {
		return &consolidationPlanner{}
	})
}

type consolidationPlanner struct{}

func (*consolidationPlanner) Name() string { return NodeResourceConsolidationName }

// Schedule buckets service-state changes into disables and enables and
// groups migrations by source node. Disables run first with no parents.
// Every migration waits for all disables; within a source node's chain
// each migration additionally waits for the one before it. Enables wait
// for the last migration of every chain, so a node is never re-enabled
// while anything is still draining.
func (*consolidationPlanner) Schedule(proposed []models.ProposedAction) ([]*models.Action, error) {
	var (
		disables []*models.Action
		enables  []models.ProposedAction
		bySource = map[string][]models.ProposedAction{}
		sources  []string // first-seen order
	)
	for _, pa := range proposed {
		switch pa.Type {
		case models.ActionChangeNovaServiceState:
			if state, _ := pa.Input[models.ParamState].(string); state == "disabled" {
				disables = append(disables, newAction(pa))
			} else {
				enables = append(enables, pa)
			}
		case models.ActionMigrate:
			src, _ := pa.Input[models.ParamSourceNode].(string)
			if _, seen := bySource[src]; !seen {
				sources = append(sources, src)
			}
			bySource[src] = append(bySource[src], pa)
		default:
			return nil, fmt.Errorf("planner %q: action type %q: %w",
				NodeResourceConsolidationName, pa.Type, models.ErrUnsupportedActionType)
		}
	}

	disableUUIDs := make([]string, len(disables))
	for i, a := range disables {
		disableUUIDs[i] = a.UUID
	}

	out := append([]*models.Action(nil), disables...)
	var chainTails []string
	for _, src := range sources {
		var prev string
		for _, pa := range bySource[src] {
			action := newAction(pa)
			action.Parents = append([]string(nil), disableUUIDs...)
			if prev != "" {
				action.Parents = append(action.Parents, prev)
			}
			out = append(out, action)
			prev = action.UUID
		}
		chainTails = append(chainTails, prev)
	}

	enableParents := chainTails
	if len(enableParents) == 0 {
		// No migrations: an enable must still never race a disable.
		enableParents = disableUUIDs
	}
	for _, pa := range enables {
		action := newAction(pa)
		action.Parents = append([]string(nil), enableParents...)
		out = append(out, action)
	}
	return out, nil
}
