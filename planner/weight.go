// ABOUTME: Weight planner: actions sorted by per-type weight, each weight
// ABOUTME: tier waits for the one above; resizes also wait for co-host moves

package planner

import (
	"sort"

	"github.com/openstack/watcher-sub000/models"
)

const WeightName = "weight"

func init() {
	RegisterAlgorithm(WeightName, func() Algorithm { return &weightPlanner{} })
}

// actionWeights orders action types for the weight planner. Heavier runs
// earlier. Host-level changes precede instance moves, which precede
// per-instance adjustments.
var actionWeights = map[models.ActionType]int{
	models.ActionChangeNovaServiceState: 70,
	models.ActionMigrate:                60,
	models.ActionResize:                 50,
	models.ActionVolumeMigrate:          40,
	models.ActionVolumeRetype:           40,
	models.ActionStopInstance:           30,
	models.ActionStartInstance:          30,
	models.ActionNop:                    0,
}

type weightPlanner struct {
	// hostOf resolves an instance uuid to its current node hostname.
	// When set, a resize waits for any migration touching its host.
	hostOf func(instanceUUID string) (string, bool)
}

// NewWeightPlanner builds a weight planner that uses hostOf to add
// cross-tier parents between migrations and resizes sharing a host.
func NewWeightPlanner(hostOf func(instanceUUID string) (string, bool)) Algorithm {
	return &weightPlanner{hostOf: hostOf}
}

func (*weightPlanner) Name() string { return WeightName }

func (w *weightPlanner) Schedule(proposed []models.ProposedAction) ([]*models.Action, error) {
	ordered := append([]models.ProposedAction(nil), proposed...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return actionWeights[ordered[i].Type] > actionWeights[ordered[j].Type]
	})

	var (
		out      []*models.Action
		prevTier []string
		tier     []string
	)
	tierWeight := -1
	for _, pa := range ordered {
		weight := actionWeights[pa.Type]
		if len(tier) > 0 && weight != tierWeight {
			prevTier = tier
			tier = nil
		}
		action := newAction(pa)
		action.Parents = append([]string(nil), prevTier...)
		out = append(out, action)
		tier = append(tier, action.UUID)
		tierWeight = weight
	}

	w.linkResizesToMigrations(out)
	return out, nil
}

// linkResizesToMigrations adds each migration touching host H as a parent
// of every resize whose instance lives on H, so capacity on a host is
// settled before flavors change on it.
func (w *weightPlanner) linkResizesToMigrations(actions []*models.Action) {
	if w.hostOf == nil {
		return
	}
	type hostPair struct{ source, destination string }
	migrations := map[string]hostPair{}
	for _, a := range actions {
		if a.Type == models.ActionMigrate {
			migrations[a.UUID] = hostPair{
				source:      a.InputString(models.ParamSourceNode),
				destination: a.InputString(models.ParamDestinationNode),
			}
		}
	}
	for _, a := range actions {
		if a.Type != models.ActionResize {
			continue
		}
		host, ok := w.hostOf(a.InputString(models.ParamResourceID))
		if !ok {
			continue
		}
		for migUUID, pair := range migrations {
			if pair.source != host && pair.destination != host {
				continue
			}
			if !containsString(a.Parents, migUUID) {
				a.Parents = append(a.Parents, migUUID)
			}
		}
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
