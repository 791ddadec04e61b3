// ABOUTME: Audit entity and its lifecycle states
// ABOUTME: One audit is a single scope -> model -> strategy -> plan run

package models

import "time"

// AuditType selects how an audit is scheduled.
type AuditType string

const (
	// AuditOneshot runs once when triggered.
	AuditOneshot AuditType = "oneshot"
	// AuditContinuous re-runs on the configured interval.
	AuditContinuous AuditType = "continuous"
)

// AuditState is the lifecycle state of an audit.
type AuditState string

const (
	AuditPending   AuditState = "PENDING"
	AuditOngoing   AuditState = "ONGOING"
	AuditSucceeded AuditState = "SUCCEEDED"
	AuditFailed    AuditState = "FAILED"
	AuditCancelled AuditState = "CANCELLED"
	AuditDeleted   AuditState = "DELETED"
)

// AuditScope restricts an audit to a subset of the fleet. "*" in a list
// means "any member". Empty aggregate and zone lists mean the full fleet.
type AuditScope struct {
	HostAggregates    []string `json:"host_aggregates,omitempty"`
	AvailabilityZones []string `json:"availability_zones,omitempty"`
	PoolNames         []string `json:"pool_names,omitempty"`
}

// Equal reports whether two scopes select the same subset, order-sensitive
// only on content, not list ordering.
func (s AuditScope) Equal(other AuditScope) bool {
	return stringSetEqual(s.HostAggregates, other.HostAggregates) &&
		stringSetEqual(s.AvailabilityZones, other.AvailabilityZones) &&
		stringSetEqual(s.PoolNames, other.PoolNames)
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, v := range a {
		set[v]++
	}
	for _, v := range b {
		set[v]--
		if set[v] < 0 {
			return false
		}
	}
	return true
}

// Audit is one end-to-end optimization run.
type Audit struct {
	UUID         string         `json:"uuid"`
	Name         string         `json:"name"`
	Type         AuditType      `json:"type"`
	State        AuditState     `json:"state"`
	StrategyName string         `json:"strategy"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Scope        AuditScope     `json:"scope"`
	Interval     time.Duration  `json:"interval,omitempty"` // continuous audits only
	Message      string         `json:"message,omitempty"`  // failure detail
	AutoTrigger  bool           `json:"auto_trigger"`       // launch the plan when recommended
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastRunAt    time.Time      `json:"last_run_at,omitempty"`
	DeletedAt    time.Time      `json:"deleted_at,omitempty"`
}

var auditTransitions = map[AuditState][]AuditState{
	AuditPending:   {AuditOngoing, AuditCancelled, AuditDeleted},
	AuditOngoing:   {AuditSucceeded, AuditFailed, AuditCancelled},
	AuditSucceeded: {AuditOngoing, AuditDeleted}, // continuous audits re-enter ONGOING
	AuditFailed:    {AuditOngoing, AuditDeleted},
	AuditCancelled: {AuditDeleted},
}

// TransitionTo moves the audit to the next state, rejecting illegal moves.
func (a *Audit) TransitionTo(next AuditState) error {
	for _, allowed := range auditTransitions[a.State] {
		if next == allowed {
			a.State = next
			a.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return Invalid("audit %s: cannot transition %s -> %s", a.UUID, a.State, next)
}
