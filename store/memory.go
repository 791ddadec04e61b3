// ABOUTME: In-memory store for tests and single-process deployments
// ABOUTME: Guards maps with a RWMutex and hands out defensive copies

package store

import (
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/openstack/watcher-sub000/models"
)

// Memory is the in-memory Store. Objects are copied on the way in and
// out, so callers can mutate their structs without racing the store.
type Memory struct {
	mu         sync.RWMutex
	audits     map[string]*models.Audit
	plans      map[string]*models.ActionPlan
	actions    map[string]*models.Action
	indicators map[string][]*models.EfficacyIndicator // plan uuid -> indicators
}

func NewMemory() *Memory {
	return &Memory{
		audits:     make(map[string]*models.Audit),
		plans:      make(map[string]*models.ActionPlan),
		actions:    make(map[string]*models.Action),
		indicators: make(map[string][]*models.EfficacyIndicator),
	}
}

func (m *Memory) CreateAudit(a *models.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.audits[a.UUID]; exists {
		return models.Invalid("audit %s already exists: %w", a.UUID, models.ErrConflict)
	}
	m.audits[a.UUID] = copyAudit(a)
	return nil
}

func (m *Memory) GetAudit(uuid string) (*models.Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.audits[uuid]
	if !ok || !a.DeletedAt.IsZero() {
		return nil, models.NotFound("audit", uuid)
	}
	return copyAudit(a), nil
}

func (m *Memory) SaveAudit(a *models.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.audits[a.UUID]; !ok {
		return models.NotFound("audit", a.UUID)
	}
	m.audits[a.UUID] = copyAudit(a)
	return nil
}

func (m *Memory) ListAudits() ([]*models.Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Audit, 0, len(m.audits))
	for _, a := range m.audits {
		if a.DeletedAt.IsZero() {
			out = append(out, copyAudit(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (m *Memory) SoftDeleteAudit(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[uuid]
	if !ok || !a.DeletedAt.IsZero() {
		return models.NotFound("audit", uuid)
	}
	deleted := copyAudit(a)
	if err := deleted.TransitionTo(models.AuditDeleted); err != nil {
		return err
	}
	deleted.DeletedAt = time.Now().UTC()
	m.audits[uuid] = deleted
	return nil
}

func (m *Memory) CreatePlan(p *models.ActionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plans[p.UUID]; exists {
		return models.Invalid("action plan %s already exists: %w", p.UUID, models.ErrConflict)
	}
	m.plans[p.UUID] = copyPlan(p)
	return nil
}

func (m *Memory) GetPlan(uuid string) (*models.ActionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[uuid]
	if !ok || !p.DeletedAt.IsZero() {
		return nil, models.NotFound("action plan", uuid)
	}
	return copyPlan(p), nil
}

func (m *Memory) SavePlan(p *models.ActionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.UUID]; !ok {
		return models.NotFound("action plan", p.UUID)
	}
	m.plans[p.UUID] = copyPlan(p)
	return nil
}

func (m *Memory) ListPlans() ([]*models.ActionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.ActionPlan, 0, len(m.plans))
	for _, p := range m.plans {
		if p.DeletedAt.IsZero() {
			out = append(out, copyPlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (m *Memory) ListPlansForAudit(auditUUID string) ([]*models.ActionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.ActionPlan
	for _, p := range m.plans {
		if p.AuditUUID == auditUUID && p.DeletedAt.IsZero() {
			out = append(out, copyPlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SoftDeletePlan(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[uuid]
	if !ok || !p.DeletedAt.IsZero() {
		return models.NotFound("action plan", uuid)
	}
	deleted := copyPlan(p)
	if err := deleted.TransitionTo(models.PlanDeleted); err != nil {
		return err
	}
	deleted.DeletedAt = time.Now().UTC()
	m.plans[uuid] = deleted
	return nil
}

func (m *Memory) DeletePlan(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[uuid]; !ok {
		return models.NotFound("action plan", uuid)
	}
	delete(m.plans, uuid)
	delete(m.indicators, uuid)
	return nil
}

func (m *Memory) CreateAction(a *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.actions[a.UUID]; exists {
		return models.Invalid("action %s already exists: %w", a.UUID, models.ErrConflict)
	}
	m.actions[a.UUID] = copyAction(a)
	return nil
}

func (m *Memory) GetAction(uuid string) (*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[uuid]
	if !ok {
		return nil, models.NotFound("action", uuid)
	}
	return copyAction(a), nil
}

func (m *Memory) SaveAction(a *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.UUID]; !ok {
		return models.NotFound("action", a.UUID)
	}
	m.actions[a.UUID] = copyAction(a)
	return nil
}

func (m *Memory) ListActionsForPlan(planUUID string) ([]*models.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Action
	for _, a := range m.actions {
		if a.PlanUUID == planUUID {
			out = append(out, copyAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteActionsForPlan(planUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uuid, a := range m.actions {
		if a.PlanUUID == planUUID {
			delete(m.actions, uuid)
		}
	}
	return nil
}

func (m *Memory) CreateIndicator(i *models.EfficacyIndicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *i
	m.indicators[i.PlanUUID] = append(m.indicators[i.PlanUUID], &copied)
	return nil
}

func (m *Memory) ListIndicatorsForPlan(planUUID string) ([]*models.EfficacyIndicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.EfficacyIndicator, 0, len(m.indicators[planUUID]))
	for _, i := range m.indicators[planUUID] {
		copied := *i
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func copyAudit(a *models.Audit) *models.Audit {
	copied := *a
	copied.Parameters = maps.Clone(a.Parameters)
	copied.Scope.HostAggregates = slices.Clone(a.Scope.HostAggregates)
	copied.Scope.AvailabilityZones = slices.Clone(a.Scope.AvailabilityZones)
	copied.Scope.PoolNames = slices.Clone(a.Scope.PoolNames)
	return &copied
}

func copyPlan(p *models.ActionPlan) *models.ActionPlan {
	copied := *p
	return &copied
}

func copyAction(a *models.Action) *models.Action {
	copied := *a
	copied.Input = maps.Clone(a.Input)
	copied.Parents = slices.Clone(a.Parents)
	return &copied
}
