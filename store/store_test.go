// ABOUTME: Conformance suite run against both store implementations
// ABOUTME: Covers duplicate rejection, misses, filtered listings, and deletes

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/openstack/watcher-sub000/models"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger("")
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"badger": b,
	}
}

func TestAuditLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			audit := &models.Audit{
				UUID:         "audit-1",
				Type:         models.AuditOneshot,
				State:        models.AuditPending,
				StrategyName: "basic_consolidation",
				CreatedAt:    time.Now().UTC(),
			}
			if err := s.CreateAudit(audit); err != nil {
				t.Fatalf("CreateAudit: %v", err)
			}
			if err := s.CreateAudit(audit); !errors.Is(err, models.ErrConflict) {
				t.Errorf("duplicate create: expected ErrConflict, got %v", err)
			}

			got, err := s.GetAudit("audit-1")
			if err != nil {
				t.Fatalf("GetAudit: %v", err)
			}
			if got.StrategyName != "basic_consolidation" {
				t.Errorf("unexpected strategy %q", got.StrategyName)
			}

			got.State = models.AuditOngoing
			if err := s.SaveAudit(got); err != nil {
				t.Fatalf("SaveAudit: %v", err)
			}
			again, _ := s.GetAudit("audit-1")
			if again.State != models.AuditOngoing {
				t.Errorf("expected ONGOING after save, got %s", again.State)
			}

			if _, err := s.GetAudit("missing"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if err := s.SaveAudit(&models.Audit{UUID: "missing"}); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("saving unknown audit: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestPlanAndActionsLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			plan := &models.ActionPlan{
				UUID:      "plan-1",
				AuditUUID: "audit-1",
				State:     models.PlanRecommended,
				CreatedAt: time.Now().UTC(),
			}
			if err := s.CreatePlan(plan); err != nil {
				t.Fatalf("CreatePlan: %v", err)
			}

			base := time.Now().UTC()
			for i, uuid := range []string{"act-1", "act-2"} {
				action := &models.Action{
					UUID:      uuid,
					PlanUUID:  "plan-1",
					Type:      models.ActionNop,
					Input:     map[string]any{models.ParamMessage: "noop"},
					State:     models.ActionPending,
					CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
				}
				if err := s.CreateAction(action); err != nil {
					t.Fatalf("CreateAction: %v", err)
				}
			}

			actions, err := s.ListActionsForPlan("plan-1")
			if err != nil {
				t.Fatalf("ListActionsForPlan: %v", err)
			}
			if len(actions) != 2 {
				t.Fatalf("expected 2 actions, got %d", len(actions))
			}
			if actions[0].UUID != "act-1" {
				t.Errorf("expected creation order, got %s first", actions[0].UUID)
			}

			plans, err := s.ListPlansForAudit("audit-1")
			if err != nil {
				t.Fatalf("ListPlansForAudit: %v", err)
			}
			if len(plans) != 1 {
				t.Errorf("expected 1 plan for audit, got %d", len(plans))
			}

			if err := s.DeleteActionsForPlan("plan-1"); err != nil {
				t.Fatalf("DeleteActionsForPlan: %v", err)
			}
			left, _ := s.ListActionsForPlan("plan-1")
			if len(left) != 0 {
				t.Errorf("expected no actions after delete, got %d", len(left))
			}

			if err := s.DeletePlan("plan-1"); err != nil {
				t.Fatalf("DeletePlan: %v", err)
			}
			if _, err := s.GetPlan("plan-1"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestIndicators(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, ind := range []models.EfficacyIndicator{
				{Name: "released_nodes_count", Value: 1, PlanUUID: "plan-1"},
				{Name: "instance_migrations_count", Value: 3, PlanUUID: "plan-1"},
				{Name: "other", Value: 9, PlanUUID: "plan-2"},
			} {
				if err := s.CreateIndicator(&ind); err != nil {
					t.Fatalf("CreateIndicator: %v", err)
				}
			}
			got, err := s.ListIndicatorsForPlan("plan-1")
			if err != nil {
				t.Fatalf("ListIndicatorsForPlan: %v", err)
			}
			if len(got) != 2 {
				t.Errorf("expected 2 indicators for plan-1, got %d", len(got))
			}
		})
	}
}

func TestSoftDeleteHidesAuditsAndPlans(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			audit := &models.Audit{
				UUID:         "audit-1",
				Type:         models.AuditOneshot,
				State:        models.AuditSucceeded,
				StrategyName: "basic_consolidation",
				CreatedAt:    time.Now().UTC(),
			}
			if err := s.CreateAudit(audit); err != nil {
				t.Fatalf("CreateAudit: %v", err)
			}
			plan := &models.ActionPlan{
				UUID:      "plan-1",
				AuditUUID: "audit-1",
				State:     models.PlanSucceeded,
				CreatedAt: time.Now().UTC(),
			}
			if err := s.CreatePlan(plan); err != nil {
				t.Fatalf("CreatePlan: %v", err)
			}

			if err := s.SoftDeleteAudit("audit-1"); err != nil {
				t.Fatalf("SoftDeleteAudit: %v", err)
			}
			if err := s.SoftDeletePlan("plan-1"); err != nil {
				t.Fatalf("SoftDeletePlan: %v", err)
			}

			if _, err := s.GetAudit("audit-1"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("deleted audit visible to Get: %v", err)
			}
			if _, err := s.GetPlan("plan-1"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("deleted plan visible to Get: %v", err)
			}
			audits, err := s.ListAudits()
			if err != nil {
				t.Fatalf("ListAudits: %v", err)
			}
			if len(audits) != 0 {
				t.Errorf("deleted audit still listed, got %d audits", len(audits))
			}
			plans, err := s.ListPlans()
			if err != nil {
				t.Fatalf("ListPlans: %v", err)
			}
			if len(plans) != 0 {
				t.Errorf("deleted plan still listed, got %d plans", len(plans))
			}
			forAudit, _ := s.ListPlansForAudit("audit-1")
			if len(forAudit) != 0 {
				t.Errorf("deleted plan still listed for its audit, got %d", len(forAudit))
			}

			if err := s.SoftDeleteAudit("audit-1"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("double delete: expected ErrNotFound, got %v", err)
			}
			if err := s.SoftDeleteAudit("missing"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("deleting unknown audit: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestSoftDeleteRejectsInFlightObjects(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			audit := &models.Audit{
				UUID:         "audit-busy",
				Type:         models.AuditOneshot,
				State:        models.AuditOngoing,
				StrategyName: "basic_consolidation",
				CreatedAt:    time.Now().UTC(),
			}
			if err := s.CreateAudit(audit); err != nil {
				t.Fatalf("CreateAudit: %v", err)
			}
			if err := s.SoftDeleteAudit("audit-busy"); !errors.Is(err, models.ErrInvalid) {
				t.Errorf("deleting ONGOING audit: expected ErrInvalid, got %v", err)
			}
			if got, err := s.GetAudit("audit-busy"); err != nil || got.State != models.AuditOngoing {
				t.Errorf("rejected delete must leave the audit intact, got %v / %v", got, err)
			}

			for _, tc := range []struct {
				uuid  string
				state models.PlanState
			}{
				{"plan-pending", models.PlanPending},
				{"plan-ongoing", models.PlanOngoing},
			} {
				plan := &models.ActionPlan{
					UUID:      tc.uuid,
					AuditUUID: "audit-busy",
					State:     tc.state,
					CreatedAt: time.Now().UTC(),
				}
				if err := s.CreatePlan(plan); err != nil {
					t.Fatalf("CreatePlan %s: %v", tc.uuid, err)
				}
				if err := s.SoftDeletePlan(tc.uuid); !errors.Is(err, models.ErrInvalid) {
					t.Errorf("deleting %s plan: expected ErrInvalid, got %v", tc.state, err)
				}
			}
		})
	}
}

func TestStoredCopiesAreIsolated(t *testing.T) {
	s := NewMemory()
	audit := &models.Audit{
		UUID:       "audit-1",
		State:      models.AuditPending,
		Parameters: map[string]any{"threshold": 0.6},
	}
	if err := s.CreateAudit(audit); err != nil {
		t.Fatalf("CreateAudit: %v", err)
	}
	audit.Parameters["threshold"] = 0.9

	got, _ := s.GetAudit("audit-1")
	if got.Parameters["threshold"] != 0.6 {
		t.Error("store must not share parameter maps with callers")
	}
}
