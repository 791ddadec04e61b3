// ABOUTME: Persistence contract for audits, action plans, actions, and indicators
// ABOUTME: Create rejects duplicates with ErrConflict; Get misses return ErrNotFound

package store

import "github.com/openstack/watcher-sub000/models"

// Store persists the control plane's durable objects. Implementations
// must be safe for concurrent use; the decision engine, applier, and API
// handlers share one instance.
//
// SoftDelete moves the object to DELETED and stamps DeletedAt; the state
// machine rejects it for objects still in flight. Soft-deleted objects
// are invisible to Get and List.
type Store interface {
	CreateAudit(a *models.Audit) error
	GetAudit(uuid string) (*models.Audit, error)
	SaveAudit(a *models.Audit) error
	ListAudits() ([]*models.Audit, error)
	SoftDeleteAudit(uuid string) error

	CreatePlan(p *models.ActionPlan) error
	GetPlan(uuid string) (*models.ActionPlan, error)
	SavePlan(p *models.ActionPlan) error
	ListPlans() ([]*models.ActionPlan, error)
	ListPlansForAudit(auditUUID string) ([]*models.ActionPlan, error)
	SoftDeletePlan(uuid string) error
	DeletePlan(uuid string) error

	CreateAction(a *models.Action) error
	GetAction(uuid string) (*models.Action, error)
	SaveAction(a *models.Action) error
	ListActionsForPlan(planUUID string) ([]*models.Action, error)
	DeleteActionsForPlan(planUUID string) error

	CreateIndicator(i *models.EfficacyIndicator) error
	ListIndicatorsForPlan(planUUID string) ([]*models.EfficacyIndicator, error)

	Close() error
}
