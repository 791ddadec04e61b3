// ABOUTME: Per-action-type handlers: precondition, execute, postcondition
// ABOUTME: Migrations and volume changes poll the infra until terminal status

package applier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/models"
)

// Handler runs one action against the infrastructure. PreCondition
// verifies the action still applies, Execute performs it, PostCondition
// verifies the observable effect.
type Handler interface {
	PreCondition(ctx context.Context, action *models.Action) error
	Execute(ctx context.Context, action *models.Action) error
	PostCondition(ctx context.Context, action *models.Action) error
}

// Aborter is implemented by handlers whose in-flight work can be
// interrupted, like live migrations.
type Aborter interface {
	Abort(ctx context.Context, action *models.Action) error
}

// Reverter is implemented by handlers that can undo a succeeded action
// during an explicit rollback.
type Reverter interface {
	Revert(ctx context.Context, action *models.Action) error
}

// handlerFor builds the handler for an action type. Unknown types are an
// ErrUnsupportedActionType; the planner should have rejected them.
func (a *Applier) handlerFor(t models.ActionType) (Handler, error) {
	switch t {
	case models.ActionMigrate:
		return &migrateHandler{compute: a.compute, pollInterval: a.pollInterval}, nil
	case models.ActionChangeNovaServiceState:
		return &serviceStateHandler{compute: a.compute}, nil
	case models.ActionResize:
		return &resizeHandler{compute: a.compute}, nil
	case models.ActionVolumeMigrate:
		return &volumeMigrateHandler{storage: a.storage, pollInterval: a.pollInterval}, nil
	case models.ActionVolumeRetype:
		return &volumeRetypeHandler{storage: a.storage, pollInterval: a.pollInterval}, nil
	case models.ActionStopInstance:
		return &stopInstanceHandler{compute: a.compute}, nil
	case models.ActionStartInstance:
		return &startInstanceHandler{compute: a.compute}, nil
	case models.ActionNop:
		return nopHandler{}, nil
	default:
		return nil, fmt.Errorf("action type %q: %w", t, models.ErrUnsupportedActionType)
	}
}

type migrateHandler struct {
	compute      clients.ComputeClient
	pollInterval time.Duration
}

func (h *migrateHandler) PreCondition(ctx context.Context, action *models.Action) error {
	server, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	if src := action.InputString(models.ParamSourceNode); server.Host != src {
		return models.Invalid("instance %s is on %q, not source node %q",
			server.UUID, server.Host, src)
	}
	if action.InputString(models.ParamMigrationType) == models.MigrationLive &&
		!strings.EqualFold(server.State, "active") {
		return models.Invalid("instance %s is %s; live migration needs it active",
			server.UUID, server.State)
	}
	return nil
}

func (h *migrateHandler) Execute(ctx context.Context, action *models.Action) error {
	instanceID := action.InputString(models.ParamResourceID)
	dest := action.InputString(models.ParamDestinationNode)

	var err error
	if action.InputString(models.ParamMigrationType) == models.MigrationLive {
		err = h.compute.LiveMigrate(ctx, instanceID, dest, false)
	} else {
		err = h.compute.ColdMigrate(ctx, instanceID, dest)
	}
	if err != nil {
		return err
	}
	return h.waitForMigration(ctx, instanceID)
}

// waitForMigration polls the instance's migration records until the
// latest one reaches a terminal status or the action deadline hits.
func (h *migrateHandler) waitForMigration(ctx context.Context, instanceID string) error {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		migrations, err := h.compute.ListMigrations(ctx, instanceID)
		if err != nil {
			return err
		}
		if len(migrations) > 0 {
			switch last := migrations[len(migrations)-1]; last.Status {
			case "completed":
				return nil
			case "error":
				return fmt.Errorf("migration %d of instance %s ended in error", last.ID, instanceID)
			case "cancelled":
				return fmt.Errorf("migration %d of instance %s was cancelled", last.ID, instanceID)
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for migration of instance %s: %w", instanceID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (h *migrateHandler) PostCondition(ctx context.Context, action *models.Action) error {
	server, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	if dest := action.InputString(models.ParamDestinationNode); server.Host != dest {
		return fmt.Errorf("instance %s landed on %q, expected %q", server.UUID, server.Host, dest)
	}
	return nil
}

func (h *migrateHandler) Abort(ctx context.Context, action *models.Action) error {
	if action.InputString(models.ParamMigrationType) != models.MigrationLive {
		return nil
	}
	return h.compute.AbortLiveMigration(ctx, action.InputString(models.ParamResourceID))
}

type serviceStateHandler struct {
	compute clients.ComputeClient
}

func (h *serviceStateHandler) PreCondition(ctx context.Context, action *models.Action) error {
	_, err := h.compute.GetComputeNodeByHostname(ctx, action.InputString(models.ParamResourceID))
	return err
}

func (h *serviceStateHandler) Execute(ctx context.Context, action *models.Action) error {
	hostname := action.InputString(models.ParamResourceID)
	if action.InputString(models.ParamState) == "disabled" {
		return h.compute.DisableService(ctx, hostname, action.InputString(models.ParamDisabledReason))
	}
	return h.compute.EnableService(ctx, hostname)
}

func (h *serviceStateHandler) PostCondition(ctx context.Context, action *models.Action) error {
	node, err := h.compute.GetComputeNodeByHostname(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	if want := action.InputString(models.ParamState); node.Status != want {
		return fmt.Errorf("node %s status is %q, expected %q", node.Hostname, node.Status, want)
	}
	return nil
}

// Revert restores the opposite service state.
func (h *serviceStateHandler) Revert(ctx context.Context, action *models.Action) error {
	hostname := action.InputString(models.ParamResourceID)
	if action.InputString(models.ParamState) == "disabled" {
		return h.compute.EnableService(ctx, hostname)
	}
	return h.compute.DisableService(ctx, hostname, "")
}

type resizeHandler struct {
	compute clients.ComputeClient
}

func (h *resizeHandler) PreCondition(ctx context.Context, action *models.Action) error {
	_, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	return err
}

func (h *resizeHandler) Execute(ctx context.Context, action *models.Action) error {
	instanceID := action.InputString(models.ParamResourceID)
	if err := h.compute.Resize(ctx, instanceID, action.InputString(models.ParamFlavor)); err != nil {
		return err
	}
	// The resize is not done until confirmed.
	return h.compute.ConfirmResize(ctx, instanceID)
}

func (h *resizeHandler) PostCondition(ctx context.Context, action *models.Action) error {
	server, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	want := action.InputString(models.ParamFlavor)
	if got, ok := server.Metadata["flavor"]; ok && got != want {
		return fmt.Errorf("instance %s has flavor %q, expected %q", server.UUID, got, want)
	}
	return nil
}

type volumeMigrateHandler struct {
	storage      clients.StorageClient
	pollInterval time.Duration
}

func (h *volumeMigrateHandler) PreCondition(ctx context.Context, action *models.Action) error {
	_, err := h.storage.GetVolume(ctx, action.InputString(models.ParamResourceID))
	return err
}

func (h *volumeMigrateHandler) Execute(ctx context.Context, action *models.Action) error {
	volumeID := action.InputString(models.ParamResourceID)
	if err := h.storage.MigrateVolume(ctx, volumeID, action.InputString(models.ParamDestinationPool)); err != nil {
		return err
	}
	return waitForVolume(ctx, h.storage, volumeID, h.pollInterval)
}

func (h *volumeMigrateHandler) PostCondition(ctx context.Context, action *models.Action) error {
	volume, err := h.storage.GetVolume(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	if want := action.InputString(models.ParamDestinationPool); volume.Host != want {
		return fmt.Errorf("volume %s is on %q, expected %q", volume.UUID, volume.Host, want)
	}
	return nil
}

type volumeRetypeHandler struct {
	storage      clients.StorageClient
	pollInterval time.Duration
}

func (h *volumeRetypeHandler) PreCondition(ctx context.Context, action *models.Action) error {
	_, err := h.storage.GetVolume(ctx, action.InputString(models.ParamResourceID))
	return err
}

func (h *volumeRetypeHandler) Execute(ctx context.Context, action *models.Action) error {
	volumeID := action.InputString(models.ParamResourceID)
	if err := h.storage.RetypeVolume(ctx, volumeID, action.InputString(models.ParamNewType)); err != nil {
		return err
	}
	return waitForVolume(ctx, h.storage, volumeID, h.pollInterval)
}

func (h *volumeRetypeHandler) PostCondition(ctx context.Context, action *models.Action) error {
	volume, err := h.storage.GetVolume(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	if want := action.InputString(models.ParamNewType); volume.VolumeType != want {
		return fmt.Errorf("volume %s has type %q, expected %q", volume.UUID, volume.VolumeType, want)
	}
	return nil
}

// waitForVolume polls a volume's migration status until it leaves the
// in-progress values.
func waitForVolume(ctx context.Context, storage clients.StorageClient, volumeID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		volume, err := storage.GetVolume(ctx, volumeID)
		if err != nil {
			return err
		}
		switch volume.MigrationStatus {
		case "success", "":
			return nil
		case "error":
			return fmt.Errorf("volume %s migration ended in error", volumeID)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for volume %s: %w", volumeID, ctx.Err())
		case <-ticker.C:
		}
	}
}

type stopInstanceHandler struct {
	compute clients.ComputeClient
}

func (h *stopInstanceHandler) PreCondition(ctx context.Context, action *models.Action) error {
	_, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	return err
}

func (h *stopInstanceHandler) Execute(ctx context.Context, action *models.Action) error {
	return h.compute.StopInstance(ctx, action.InputString(models.ParamResourceID))
}

func (h *stopInstanceHandler) PostCondition(ctx context.Context, action *models.Action) error {
	server, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	if !strings.EqualFold(server.State, "stopped") {
		return fmt.Errorf("instance %s is %q, expected stopped", server.UUID, server.State)
	}
	return nil
}

func (h *stopInstanceHandler) Revert(ctx context.Context, action *models.Action) error {
	return h.compute.StartInstance(ctx, action.InputString(models.ParamResourceID))
}

type startInstanceHandler struct {
	compute clients.ComputeClient
}

func (h *startInstanceHandler) PreCondition(ctx context.Context, action *models.Action) error {
	_, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	return err
}

func (h *startInstanceHandler) Execute(ctx context.Context, action *models.Action) error {
	return h.compute.StartInstance(ctx, action.InputString(models.ParamResourceID))
}

func (h *startInstanceHandler) PostCondition(ctx context.Context, action *models.Action) error {
	server, err := h.compute.GetInstance(ctx, action.InputString(models.ParamResourceID))
	if err != nil {
		return err
	}
	if !strings.EqualFold(server.State, "active") {
		return fmt.Errorf("instance %s is %q, expected active", server.UUID, server.State)
	}
	return nil
}

type nopHandler struct{}

func (nopHandler) PreCondition(context.Context, *models.Action) error  { return nil }
func (nopHandler) Execute(context.Context, *models.Action) error       { return nil }
func (nopHandler) PostCondition(context.Context, *models.Action) error { return nil }
