// ABOUTME: Canonical action types and their declared input parameter keys
// ABOUTME: The planner and applier only accept types registered here

package models

import "fmt"

// ActionType names one atomic infrastructure change.
type ActionType string

const (
	// ActionMigrate moves an instance between nodes. The migration_type
	// input selects live or cold.
	ActionMigrate ActionType = "migrate"
	// ActionChangeNovaServiceState enables or disables a compute host.
	ActionChangeNovaServiceState ActionType = "change_nova_service_state"
	// ActionResize changes an instance's flavor and confirms the resize.
	ActionResize ActionType = "resize"
	// ActionVolumeMigrate moves a volume to another pool.
	ActionVolumeMigrate ActionType = "volume_migrate"
	// ActionVolumeRetype changes a volume's type.
	ActionVolumeRetype ActionType = "volume_retype"
	// ActionStopInstance stops a running instance.
	ActionStopInstance ActionType = "stop_instance"
	// ActionStartInstance starts a stopped instance.
	ActionStartInstance ActionType = "start_instance"
	// ActionNop does nothing; strategies use it to carry annotations.
	ActionNop ActionType = "nop"
)

// Input parameter keys shared by multiple action types.
const (
	ParamResourceID      = "resource_id"
	ParamMigrationType   = "migration_type"
	ParamSourceNode      = "source_node"
	ParamDestinationNode = "destination_node"
	ParamState           = "state"
	ParamResourceName    = "resource_name"
	ParamDisabledReason  = "disabled_reason"
	ParamFlavor          = "flavor"
	ParamDestinationPool = "destination_pool"
	ParamNewType         = "new_type"
	ParamMessage         = "message"
)

// Migration type values for ActionMigrate.
const (
	MigrationLive = "live"
	MigrationCold = "cold"
)

// ActionTypeSpec declares an action type's required input keys and a
// human-readable description.
type ActionTypeSpec struct {
	Description  string
	RequiredKeys []string
}

// ActionTypes is the registry of canonical action types.
var ActionTypes = map[ActionType]ActionTypeSpec{
	ActionMigrate: {
		Description:  "Migrate an instance to another compute node",
		RequiredKeys: []string{ParamResourceID, ParamMigrationType, ParamSourceNode, ParamDestinationNode},
	},
	ActionChangeNovaServiceState: {
		Description:  "Enable or disable a compute service",
		RequiredKeys: []string{ParamResourceID, ParamState},
	},
	ActionResize: {
		Description:  "Resize an instance to a new flavor",
		RequiredKeys: []string{ParamResourceID, ParamFlavor},
	},
	ActionVolumeMigrate: {
		Description:  "Migrate a volume to another storage pool",
		RequiredKeys: []string{ParamResourceID, ParamDestinationPool},
	},
	ActionVolumeRetype: {
		Description:  "Change the type of a volume",
		RequiredKeys: []string{ParamResourceID, ParamNewType},
	},
	ActionStopInstance: {
		Description:  "Stop an instance",
		RequiredKeys: []string{ParamResourceID},
	},
	ActionStartInstance: {
		Description:  "Start an instance",
		RequiredKeys: []string{ParamResourceID},
	},
	ActionNop: {
		Description:  "No operation",
		RequiredKeys: []string{ParamMessage},
	},
}

// KnownActionType reports whether t is registered.
func KnownActionType(t ActionType) bool {
	_, ok := ActionTypes[t]
	return ok
}

// ValidateActionInput checks that every required key for the action type is
// present. Unknown types yield ErrUnsupportedActionType.
func ValidateActionInput(t ActionType, input map[string]any) error {
	spec, ok := ActionTypes[t]
	if !ok {
		return fmt.Errorf("action type %q: %w", t, ErrUnsupportedActionType)
	}
	for _, key := range spec.RequiredKeys {
		if _, present := input[key]; !present {
			return Invalid("action type %q missing required input %q", t, key)
		}
	}
	return nil
}
