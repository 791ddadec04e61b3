// ABOUTME: Error taxonomy shared by all watcher components
// ABOUTME: Sentinel errors checked with errors.Is plus helpers for wrapping

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an absent entity (node, instance, volume, audit,
	// plan, action, strategy). Notification handlers may recover by lazily
	// creating the entity; everyone else surfaces it.
	ErrNotFound = errors.New("not found")

	// ErrInvalid marks malformed input, a bad state transition, or
	// conflicting configuration. Never retried.
	ErrInvalid = errors.New("invalid")

	// ErrConflict marks a uniqueness or referenced-by violation.
	ErrConflict = errors.New("conflict")

	// ErrAuthFailure marks a failed authentication against an external
	// service. Clients reset and retry once before surfacing it.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrTransient marks transport errors, timeouts, and 5xx responses.
	// Retried per the datasource and applier retry policies.
	ErrTransient = errors.New("transient failure")

	// ErrMetricNotAvailable means no configured datasource can serve a
	// requested metric. Strategies may degrade instead of failing.
	ErrMetricNotAvailable = errors.New("metric not available")

	// ErrNoDatasourceAvailable means the datasource list is empty.
	ErrNoDatasourceAvailable = errors.New("no datasource available")

	// ErrDataSourceConfigConflict means mutually exclusive datasources are
	// configured together (prometheus and aetos).
	ErrDataSourceConfigConflict = errors.New("datasource configuration conflict")

	// ErrUnsupportedActionType means a strategy emitted an action type the
	// planner does not recognize.
	ErrUnsupportedActionType = errors.New("unsupported action type")

	// ErrClusterEmpty means the cluster data model holds no usable nodes.
	ErrClusterEmpty = errors.New("cluster is empty")

	// ErrClusterStateNotDefined means no cluster data model has been built.
	ErrClusterStateNotDefined = errors.New("cluster state is not defined")
)

// NotFound wraps ErrNotFound with the entity kind and identifier.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Invalid wraps ErrInvalid with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalid)...)
}

// Transient wraps an infrastructure-level error so retry loops can
// recognize it with errors.Is(err, ErrTransient).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should be retried by a bounded retry loop.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
