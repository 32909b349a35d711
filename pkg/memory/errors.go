package memory

import "errors"

// Error kinds surfaced by the store and retrieval engine. Callers decide
// retry vs. abort with errors.Is; none of these are retried internally.
var (
	// ErrInvalidConfig indicates an unusable chunker/store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingTenant indicates an operation without a tenant id.
	ErrMissingTenant = errors.New("missing tenant id")

	// ErrNotFound indicates an unknown document id.
	ErrNotFound = errors.New("document not found")

	// ErrInconsistentState indicates metadata and vector index disagree;
	// the affected ids are recorded for the reconciliation sweep.
	ErrInconsistentState = errors.New("inconsistent metadata/index state")
)
