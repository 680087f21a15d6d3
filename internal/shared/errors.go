package shared

import "errors"

var (
	// ErrTenantMissing indicates a request without a tenant header.
	ErrTenantMissing = errors.New("tenant header missing")
	// ErrTenantInvalid indicates a malformed tenant identifier.
	ErrTenantInvalid = errors.New("tenant header invalid")
	// ErrActorInvalid indicates a malformed actor identifier.
	ErrActorInvalid = errors.New("actor header invalid")
)
