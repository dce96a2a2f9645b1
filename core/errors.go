package core

import "errors"

// RejectReason is the closed set of typed failure reasons surfaced to
// clients. These are values, not Go errors,
// because they cross the wire as the `reason` field of a rejection event.
type RejectReason string

const (
	ReasonInvalidParameter            RejectReason = "invalid_parameter"
	ReasonInvalidValue                RejectReason = "invalid_value"
	ReasonRateLimited                 RejectReason = "rate_limited"
	ReasonClientBlocked               RejectReason = "client_blocked"
	ReasonFloodBlocked                RejectReason = "flood_blocked"
	ReasonPerformerNotFound           RejectReason = "performer_not_found"
	ReasonNotAuthenticated            RejectReason = "not_authenticated"
	ReasonNoOverridePermission        RejectReason = "no_override_permission"
	ReasonParameterNotAllowed         RejectReason = "parameter_not_allowed"
	ReasonInvalidMode                 RejectReason = "invalid_mode"
	ReasonParameterNotPerformerControl RejectReason = "parameter_not_performer_controllable"
)

// Sentinel errors for internal control flow (never serialized to clients;
// handlers translate these into the RejectReason values above).
var (
	ErrUnknownParameter         = errors.New("core: unknown parameter")
	ErrNotAudienceControllable  = errors.New("core: parameter is not audience controllable")
	ErrNotPerformerControllable = errors.New("core: parameter is not performer controllable")
	ErrNonFinite                = errors.New("core: value is not finite")
	ErrOutOfRange               = errors.New("core: value out of [0,1]")
	ErrOutOfBounds              = errors.New("core: location out of venue bounds")
	ErrSessionNotInitialised    = errors.New("core: session not initialised")
	ErrStoreUnavailable         = errors.New("core: session-state store unavailable")
)
