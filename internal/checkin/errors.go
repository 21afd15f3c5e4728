package checkin

import (
	"errors"
	"fmt"
)

// Storage sentinels. Store implementations translate their driver errors to
// these; the service never sees raw storage errors for these two classes.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate means an insert violated a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Kind classifies a verification rejection.
type Kind string

const (
	KindActivityNotFound    Kind = "activity_not_found"
	KindTenantMismatch      Kind = "tenant_mismatch"
	KindOutsideTimeWindow   Kind = "outside_time_window"
	KindNameMismatch        Kind = "name_mismatch"
	KindParticipantNotFound Kind = "participant_not_found"
	KindOutOfRange          Kind = "out_of_range"
	KindAlreadyCheckedIn    Kind = "already_checked_in"
	KindAlreadyCheckedOut   Kind = "already_checked_out"
	KindNoActiveCheckIn     Kind = "no_active_check_in"
	KindActivityMismatch    Kind = "activity_mismatch"
	KindSessionNotFound     Kind = "session_not_found"
	KindCodeInvalid         Kind = "code_invalid"
	KindAlreadyRegistered   Kind = "already_registered"
)

// Rejection is a verification outcome the caller can act on, as opposed to
// an unexpected failure. Two rejections match under errors.Is when their
// kinds are equal, so the fixed rejections below work as sentinels.
type Rejection struct {
	Kind           Kind
	DistanceMeters int // set only for KindOutOfRange
	msg            string
}

func (r *Rejection) Error() string { return r.msg }

// Is matches any rejection of the same kind.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

var (
	ErrActivityNotFound    = &Rejection{Kind: KindActivityNotFound, msg: "activity not found"}
	ErrTenantMismatch      = &Rejection{Kind: KindTenantMismatch, msg: "activity belongs to a different organization"}
	ErrOutsideTimeWindow   = &Rejection{Kind: KindOutsideTimeWindow, msg: "outside the activity time window"}
	ErrNameMismatch        = &Rejection{Kind: KindNameMismatch, msg: "student id is bound to a different name"}
	ErrParticipantNotFound = &Rejection{Kind: KindParticipantNotFound, msg: "participant not found"}
	ErrAlreadyCheckedIn    = &Rejection{Kind: KindAlreadyCheckedIn, msg: "already checked in"}
	ErrAlreadyCheckedOut   = &Rejection{Kind: KindAlreadyCheckedOut, msg: "already checked out"}
	ErrNoActiveCheckIn     = &Rejection{Kind: KindNoActiveCheckIn, msg: "no active check-in"}
	ErrActivityMismatch    = &Rejection{Kind: KindActivityMismatch, msg: "open check-in belongs to a different activity"}
	ErrSessionNotFound     = &Rejection{Kind: KindSessionNotFound, msg: "invalid check-in session token"}
	ErrCodeInvalid         = &Rejection{Kind: KindCodeInvalid, msg: "verification code is invalid or expired"}
	ErrAlreadyRegistered   = &Rejection{Kind: KindAlreadyRegistered, msg: "student id or email already registered"}
)

// OutOfRange builds the geofence rejection carrying the computed distance
// so clients can show how far off the participant was.
func OutOfRange(meters int) *Rejection {
	return &Rejection{
		Kind:           KindOutOfRange,
		DistanceMeters: meters,
		msg:            fmt.Sprintf("out of range (distance %d m)", meters),
	}
}

// AsRejection unwraps err to a Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}

// DeliveryError marks a notification send failure. Verification state
// persisted before the send stays committed; only the delivery failed.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "sending notification: " + e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }
