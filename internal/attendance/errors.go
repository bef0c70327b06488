package attendance

import "errors"

// Error taxonomy: not-found and precondition failures are sentinel values the
// handler layer maps to HTTP codes; upstream failures wrap ErrFaceService.
var (
	// ErrLogNotFound means the referenced attendance log does not exist.
	ErrLogNotFound = errors.New("attendance: log not found")

	// ErrNoActiveSession means the class has no open attendance log.
	ErrNoActiveSession = errors.New("attendance: no active session")

	// ErrInstructorNotRegistered means the instructor has not completed
	// face registration and cannot start a session.
	ErrInstructorNotRegistered = errors.New("attendance: instructor must register face first")

	// ErrNoMatchingEntry means an excused amendment found nothing to amend.
	ErrNoMatchingEntry = errors.New("attendance: no matching entry")

	// ErrPastCutoff means a manual log arrived too long after the session
	// started to be recorded.
	ErrPastCutoff = errors.New("attendance: logging window elapsed")

	// ErrFaceService wraps recognition-service failures. The batch is
	// aborted before any store mutation.
	ErrFaceService = errors.New("attendance: face service failed")
)
