package swarm

import "errors"

var (
	// ErrInvalidTransition is returned for an illegal state change; nothing is modified.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateCandidate is returned when a candidate repeats an active threat.
	ErrDuplicateCandidate = errors.New("duplicate candidate")
	// ErrNoneAvailable is returned by TryAssign when no strike unit is idle.
	ErrNoneAvailable = errors.New("no strike unit available")
	// ErrInvalidCandidate is returned for a candidate with out-of-range fields.
	ErrInvalidCandidate = errors.New("invalid candidate")
	// ErrInvalidPatrolArea is returned for a patrol circle without a positive radius.
	ErrInvalidPatrolArea = errors.New("invalid patrol area")

	ErrUnknownAgent  = errors.New("unknown agent")
	ErrUnknownThreat = errors.New("unknown threat")
	ErrUnknownSlot   = errors.New("unknown strike slot")
)
