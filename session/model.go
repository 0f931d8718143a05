package session

import "time"

// Session is the persisted device session.
//
// A session is usable only while IsActive and PinVerified are both true and ExpiresAt lies in
// the future. See [StatusOf].
type Session struct {
	IsActive     bool      `json:"isActive"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	PinVerified  bool      `json:"pinVerified"`
}

// Status is the derived state of a (possibly absent) session.
type Status uint8

const (
	// StatusInactive means no session exists.
	StatusInactive Status = iota
	// StatusExpired means the session outlived ExpiresAt.
	StatusExpired
	// StatusLocked means the session exists but needs PIN re-entry.
	StatusLocked
	// StatusActive means the session is usable.
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusExpired:
		return "expired"
	case StatusLocked:
		return "locked"
	case StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// StatusOf derives the status of s at now. Expiry is checked before the activity and PIN
// flags, so an expired locked session reports StatusExpired.
func StatusOf(s *Session, now time.Time) Status {
	if s == nil {
		return StatusInactive
	}
	if !s.ExpiresAt.After(now) {
		return StatusExpired
	}
	if !s.IsActive || !s.PinVerified {
		return StatusLocked
	}
	return StatusActive
}
