package session

import "fmt"

// Mode is the engine's current source of truth.
type Mode int

const (
	// ModeLocal: anonymous, the local caches are authoritative.
	ModeLocal Mode = iota
	// ModeReconciling: authenticated, local state is being merged into the server.
	ModeReconciling
	// ModeRemote: authenticated, the server is authoritative.
	ModeRemote
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeReconciling:
		return "reconciling"
	case ModeRemote:
		return "remote"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText renders the mode name in JSON status payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Status is a point-in-time view of the session.
type Status struct {
	Mode          Mode   `json:"mode"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	// PendingLocal counts local entries and buffered changes not yet on the server.
	PendingLocal int    `json:"pending_local"`
	LastError    string `json:"last_error,omitempty"`

	// Err is the failure of the last merge attempt, nil once it succeeds.
	Err error `json:"-"`
}
