package session

import (
	"sync"

	"storefront-sync/internal/model"
)

// ChangeType classifies a Change notification.
type ChangeType int

const (
	// CollectionChanged: the visible contents of Collection changed.
	CollectionChanged ChangeType = iota + 1
	// ModeChanged: the session moved to Mode.
	ModeChanged
	// SessionEnded: the session ended; Reason tells whether the user asked for it.
	SessionEnded
)

func (t ChangeType) String() string {
	switch t {
	case CollectionChanged:
		return "collection_changed"
	case ModeChanged:
		return "mode_changed"
	case SessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Reasons carried by SessionEnded and ModeChanged notifications.
const (
	ReasonLogout            = "logout"
	ReasonInvoluntary       = "involuntary_logout"
	ReasonMergeAuthRejected = "merge_auth_rejected"
	ReasonLogin             = "login"
	ReasonMerged            = "merged"
)

// Change is delivered to observers after the state it describes is visible.
type Change struct {
	Type       ChangeType
	Collection model.Kind
	Mode       Mode
	Reason     string
}

// observers is the subscriber registry. Callbacks run on the goroutine that
// made the change, after all session locks are released.
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (o *observers) subscribe(fn func(Change)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(Change))
	}
	o.next++
	id := o.next
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.fns, id)
		})
	}
}

func (o *observers) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	o.mu.Lock()
	fns := make([]func(Change), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}
