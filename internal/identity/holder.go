// Package identity holds the session's current credential and user identity.
//
// The Holder is the only owner of Identity State. It emits LoggedIn/LoggedOut
// events exactly once per actual transition and persists the credential so a
// restart resumes the authenticated session.
package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

// FormatVersion is the semver of the persisted Record layout. Records whose
// major version differs are discarded on Restore.
const FormatVersion = "v1.0.0"

// State is a snapshot of Identity State.
type State struct {
	Authenticated bool
	Token         string
	UserID        string
	Email         string
}

// Record is the durable form of an authenticated identity.
type Record struct {
	Token         string
	UserID        string
	Email         string
	FormatVersion string
	UpdatedAt     time.Time
}

// Store persists the identity Record. LoadIdentity returns (nil, nil) when
// nothing is stored.
type Store interface {
	LoadIdentity(ctx context.Context) (*Record, error)
	SaveIdentity(ctx context.Context, rec Record) error
	ClearIdentity(ctx context.Context) error
}

// Holder owns Identity State. Safe for concurrent use.
type Holder struct {
	mu      sync.Mutex
	state   State
	seq     uint64
	subs    map[int]*Subscription
	nextSub int

	store  Store // nil disables persistence
	logger *slog.Logger
	now    func() time.Time
}

// New creates an anonymous Holder. store may be nil.
func New(store Store, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{
		subs:   make(map[int]*Subscription),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Restore loads a persisted identity without emitting an event.
// Incompatible or unreadable records are discarded and the Holder stays anonymous.
func (h *Holder) Restore(ctx context.Context) (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store == nil {
		return h.state, nil
	}

	rec, err := h.store.LoadIdentity(ctx)
	if err != nil {
		return h.state, err
	}
	if rec == nil {
		return h.state, nil
	}

	if !compatible(rec.FormatVersion) {
		h.logger.Warn("discarding persisted identity",
			slog.String("format_version", rec.FormatVersion),
			slog.String("want_major", semver.Major(FormatVersion)),
		)
		if err := h.store.ClearIdentity(ctx); err != nil {
			h.logger.Warn("clearing persisted identity failed", slog.String("error", err.Error()))
		}
		return h.state, nil
	}

	if rec.Token == "" || rec.UserID == "" {
		return h.state, nil
	}

	h.state = State{
		Authenticated: true,
		Token:         rec.Token,
		UserID:        rec.UserID,
		Email:         rec.Email,
	}
	h.logger.Info("identity restored", slog.String("user_id", rec.UserID))
	return h.state, nil
}

// compatible reports whether a stored format version shares our major version.
func compatible(v string) bool {
	if !semver.IsValid(v) {
		return false
	}
	return semver.Major(v) == semver.Major(FormatVersion)
}

// State returns the current Identity State.
func (h *Holder) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Current returns the Identity State together with the sequence number of
// the last event emitted, so a late subscriber can tell what it missed.
func (h *Holder) Current() (State, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.seq
}

// Token returns the current bearer credential, or "" when anonymous.
// The remote client reads it on every request.
func (h *Holder) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Token
}

// Login records an authenticated identity and returns the events it emitted.
//
//   - anonymous → LoggedIn
//   - same user, any token → no event (credential refresh only)
//   - different user → LoggedOut, then LoggedIn
func (h *Holder) Login(ctx context.Context, token, userID, email string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var events []Event
	if h.state.Authenticated {
		if h.state.UserID == userID {
			h.state.Token = token
			if email != "" {
				h.state.Email = email
			}
			h.persistLocked(ctx)
			return nil
		}
		h.state = State{}
		events = append(events, h.publishLocked(Event{Type: LoggedOut}))
	}

	h.state = State{
		Authenticated: true,
		Token:         token,
		UserID:        userID,
		Email:         email,
	}
	h.persistLocked(ctx)
	events = append(events, h.publishLocked(Event{
		Type:   LoggedIn,
		Token:  token,
		UserID: userID,
		Email:  email,
	}))

	h.logger.Info("identity authenticated", slog.String("user_id", userID))
	return events
}

// Logout returns the Holder to anonymous. Returns the LoggedOut event, or
// nil when already anonymous.
func (h *Holder) Logout(ctx context.Context) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.Authenticated {
		return nil
	}

	userID := h.state.UserID
	h.state = State{}
	h.persistLocked(ctx)
	ev := h.publishLocked(Event{Type: LoggedOut, UserID: userID})

	h.logger.Info("identity cleared", slog.String("user_id", userID))
	return []Event{ev}
}

// Subscribe registers a consumer for future events.
func (h *Holder) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSub++
	sub := newSubscription(h, h.nextSub)
	h.subs[sub.id] = sub
	return sub
}

func (h *Holder) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// publishLocked assigns the next sequence number and fans out. Caller holds h.mu,
// which keeps every subscriber's view in the same order.
func (h *Holder) publishLocked(e Event) Event {
	h.seq++
	e.Seq = h.seq
	for _, sub := range h.subs {
		sub.push(e)
	}
	return e
}

// persistLocked writes or clears the durable record. Failures are logged:
// the in-memory transition has already happened and must not be undone.
func (h *Holder) persistLocked(ctx context.Context) {
	if h.store == nil {
		return
	}

	var err error
	if h.state.Authenticated {
		err = h.store.SaveIdentity(ctx, Record{
			Token:         h.state.Token,
			UserID:        h.state.UserID,
			Email:         h.state.Email,
			FormatVersion: FormatVersion,
			UpdatedAt:     h.now(),
		})
	} else {
		err = h.store.ClearIdentity(ctx)
	}
	if err != nil {
		h.logger.Warn("persisting identity failed", slog.String("error", err.Error()))
	}
}
