// Package auth signs users in through an OAuth provider and broadcasts
// session changes.
package auth

import (
	"context"
	"slices"
	"sync"
	"time"
)

// EventKind names a session change.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Session identifies the signed-in user.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// Event is delivered to subscribers on every session change. Session is nil
// for EventSignedOut.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Subscription is returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Authenticator is the session source the tracker depends on.
type Authenticator interface {
	Session(ctx context.Context) (*Session, error)
	SignInURL(state string) string
	CompleteSignIn(ctx context.Context, code, state string) (*Session, error)
	SignOut(ctx context.Context) error
	Subscribe(fn func(Event)) *Subscription
}

// broadcaster fans events out to subscribers. Handlers run on the caller's
// goroutine, outside the broadcaster lock.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func (b *broadcaster) subscribe(fn func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}}
}

func (b *broadcaster) emit(ev Event) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
