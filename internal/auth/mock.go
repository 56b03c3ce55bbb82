package auth

import (
	"context"
	"fmt"
	"sync"
)

var _ Authenticator = (*MockAuthenticator)(nil)

// MockAuthenticator implements Authenticator for testing. It holds a single
// session and lets tests emit session events directly.
type MockAuthenticator struct {
	mu         sync.Mutex
	session    *Session
	sessionErr error
	signOutErr error
	signOuts   int
	events     broadcaster
}

// NewMockAuthenticator returns a mock signed in as sess (nil for signed out).
func NewMockAuthenticator(sess *Session) *MockAuthenticator {
	return &MockAuthenticator{session: sess}
}

// Session returns the configured session.
func (m *MockAuthenticator) Session(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

// SignInURL returns a fake consent URL.
func (m *MockAuthenticator) SignInURL(state string) string {
	return "https://auth.example.test/authorize?state=" + state
}

// CompleteSignIn signs in as user "code" and emits EventSignedIn.
func (m *MockAuthenticator) CompleteSignIn(ctx context.Context, code, state string) (*Session, error) {
	if code == "" {
		return nil, fmt.Errorf("mock auth: empty code")
	}
	sess := &Session{UserID: code, Email: code + "@example.test"}
	m.SignIn(sess)
	return sess, nil
}

// SignOut clears the session and emits EventSignedOut.
func (m *MockAuthenticator) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.signOuts++
	if m.signOutErr != nil {
		err := m.signOutErr
		m.mu.Unlock()
		return err
	}
	m.session = nil
	m.mu.Unlock()
	m.events.emit(Event{Kind: EventSignedOut})
	return nil
}

// Subscribe registers fn for emitted events.
func (m *MockAuthenticator) Subscribe(fn func(Event)) *Subscription {
	return m.events.subscribe(fn)
}

// --- Test helpers ---

// SignIn replaces the session and emits EventSignedIn.
func (m *MockAuthenticator) SignIn(sess *Session) {
	m.mu.Lock()
	cp := *sess
	m.session = &cp
	m.mu.Unlock()
	m.events.emit(Event{Kind: EventSignedIn, Session: sess})
}

// Emit delivers an arbitrary event without touching the stored session.
func (m *MockAuthenticator) Emit(ev Event) {
	m.events.emit(ev)
}

// SetSessionError makes Session fail.
func (m *MockAuthenticator) SetSessionError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionErr = err
}

// SetSignOutError makes SignOut fail.
func (m *MockAuthenticator) SetSignOutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOutErr = err
}

// SignOutCount returns how many times SignOut was called.
func (m *MockAuthenticator) SignOutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOuts
}

// SubscriberCount reports the number of live subscriptions.
func (m *MockAuthenticator) SubscriberCount() int {
	m.events.mu.Lock()
	defer m.events.mu.Unlock()
	return len(m.events.subs)
}
