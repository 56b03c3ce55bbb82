// Package tracker is the synchronized state store for a 12-week cycle.
//
// Every mutation is applied to the in-memory state first and published to
// subscribers; the matching remote write is queued and runs later on a single
// worker goroutine, in the order the mutations were issued. What happens when
// a write fails is decided by the store's Policy.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/great12/internal/ai"
	"github.com/zulandar/great12/internal/auth"
	"github.com/zulandar/great12/internal/mapper"
	"github.com/zulandar/great12/internal/models"
	"github.com/zulandar/great12/internal/view"
)

// RecordStore is the remote record store.
type RecordStore interface {
	CreateCycle(ctx context.Context, cycle *models.Cycle, goals []models.Goal) error
	ActiveCycle(ctx context.Context, userID string) (*models.Cycle, error)
	Goals(ctx context.Context, cycleID string) ([]models.Goal, error)
	Actions(ctx context.Context, cycleID string) ([]models.Action, error)
	Reviews(ctx context.Context, cycleID string) ([]models.WeeklyReview, error)
	Profile(ctx context.Context, userID string) (*models.Profile, error)
	InsertAction(ctx context.Context, action *models.Action) error
	UpdateAction(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteAction(ctx context.Context, id string) error
	UpdateGoal(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteGoal(ctx context.Context, id string) error
	UpsertReview(ctx context.Context, review models.WeeklyReview) error
	UpsertProfile(ctx context.Context, profile models.Profile) error
	SetCycleActive(ctx context.Context, cycleID string, active bool) error
	ArchivedCycles(ctx context.Context, userID string) ([]models.Cycle, error)
}

// Authenticator supplies the session and its change stream.
type Authenticator = auth.Authenticator

// Generator produces weekly feedback text.
type Generator = ai.Generator

// Fallback keeps a local copy of the last published state.
type Fallback interface {
	Load() (view.TrackerState, bool, error)
	Save(state view.TrackerState) error
	Clear() error
}

// Metrics observes remote traffic. *metrics.Sync satisfies it.
type Metrics interface {
	ObserveWrite(op string, err error, elapsed time.Duration)
	ObserveRetry(op string)
	ObserveFeedback(err error)
}

// Phase is the store's lifecycle position.
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseLoading         Phase = "loading"
	PhaseLoggedOut       Phase = "logged_out"
	PhaseNeedsOnboarding Phase = "needs_onboarding"
	PhaseActive          Phase = "active"
)

// Snapshot is a deep copy of the store, delivered to subscribers.
type Snapshot struct {
	Version uint64            `json:"version"`
	Phase   Phase             `json:"phase"`
	Loading bool              `json:"loading"`
	Offline bool              `json:"offline"`
	UserID  string            `json:"userId,omitempty"`
	State   view.TrackerState `json:"state"`
}

// Opts configures a Store. Records and Auth are required.
type Opts struct {
	Records   RecordStore
	Auth      Authenticator
	Generator Generator   // optional; RequestFeedback returns ErrNoGenerator without it
	Fallback  Fallback    // optional
	Metrics   Metrics     // optional
	Logger    *log.Logger // defaults to log.Default()
	Policy    Policy
	Now       func() time.Time
}

// Store holds the tracker state for the signed-in user.
type Store struct {
	records  RecordStore
	auth     Authenticator
	gen      Generator
	fallback Fallback
	metrics  Metrics
	log      *log.Logger
	policy   Policy
	now      func() time.Time

	mu        sync.Mutex
	state     view.TrackerState
	session   *auth.Session
	cycleID   string
	fetching  int  // fetches in flight
	resolving bool // initial session lookup in progress
	offline   bool
	started   bool
	closed    bool
	epoch     uint64 // bumped whenever the session or active cycle changes
	version   uint64
	subs      map[int]func(Snapshot)
	nextSub   int
	pending   map[string]*pendingWrite

	pubMu     sync.Mutex
	delivered uint64

	authSub *auth.Subscription
	work    *worker
}

// New validates opts and returns an unstarted Store.
func New(opts Opts) (*Store, error) {
	if opts.Records == nil {
		return nil, fmt.Errorf("tracker: record store is required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("tracker: authenticator is required")
	}
	s := &Store{
		records:  opts.Records,
		auth:     opts.Auth,
		gen:      opts.Generator,
		fallback: opts.Fallback,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		policy:   opts.Policy,
		now:      opts.Now,
		state:    view.Initial(),
		subs:     make(map[int]func(Snapshot)),
		pending:  make(map[string]*pendingWrite),
	}
	if s.log == nil {
		s.log = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.work = newWorker(s.execute)
	return s, nil
}

// Start subscribes to session changes and loads the current session's data.
// A failed session lookup leaves the store logged out and is returned as an
// *AuthError.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("tracker: already started")
	}
	s.started = true
	s.resolving = true
	s.mu.Unlock()
	s.publish()

	s.authSub = s.auth.Subscribe(s.handleAuthEvent)

	sess, err := s.auth.Session(ctx)
	s.mu.Lock()
	s.resolving = false
	if err != nil || sess == nil {
		s.mu.Unlock()
		s.publish()
		if err != nil {
			return &AuthError{Op: "get session", Err: err}
		}
		return nil
	}
	cp := *sess
	s.session = &cp
	s.epoch++
	epoch := s.epoch
	s.fetching++
	s.mu.Unlock()

	s.fetch(ctx, cp.UserID, epoch)
	return nil
}

// Close stops listening for session changes and drains queued writes.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.authSub.Unsubscribe()
	s.work.close()
}

// Wait blocks until every queued write and in-flight fetch or feedback call
// has finished.
func (s *Store) Wait() {
	s.work.wait()
}

// Subscribe registers fn to receive a snapshot after every change. Snapshots
// are delivered in version order; a slow subscriber may skip intermediate
// versions but always sees the latest. fn must not call mutating Store
// methods.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Phase reports where the store is in its lifecycle.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

// Refresh refetches the active cycle for the signed-in user.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	userID, epoch := s.session.UserID, s.epoch
	s.fetching++
	s.mu.Unlock()

	s.fetch(ctx, userID, epoch)
	return nil
}

// SignOut ends the session. The state reset arrives through the
// authenticator's SIGNED_OUT event.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return &AuthError{Op: "sign out", Err: err}
	}
	return nil
}

func (s *Store) handleAuthEvent(ev auth.Event) {
	switch ev.Kind {
	case auth.EventSignedIn:
		if ev.Session == nil {
			return
		}
		sess := *ev.Session
		s.mu.Lock()
		s.session = &sess
		s.epoch++
		epoch := s.epoch
		s.fetching++
		s.mu.Unlock()
		s.publish()

		if !s.work.spawn(func() { s.fetch(context.Background(), sess.UserID, epoch) }) {
			s.mu.Lock()
			s.fetching--
			s.mu.Unlock()
			s.log.Printf("tracker: store closed; skipping fetch for %s", sess.UserID)
		}
	case auth.EventSignedOut:
		s.mu.Lock()
		s.session = nil
		s.state = view.Initial()
		s.cycleID = ""
		s.offline = false
		s.epoch++
		s.mu.Unlock()
		s.publish()

		if s.fallback != nil {
			if err := s.fallback.Clear(); err != nil {
				s.log.Printf("tracker: clear fallback: %v", err)
			}
		}
	default:
		if ev.Session == nil {
			return
		}
		sess := *ev.Session
		s.mu.Lock()
		if s.session == nil || s.session.UserID == sess.UserID {
			s.session = &sess
		}
		s.mu.Unlock()
	}
}

// fetch reads the active cycle and rebuilds the state. The caller has
// already counted the fetch in s.fetching. The result is dropped if the
// session or cycle changed while the reads were in flight.
func (s *Store) fetch(ctx context.Context, userID string, epoch uint64) {
	s.publish()

	state, cycleID, err := s.read(ctx, userID)

	s.mu.Lock()
	s.fetching--
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Printf("tracker: dropping stale fetch for %s", userID)
		s.publish()
		return
	}
	if err != nil {
		var mErr *MappingError
		restored := false
		if !errors.As(err, &mErr) && !s.state.IsSetupComplete && s.fallback != nil {
			restored = s.restoreLocked()
		}
		s.mu.Unlock()
		s.log.Printf("tracker: fetch for %s: %v", userID, err)
		if restored {
			s.log.Printf("tracker: showing saved state for %s", userID)
		}
		s.publish()
		return
	}

	if s.cycleID != "" && s.cycleID == cycleID {
		for n, w := range state.Weeks {
			if prev, ok := s.state.Weeks[n]; ok && prev.Feedback != "" {
				w.Feedback = prev.Feedback
				state.Weeks[n] = w
			}
		}
	}
	if cycleID != s.cycleID {
		s.epoch++
	}
	s.state = state
	s.cycleID = cycleID
	s.offline = false
	s.mu.Unlock()
	s.publish()
}

func (s *Store) read(ctx context.Context, userID string) (view.TrackerState, string, error) {
	profile, err := s.records.Profile(ctx, userID)
	if err != nil {
		return view.TrackerState{}, "", err
	}
	cycle, err := s.records.ActiveCycle(ctx, userID)
	if err != nil {
		return view.TrackerState{}, "", err
	}
	if cycle == nil {
		state := view.Initial()
		if profile != nil {
			state.Profile = &view.Profile{Nickname: profile.Nickname}
		}
		return state, "", nil
	}
	goals, err := s.records.Goals(ctx, cycle.ID)
	if err != nil {
		return view.TrackerState{}, "", err
	}
	actions, err := s.records.Actions(ctx, cycle.ID)
	if err != nil {
		return view.TrackerState{}, "", err
	}
	reviews, err := s.records.Reviews(ctx, cycle.ID)
	if err != nil {
		return view.TrackerState{}, "", err
	}
	state, err := mapper.RowsToState(*cycle, goals, actions, reviews, profile)
	if err != nil {
		return view.TrackerState{}, "", err
	}
	return state, cycle.ID, nil
}

// restoreLocked loads the fallback snapshot into an unset state.
func (s *Store) restoreLocked() bool {
	saved, ok, err := s.fallback.Load()
	if err != nil {
		s.log.Printf("tracker: load fallback: %v", err)
		return false
	}
	if !ok || !saved.IsSetupComplete {
		return false
	}
	s.state = saved
	s.offline = true
	return true
}

func (s *Store) phaseLocked() Phase {
	switch {
	case !s.started:
		return PhaseUninitialized
	case s.resolving:
		return PhaseLoading
	case s.session == nil:
		return PhaseLoggedOut
	case s.fetching > 0:
		return PhaseLoading
	case s.state.IsSetupComplete:
		return PhaseActive
	default:
		return PhaseNeedsOnboarding
	}
}

func (s *Store) snapshotLocked() Snapshot {
	phase := s.phaseLocked()
	snap := Snapshot{
		Version: s.version,
		Phase:   phase,
		Loading: phase == PhaseLoading,
		Offline: s.offline,
		State:   s.state.Clone(),
	}
	if s.session != nil {
		snap.UserID = s.session.UserID
	}
	return snap
}

// publish delivers the current state to subscribers and the fallback.
func (s *Store) publish() {
	s.mu.Lock()
	s.version++
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version

	for _, fn := range fns {
		fn(snap)
	}
	if s.fallback != nil && snap.UserID != "" && !snap.Loading && !snap.Offline {
		if err := s.fallback.Save(snap.State); err != nil {
			s.log.Printf("tracker: save fallback: %v", err)
		}
	}
}

// enqueue queues a remote write, or reports ErrClosed.
func (s *Store) enqueue(c command) error {
	if !s.work.push(c) {
		return ErrClosed
	}
	return nil
}

// execute runs one command on the worker goroutine.
func (s *Store) execute(c command) {
	start := time.Now()
	attempts := s.policy.attempts()
	var err error
	for i := 1; i <= attempts; i++ {
		err = c.run()
		if err == nil {
			break
		}
		if i < attempts {
			if s.metrics != nil {
				s.metrics.ObserveRetry(c.op)
			}
			s.log.Printf("tracker: %s attempt %d/%d: %v", c.op, i, attempts, err)
			time.Sleep(s.policy.RetryDelay * time.Duration(i))
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveWrite(c.op, err, time.Since(start))
	}
	if err != nil {
		werr := &WriteError{Op: c.op, Table: c.table, Err: err}
		s.log.Printf("%v", werr)
		if c.onFail != nil {
			c.onFail(werr)
		}
		return
	}
	if c.onOK != nil {
		c.onOK()
	}
}
