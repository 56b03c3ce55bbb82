package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/great12/internal/auth"
	"github.com/zulandar/great12/internal/db"
	"github.com/zulandar/great12/internal/localstore"
	"github.com/zulandar/great12/internal/models"
	"github.com/zulandar/great12/internal/records"
	"github.com/zulandar/great12/internal/view"
	"gorm.io/gorm"
)

// call is one write or read seen by recordingStore.
type call struct {
	method  string
	id      string
	updates map[string]interface{}
}

// recordingStore wraps a real RecordStore, recording calls and injecting
// failures or pauses per method.
type recordingStore struct {
	RecordStore

	mu       sync.Mutex
	calls    []call
	failures map[string]int // remaining failures; negative fails forever
	gates    map[string]chan struct{}
	entered  chan string
}

func newRecordingStore(inner RecordStore) *recordingStore {
	return &recordingStore{
		RecordStore: inner,
		failures:    make(map[string]int),
		gates:       make(map[string]chan struct{}),
		entered:     make(chan string, 16),
	}
}

func (r *recordingStore) before(method, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	r.calls = append(r.calls, call{method: method, id: id, updates: updates})
	gate := r.gates[method]
	var err error
	if n := r.failures[method]; n != 0 {
		if n > 0 {
			r.failures[method] = n - 1
		}
		err = fmt.Errorf("%s: injected failure", method)
	}
	r.mu.Unlock()

	if gate != nil {
		r.entered <- method
		<-gate
	}
	return err
}

// fail makes the next n calls to method fail; n < 0 fails every call.
func (r *recordingStore) fail(method string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[method] = n
}

// hold pauses calls to method until release.
func (r *recordingStore) hold(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates[method] = make(chan struct{})
}

func (r *recordingStore) release(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.gates[method]; g != nil {
		close(g)
		delete(r.gates, method)
	}
}

func (r *recordingStore) callsTo(method string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *recordingStore) CreateCycle(ctx context.Context, cycle *models.Cycle, goals []models.Goal) error {
	if err := r.before("CreateCycle", "", nil); err != nil {
		return err
	}
	return r.RecordStore.CreateCycle(ctx, cycle, goals)
}

func (r *recordingStore) ActiveCycle(ctx context.Context, userID string) (*models.Cycle, error) {
	if err := r.before("ActiveCycle", userID, nil); err != nil {
		return nil, err
	}
	return r.RecordStore.ActiveCycle(ctx, userID)
}

func (r *recordingStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	if err := r.before("Profile", userID, nil); err != nil {
		return nil, err
	}
	return r.RecordStore.Profile(ctx, userID)
}

func (r *recordingStore) InsertAction(ctx context.Context, action *models.Action) error {
	if err := r.before("InsertAction", "", nil); err != nil {
		return err
	}
	return r.RecordStore.InsertAction(ctx, action)
}

func (r *recordingStore) UpdateAction(ctx context.Context, id string, updates map[string]interface{}) error {
	if err := r.before("UpdateAction", id, updates); err != nil {
		return err
	}
	return r.RecordStore.UpdateAction(ctx, id, updates)
}

func (r *recordingStore) DeleteAction(ctx context.Context, id string) error {
	if err := r.before("DeleteAction", id, nil); err != nil {
		return err
	}
	return r.RecordStore.DeleteAction(ctx, id)
}

func (r *recordingStore) UpdateGoal(ctx context.Context, id string, updates map[string]interface{}) error {
	if err := r.before("UpdateGoal", id, updates); err != nil {
		return err
	}
	return r.RecordStore.UpdateGoal(ctx, id, updates)
}

func (r *recordingStore) DeleteGoal(ctx context.Context, id string) error {
	if err := r.before("DeleteGoal", id, nil); err != nil {
		return err
	}
	return r.RecordStore.DeleteGoal(ctx, id)
}

func (r *recordingStore) UpsertReview(ctx context.Context, review models.WeeklyReview) error {
	if err := r.before("UpsertReview", review.CycleID, nil); err != nil {
		return err
	}
	return r.RecordStore.UpsertReview(ctx, review)
}

func (r *recordingStore) UpsertProfile(ctx context.Context, profile models.Profile) error {
	if err := r.before("UpsertProfile", profile.ID, nil); err != nil {
		return err
	}
	return r.RecordStore.UpsertProfile(ctx, profile)
}

func (r *recordingStore) SetCycleActive(ctx context.Context, cycleID string, active bool) error {
	if err := r.before("SetCycleActive", cycleID, map[string]interface{}{"is_active": active}); err != nil {
		return err
	}
	return r.RecordStore.SetCycleActive(ctx, cycleID, active)
}

func (r *recordingStore) ArchivedCycles(ctx context.Context, userID string) ([]models.Cycle, error) {
	if err := r.before("ArchivedCycles", userID, nil); err != nil {
		return nil, err
	}
	return r.RecordStore.ArchivedCycles(ctx, userID)
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeMetrics counts observations.
type fakeMetrics struct {
	mu       sync.Mutex
	writes   map[string]int
	failures map[string]int
	retries  map[string]int
	feedback []error
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{writes: map[string]int{}, failures: map[string]int{}, retries: map[string]int{}}
}

func (m *fakeMetrics) ObserveWrite(op string, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[op]++
	if err != nil {
		m.failures[op]++
	}
}

func (m *fakeMetrics) ObserveRetry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}

func (m *fakeMetrics) ObserveFeedback(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, err)
}

// harness wires a Store to sqlite-backed records and a mock authenticator.
type harness struct {
	gdb     *gorm.DB
	records *records.GormStore
	rec     *recordingStore
	auth    *auth.MockAuthenticator
	logs    *syncBuffer
	metrics *fakeMetrics
	store   *Store
}

func newHarness(t *testing.T, sess *auth.Session, configure ...func(*Opts)) *harness {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	gs, err := records.New(gdb)
	if err != nil {
		t.Fatalf("records.New: %v", err)
	}
	h := &harness{
		gdb:     gdb,
		records: gs,
		rec:     newRecordingStore(gs),
		auth:    auth.NewMockAuthenticator(sess),
		logs:    &syncBuffer{},
		metrics: newFakeMetrics(),
	}
	opts := Opts{
		Records: h.rec,
		Auth:    h.auth,
		Metrics: h.metrics,
		Logger:  log.New(h.logs, "", 0),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.store, err = New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(h.store.Close)
	return h
}

func signedIn() *auth.Session { return &auth.Session{UserID: "u1", Email: "u1@example.com"} }

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.store.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.store.Wait()
}

var testGoals = []GoalInput{
	{Title: "Run a half marathon", Description: "under 2h"},
	{Title: "Read 6 books"},
	{Title: "Ship side project"},
}

// wednesday falls in the week starting Monday 2024-01-01.
var wednesday = time.Date(2024, time.January, 3, 15, 30, 0, 0, time.UTC)

// active starts the store and a new cycle.
func (h *harness) active(t *testing.T) {
	t.Helper()
	h.start(t)
	if err := h.store.StartNewCycle(context.Background(), testGoals, wednesday); err != nil {
		t.Fatalf("StartNewCycle: %v", err)
	}
}

// addAction adds an action and returns its id once inserted.
func (h *harness) addAction(t *testing.T, week int, goalID, title string) string {
	t.Helper()
	if err := h.store.AddAction(week, goalID, title); err != nil {
		t.Fatalf("AddAction: %v", err)
	}
	h.store.Wait()
	acts := h.store.Snapshot().State.Weeks[week].Actions
	if len(acts) == 0 {
		t.Fatalf("week %d has no actions after AddAction", week)
	}
	return acts[len(acts)-1].ID
}

func (h *harness) goalID(t *testing.T, i int) string {
	t.Helper()
	goals := h.store.Snapshot().State.Goals
	if i >= len(goals) {
		t.Fatalf("no goal %d in %+v", i, goals)
	}
	return goals[i].ID
}

func (h *harness) dbActions(t *testing.T) []models.Action {
	t.Helper()
	var rows []models.Action
	if err := h.gdb.Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("query actions: %v", err)
	}
	return rows
}

func TestNew_Validation(t *testing.T) {
	gdb, _ := db.OpenMemory()
	gs, _ := records.New(gdb)
	if _, err := New(Opts{Auth: auth.NewMockAuthenticator(nil)}); err == nil {
		t.Error("expected error without record store")
	}
	if _, err := New(Opts{Records: gs}); err == nil {
		t.Error("expected error without authenticator")
	}
}

func TestPhase_BeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.store.Phase(); got != PhaseUninitialized {
		t.Errorf("Phase = %q, want %q", got, PhaseUninitialized)
	}
}

func TestStart_NoSession(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	if got := h.store.Phase(); got != PhaseLoggedOut {
		t.Errorf("Phase = %q, want %q", got, PhaseLoggedOut)
	}
	if len(h.rec.callsTo("ActiveCycle")) != 0 {
		t.Error("fetched without a session")
	}
	if err := h.store.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestStart_SessionError(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.SetSessionError(errors.New("token store unavailable"))
	err := h.store.Start(context.Background())
	var aerr *AuthError
	if !errors.As(err, &aerr) || aerr.Op != "get session" {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if got := h.store.Phase(); got != PhaseLoggedOut {
		t.Errorf("Phase = %q, want %q", got, PhaseLoggedOut)
	}
}

func TestStart_NeedsOnboarding(t *testing.T) {
	h := newHarness(t, signedIn())
	if err := h.records.UpsertProfile(context.Background(), models.Profile{ID: "u1", Nickname: "kit"}); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	snap := h.store.Snapshot()
	if snap.Phase != PhaseNeedsOnboarding {
		t.Errorf("Phase = %q, want %q", snap.Phase, PhaseNeedsOnboarding)
	}
	if snap.UserID != "u1" {
		t.Errorf("UserID = %q", snap.UserID)
	}
	if snap.State.Profile == nil || snap.State.Profile.Nickname != "kit" {
		t.Errorf("Profile = %+v", snap.State.Profile)
	}
}

func TestStart_LoadsActiveCycle(t *testing.T) {
	h := newHarness(t, signedIn())
	ctx := context.Background()
	cycle := &models.Cycle{UserID: "u1", StartDate: "2024-01-01T00:00:00Z", IsActive: true}
	goals := []models.Goal{{Title: "A"}, {Title: "B"}, {Title: "C"}}
	if err := h.records.CreateCycle(ctx, cycle, goals); err != nil {
		t.Fatal(err)
	}
	a := &models.Action{CycleID: cycle.ID, UserID: "u1", GoalID: goals[1].ID, WeekNumber: 4, Title: "draft"}
	if err := h.records.InsertAction(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := h.records.UpsertReview(ctx, models.WeeklyReview{CycleID: cycle.ID, UserID: "u1", WeekNumber: 4, Content: `["busy week"]`}); err != nil {
		t.Fatal(err)
	}

	h.start(t)
	snap := h.store.Snapshot()
	if snap.Phase != PhaseActive {
		t.Fatalf("Phase = %q, want active", snap.Phase)
	}
	if len(snap.State.Goals) != 3 || len(snap.State.Weeks) != 12 {
		t.Errorf("goals %d, weeks %d", len(snap.State.Goals), len(snap.State.Weeks))
	}
	w4 := snap.State.Weeks[4]
	if len(w4.Actions) != 1 || w4.Actions[0].ID != a.ID || w4.Actions[0].GoalID != goals[1].ID {
		t.Errorf("week 4 actions = %+v", w4.Actions)
	}
	if len(w4.Review) != 1 || w4.Review[0] != "busy week" {
		t.Errorf("week 4 review = %v", w4.Review)
	}
}

func TestSignedIn_Refetches(t *testing.T) {
	h := newHarness(t, nil)
	cycle := &models.Cycle{UserID: "u1", StartDate: "2024-01-01", IsActive: true}
	if err := h.records.CreateCycle(context.Background(), cycle, []models.Goal{{Title: "A"}, {Title: "B"}, {Title: "C"}}); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	h.auth.SignIn(signedIn())
	h.store.Wait()
	if got := h.store.Phase(); got != PhaseActive {
		t.Errorf("Phase = %q, want active", got)
	}
}

func TestSignOut_ResetsState(t *testing.T) {
	h := newHarness(t, signedIn())
	h.active(t)

	if err := h.store.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	snap := h.store.Snapshot()
	if snap.Phase != PhaseLoggedOut {
		t.Errorf("Phase = %q, want logged_out", snap.Phase)
	}
	if snap.State.IsSetupComplete || snap.State.StartDate != nil || len(snap.State.Goals) != 0 {
		t.Errorf("state not reset: %+v", snap.State)
	}
	if err := h.store.ToggleAction(1, "x"); !errors.Is(err, ErrNoSession) {
		t.Errorf("ToggleAction after sign out err = %v, want ErrNoSession", err)
	}
}

func TestSignOut_Error(t *testing.T) {
	h := newHarness(t, signedIn())
	h.active(t)
	h.auth.SetSignOutError(errors.New("offline"))

	err := h.store.SignOut(context.Background())
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if h.store.Phase() != PhaseActive {
		t.Error("state should be kept when sign-out fails")
	}
}

func TestTokenRefreshed_KeepsState(t *testing.T) {
	h := newHarness(t, signedIn())
	h.active(t)
	h.auth.Emit(auth.Event{Kind: auth.EventTokenRefreshed, Session: &auth.Session{UserID: "u1", AccessToken: "new"}})
	h.store.Wait()
	if h.store.Phase() != PhaseActive {
		t.Errorf("Phase = %q, want active", h.store.Phase())
	}
	if n := len(h.rec.callsTo("ActiveCycle")); n != 1 {
		t.Errorf("ActiveCycle calls = %d, want 1", n)
	}
}

func TestFallback_RestoresOnReadFailure(t *testing.T) {
	dir := t.TempDir()
	fb, err := localstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	saved := view.TrackerState{
		StartDate:       &start,
		IsSetupComplete: true,
		Goals:           []view.Goal{{ID: "g1", Title: "Saved goal"}},
		Weeks:           map[int]view.WeekData{1: {WeekNumber: 1}},
	}
	if err := fb.Save(saved); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, signedIn(), func(o *Opts) { o.Fallback = fb })
	h.rec.fail("Profile", -1)
	h.start(t)

	snap := h.store.Snapshot()
	if !snap.Offline {
		t.Error("Offline = false, want true")
	}
	if snap.Phase != PhaseActive || len(snap.State.Goals) != 1 || snap.State.Goals[0].Title != "Saved goal" {
		t.Errorf("snapshot = %+v", snap)
	}
	if err := h.store.AddAction(1, "g1", "x"); !errors.Is(err, ErrNoActiveCycle) {
		t.Errorf("AddAction offline err = %v, want ErrNoActiveCycle", err)
	}
	if !strings.Contains(h.logs.String(), "showing saved state") {
		t.Errorf("logs = %s", h.logs.String())
	}
}

func TestFallback_SavedOnPublishAndClearedOnSignOut(t *testing.T) {
	fb, _ := localstore.New(t.TempDir())
	h := newHarness(t, signedIn(), func(o *Opts) { o.Fallback = fb })
	h.active(t)

	saved, ok, err := fb.Load()
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if !saved.IsSetupComplete || len(saved.Goals) != 3 {
		t.Errorf("saved = %+v", saved)
	}

	if err := h.store.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := fb.Load(); ok {
		t.Error("fallback not cleared on sign out")
	}
}

func TestFetch_MappingErrorNotRestored(t *testing.T) {
	fb, _ := localstore.New(t.TempDir())
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := fb.Save(view.TrackerState{StartDate: &start, IsSetupComplete: true}); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, signedIn(), func(o *Opts) { o.Fallback = fb })
	if err := h.gdb.Create(&models.Cycle{UserID: "u1", StartDate: "someday", IsActive: true}).Error; err != nil {
		t.Fatal(err)
	}
	h.start(t)

	snap := h.store.Snapshot()
	if snap.Offline || snap.State.IsSetupComplete {
		t.Errorf("snapshot = %+v, want unset and online", snap)
	}
	if !strings.Contains(h.logs.String(), "start_date") {
		t.Errorf("logs = %s", h.logs.String())
	}
}

func TestRefresh_MappingErrorKeepsState(t *testing.T) {
	h := newHarness(t, signedIn())
	h.active(t)
	before := h.store.Snapshot()

	var cycle models.Cycle
	if err := h.gdb.Where("user_id = ?", "u1").First(&cycle).Error; err != nil {
		t.Fatal(err)
	}
	if err := h.gdb.Model(&models.Cycle{}).Where("id = ?", cycle.ID).Update("start_date", "garbage").Error; err != nil {
		t.Fatal(err)
	}
	if err := h.store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	after := h.store.Snapshot()
	if after.Phase != PhaseActive || len(after.State.Goals) != len(before.State.Goals) {
		t.Errorf("state changed after mapping error: %+v", after)
	}
	if !after.State.StartDate.Equal(*before.State.StartDate) {
		t.Errorf("StartDate = %v, want %v", after.State.StartDate, before.State.StartDate)
	}
}

func TestRefresh_NoSession(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	if err := h.store.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestSubscribe_DeepCopies(t *testing.T) {
	h := newHarness(t, signedIn())
	h.start(t)

	var mu sync.Mutex
	var got []Snapshot
	unsub := h.store.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})
	if err := h.store.StartNewCycle(context.Background(), testGoals, wednesday); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	if len(got) == 0 {
		mu.Unlock()
		t.Fatal("no snapshot delivered")
	}
	last := got[len(got)-1]
	mu.Unlock()
	if last.Phase != PhaseActive {
		t.Errorf("last phase = %q", last.Phase)
	}
	last.State.Goals[0].Title = "mutated"
	if h.store.Snapshot().State.Goals[0].Title == "mutated" {
		t.Error("snapshot aliases store state")
	}

	unsub()
	unsub()
	mu.Lock()
	n := len(got)
	mu.Unlock()
	if err := h.store.UpdateProfile("kit"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Error("snapshot delivered after unsubscribe")
	}
	for i := 1; i < len(got); i++ {
		if got[i].Version <= got[i-1].Version {
			t.Errorf("versions out of order: %d then %d", got[i-1].Version, got[i].Version)
		}
	}
}

func TestClose_DrainsQueue(t *testing.T) {
	h := newHarness(t, signedIn())
	h.active(t)
	id := h.addAction(t, 1, h.goalID(t, 0), "stretch")

	h.rec.hold("UpdateAction")
	if err := h.store.ToggleAction(1, id); err != nil {
		t.Fatal(err)
	}
	<-h.rec.entered
	if err := h.store.UpdateAction(1, id, "stretch more"); err != nil {
		t.Fatal(err)
	}
	h.rec.release("UpdateAction")
	h.store.Close()

	if n := len(h.rec.callsTo("UpdateAction")); n != 2 {
		t.Errorf("UpdateAction calls = %d, want 2", n)
	}
	rows := h.dbActions(t)
	if len(rows) != 1 || !rows[0].IsCompleted || rows[0].Title != "stretch more" {
		t.Errorf("rows = %+v", rows)
	}
	if err := h.store.ToggleAction(1, id); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close err = %v, want ErrClosed", err)
	}
	h.store.Close()
}
