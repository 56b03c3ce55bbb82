package tracker

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/great12/internal/config"
)

func TestPolicyFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SyncConfig
		want    Policy
		wantErr bool
	}{
		{"empty is silent", config.SyncConfig{}, Policy{Mode: PolicySilent}, false},
		{"rollback", config.SyncConfig{Policy: "rollback"}, Policy{Mode: PolicyRollback}, false},
		{"retry", config.SyncConfig{Policy: "retry", MaxAttempts: 4, RetryDelayMs: 250},
			Policy{Mode: PolicyRetry, MaxAttempts: 4, RetryDelay: 250 * time.Millisecond}, false},
		{"unknown", config.SyncConfig{Policy: "yolo"}, Policy{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PolicyFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("policy = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPolicy_Attempts(t *testing.T) {
	tests := []struct {
		p    Policy
		want int
	}{
		{Policy{Mode: PolicySilent, MaxAttempts: 5}, 1},
		{Policy{Mode: PolicyRollback, MaxAttempts: 5}, 1},
		{Policy{Mode: PolicyRetry, MaxAttempts: 5}, 5},
		{Policy{Mode: PolicyRetry}, 1},
	}
	for _, tt := range tests {
		if got := tt.p.attempts(); got != tt.want {
			t.Errorf("%v.attempts() = %d, want %d", tt.p.Mode, got, tt.want)
		}
	}
}

func TestPolicyMode_String(t *testing.T) {
	if PolicyRetry.String() != "retry" || PolicyMode(9).String() != "PolicyMode(9)" {
		t.Errorf("got %q, %q", PolicyRetry.String(), PolicyMode(9).String())
	}
}

func TestSilentPolicy_KeepsOptimisticState(t *testing.T) {
	h := newHarness(t, signedIn())
	h.active(t)
	id := h.addAction(t, 1, h.goalID(t, 0), "stretch")

	h.rec.fail("UpdateAction", -1)
	if err := h.store.ToggleAction(1, id); err != nil {
		t.Fatal(err)
	}
	h.store.Wait()

	if !h.store.Snapshot().State.Weeks[1].Actions[0].IsCompleted {
		t.Error("silent policy should keep the optimistic toggle")
	}
	if !strings.Contains(h.logs.String(), "tracker: toggle action (actions)") {
		t.Errorf("logs = %s", h.logs.String())
	}
	if h.metrics.failures["toggle action"] != 1 {
		t.Errorf("failures = %v", h.metrics.failures)
	}
}

func TestRollbackPolicy(t *testing.T) {
	rollback := func(o *Opts) { o.Policy = Policy{Mode: PolicyRollback} }

	t.Run("toggle", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		id := h.addAction(t, 1, h.goalID(t, 0), "stretch")
		h.rec.fail("UpdateAction", -1)

		if err := h.store.ToggleAction(1, id); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		if h.store.Snapshot().State.Weeks[1].Actions[0].IsCompleted {
			t.Error("toggle not rolled back")
		}
	})

	t.Run("delete action keeps position", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		goal := h.goalID(t, 0)
		a := h.addAction(t, 2, goal, "a")
		b := h.addAction(t, 2, goal, "b")
		c := h.addAction(t, 2, goal, "c")
		h.rec.fail("DeleteAction", -1)

		if err := h.store.DeleteAction(2, b); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		acts := h.store.Snapshot().State.Weeks[2].Actions
		if len(acts) != 3 || acts[0].ID != a || acts[1].ID != b || acts[2].ID != c {
			t.Errorf("actions = %+v", acts)
		}
	})

	t.Run("delete goal restores actions", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		goal := h.goalID(t, 1)
		h.addAction(t, 1, goal, "x")
		h.addAction(t, 9, goal, "y")
		h.rec.fail("DeleteGoal", -1)

		if err := h.store.DeleteGoal(goal); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		snap := h.store.Snapshot()
		if len(snap.State.Goals) != 3 || snap.State.Goals[1].ID != goal {
			t.Errorf("goals = %+v", snap.State.Goals)
		}
		if len(snap.State.Weeks[1].Actions) != 1 || len(snap.State.Weeks[9].Actions) != 1 {
			t.Errorf("actions not restored: %+v", snap.State.AllActions())
		}
	})

	t.Run("review", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		if err := h.store.SaveReview(3, []string{"kept"}); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		h.rec.fail("UpsertReview", -1)
		if err := h.store.SaveReview(3, []string{"lost"}); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		if got := h.store.Snapshot().State.Weeks[3].Review; len(got) != 1 || got[0] != "kept" {
			t.Errorf("review = %v", got)
		}
	})

	t.Run("finish cycle", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		h.rec.fail("SetCycleActive", -1)

		if err := h.store.FinishCurrentCycle(); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		if got := h.store.Phase(); got != PhaseActive {
			t.Errorf("Phase = %q, want active after rollback", got)
		}
		id := h.addAction(t, 1, h.goalID(t, 0), "still writable")
		if id == "" {
			t.Error("restored cycle not writable")
		}
	})

	t.Run("newer change wins", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		id := h.addAction(t, 1, h.goalID(t, 0), "v1")
		h.rec.fail("UpdateAction", 1)
		h.rec.hold("UpdateAction")

		if err := h.store.UpdateAction(1, id, "v2"); err != nil {
			t.Fatal(err)
		}
		<-h.rec.entered
		if err := h.store.UpdateAction(1, id, "v3"); err != nil {
			t.Fatal(err)
		}
		h.rec.release("UpdateAction")
		h.store.Wait()
		if got := h.store.Snapshot().State.Weeks[1].Actions[0].Title; got != "v3" {
			t.Errorf("title = %q, want v3", got)
		}
	})

	t.Run("two failed toggles restore the stored value", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		id := h.addAction(t, 1, h.goalID(t, 0), "stretch")
		h.rec.fail("UpdateAction", -1)
		h.rec.hold("UpdateAction")

		if err := h.store.ToggleAction(1, id); err != nil {
			t.Fatal(err)
		}
		<-h.rec.entered
		if err := h.store.ToggleAction(1, id); err != nil {
			t.Fatal(err)
		}
		h.rec.release("UpdateAction")
		h.store.Wait()

		if n := len(h.rec.callsTo("UpdateAction")); n != 2 {
			t.Fatalf("writes = %d, want 2", n)
		}
		local := h.store.Snapshot().State.Weeks[1].Actions[0].IsCompleted
		remote := h.dbActions(t)[0].IsCompleted
		if local || remote {
			t.Errorf("local = %v, remote = %v, want both false", local, remote)
		}
	})

	t.Run("two failed title edits restore the stored title", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		id := h.addAction(t, 1, h.goalID(t, 0), "v1")
		h.rec.fail("UpdateAction", -1)
		h.rec.hold("UpdateAction")

		if err := h.store.UpdateAction(1, id, "v2"); err != nil {
			t.Fatal(err)
		}
		<-h.rec.entered
		if err := h.store.UpdateAction(1, id, "v3"); err != nil {
			t.Fatal(err)
		}
		h.rec.release("UpdateAction")
		h.store.Wait()

		if got := h.store.Snapshot().State.Weeks[1].Actions[0].Title; got != "v1" {
			t.Errorf("title = %q, want v1", got)
		}
		if got := h.dbActions(t)[0].Title; got != "v1" {
			t.Errorf("stored title = %q, want v1", got)
		}
	})

	t.Run("failure after an accepted write restores that write", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		h.rec.hold("UpsertProfile")

		if err := h.store.UpdateProfile("kit"); err != nil {
			t.Fatal(err)
		}
		<-h.rec.entered
		if err := h.store.UpdateProfile("kat"); err != nil {
			t.Fatal(err)
		}
		h.rec.fail("UpsertProfile", 1)
		h.rec.release("UpsertProfile")
		h.store.Wait()

		if p := h.store.Snapshot().State.Profile; p == nil || p.Nickname != "kit" {
			t.Errorf("profile = %+v, want kit", p)
		}
	})

	t.Run("failed reviews restore the stored entries", func(t *testing.T) {
		h := newHarness(t, signedIn(), rollback)
		h.active(t)
		if err := h.store.SaveReview(2, []string{"kept"}); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		h.rec.fail("UpsertReview", -1)
		h.rec.hold("UpsertReview")

		if err := h.store.SaveReview(2, []string{"first"}); err != nil {
			t.Fatal(err)
		}
		<-h.rec.entered
		if err := h.store.SaveReview(2, []string{"kept"}); err != nil {
			t.Fatal(err)
		}
		h.rec.release("UpsertReview")
		h.store.Wait()

		if got := h.store.Snapshot().State.Weeks[2].Review; len(got) != 1 || got[0] != "kept" {
			t.Errorf("review = %v, want [kept]", got)
		}
	})
}

func TestRetryPolicy(t *testing.T) {
	retry := func(o *Opts) {
		o.Policy = Policy{Mode: PolicyRetry, MaxAttempts: 3, RetryDelay: time.Millisecond}
	}

	t.Run("recovers", func(t *testing.T) {
		h := newHarness(t, signedIn(), retry)
		h.active(t)
		id := h.addAction(t, 1, h.goalID(t, 0), "stretch")
		h.rec.fail("UpdateAction", 2)

		if err := h.store.ToggleAction(1, id); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		if n := len(h.rec.callsTo("UpdateAction")); n != 3 {
			t.Errorf("attempts = %d, want 3", n)
		}
		if rows := h.dbActions(t); !rows[0].IsCompleted {
			t.Error("write not applied after retries")
		}
		if h.metrics.retries["toggle action"] != 2 {
			t.Errorf("retries = %v", h.metrics.retries)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		h := newHarness(t, signedIn(), retry)
		h.active(t)
		h.rec.fail("UpsertProfile", -1)

		if err := h.store.UpdateProfile("kit"); err != nil {
			t.Fatal(err)
		}
		h.store.Wait()
		if n := len(h.rec.callsTo("UpsertProfile")); n != 3 {
			t.Errorf("attempts = %d, want 3", n)
		}
		if !strings.Contains(h.logs.String(), "attempt 2/3") {
			t.Errorf("logs = %s", h.logs.String())
		}
		if p := h.store.Snapshot().State.Profile; p == nil || p.Nickname != "kit" {
			t.Errorf("retry policy should keep local state, got %+v", p)
		}
	})
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err  error
		want string
	}{
		{&AuthError{Op: "sign out", Err: cause}, "tracker: sign out: boom"},
		{&WriteError{Op: "add action", Table: "actions", Err: cause}, "tracker: add action (actions): boom"},
		{&FeedbackError{Week: 4, Err: cause}, "tracker: feedback for week 4: boom"},
	}
	for _, tt := range tests {
		if tt.err.Error() != tt.want {
			t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.want)
		}
		if !errors.Is(tt.err, cause) {
			t.Errorf("%T does not unwrap", tt.err)
		}
	}
}
