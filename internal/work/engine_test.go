package work

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/internal/catalog"
	"github.com/MikeGii/vomm-sub003/internal/player"
	"github.com/MikeGii/vomm-sub003/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testFixture struct {
	engine   *Engine
	sessions *MemorySessionStore
	events   *MemoryEventStore
	players  *player.MemoryStore
	history  *MemoryHistory
	clock    *fakeClock
}

// newFixture wires an engine against in-memory stores with a deterministic
// clock. chance controls the injector: 0 never injects, 1 always does.
func newFixture(t *testing.T, chance float64) *testFixture {
	t.Helper()

	cat, err := catalog.New(
		[]model.Activity{
			{ID: "patrol", Name: "Patrol", Type: "patrol", MinLevel: 1, BaseExpPerHour: 50, BaseMoneyPerHour: 30, GrowthRate: 0.15, MaxHours: 10},
			{ID: "swat", Name: "SWAT Operation", Type: "swat", MinLevel: 20, BaseExpPerHour: 200, BaseMoneyPerHour: 90, GrowthRate: 0.2, MaxHours: 6, RequiredCourses: []string{"swat-basic"}},
		},
		[]model.WorkEvent{
			{
				ID: "evt-stop", Title: "Routine stop", Text: "A car refuses to pull over.",
				ActivityTypes: []string{"patrol"}, MinLevel: 1,
				Choices: []model.EventChoice{
					{ID: "pursue", Label: "Pursue", ResultText: "You catch the driver.", Consequences: model.Consequences{Health: -10, Money: 50, Reputation: 2}},
					{ID: "radio", Label: "Radio it in", ResultText: "Dispatch takes over.", Consequences: model.Consequences{Experience: -20}},
				},
			},
		},
	)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	f := &testFixture{
		sessions: NewMemorySessionStore(),
		events:   NewMemoryEventStore(),
		players:  player.NewMemoryStore(),
		history:  NewMemoryHistory(),
		clock:    newFakeClock(),
	}
	f.engine = NewEngine(EngineConfig{
		Sessions: f.sessions,
		Events:   f.events,
		Players:  f.players,
		History:  f.history,
		Catalog:  cat,
		Injector: NewInjector(cat, chance, rand.New(rand.NewSource(1))),
		Logger:   zap.NewNop(),
		Options:  DefaultOptions(),
		Now:      f.clock.Now,
	})

	err = f.players.Create(context.Background(), model.PlayerAttributes{
		PlayerID:       "p1",
		Health:         model.Health{Current: 80, Max: 100},
		Money:          200,
		Experience:     1000,
		Level:          5,
		Reputation:     10,
		TrainingBudget: 50,
	})
	if err != nil {
		t.Fatalf("players.Create: %v", err)
	}
	return f
}

func (f *testFixture) mustStart(t *testing.T, req StartRequest) model.WorkSession {
	t.Helper()
	sess, err := f.engine.Start(context.Background(), "p1", req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sess
}

func (f *testFixture) player(t *testing.T) model.PlayerAttributes {
	t.Helper()
	attrs, err := f.players.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("players.Get: %v", err)
	}
	return attrs
}

func TestEngine_startCreatesSession(t *testing.T) {
	f := newFixture(t, 0)
	sess := f.mustStart(t, StartRequest{ActivityID: "patrol", Region: "north", Department: "traffic", Hours: 3})

	if sess.State != model.SessionInProgress {
		t.Errorf("State = %q, want %q", sess.State, model.SessionInProgress)
	}
	if got := sess.EndsAt.Sub(sess.StartedAt); got != 3*time.Hour {
		t.Errorf("duration = %v, want 3h", got)
	}
	if sess.ExpectedReward.Experience != 172 {
		t.Errorf("ExpectedReward.Experience = %d, want 172", sess.ExpectedReward.Experience)
	}
	if sess.ExpectedReward.Money != 103 {
		t.Errorf("ExpectedReward.Money = %d, want 103", sess.ExpectedReward.Money)
	}

	attrs := f.player(t)
	if !attrs.IsWorking {
		t.Error("IsWorking = false after Start")
	}
	if attrs.TrainingBudget != 10 {
		t.Errorf("TrainingBudget = %d, want clamped to 10", attrs.TrainingBudget)
	}
}

func TestEngine_startRejectsUnknownActivity(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "nope", Hours: 1})
	if !model.IsPreconditionFailed(err) {
		t.Errorf("Start unknown activity: err = %v, want PRECONDITION_FAILED", err)
	}
}

func TestEngine_startRejectsBadHours(t *testing.T) {
	f := newFixture(t, 0)
	for _, hours := range []int{0, -1, 11} {
		_, err := f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "patrol", Hours: hours})
		if err == nil {
			t.Errorf("Start with hours=%d succeeded, want error", hours)
		}
	}
}

func TestEngine_startRejectsLowHealth(t *testing.T) {
	f := newFixture(t, 0)
	err := f.players.Mutate(context.Background(), "p1", func(p *model.PlayerAttributes) error {
		p.Health.Current = 49
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	_, err = f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "patrol", Hours: 3})
	if err == nil {
		t.Fatal("Start with health 49 succeeded, want precondition error")
	}
	if f.sessions.Len() != 0 {
		t.Errorf("sessions.Len() = %d after rejected start, want 0", f.sessions.Len())
	}
}

func TestEngine_startRejectsLowLevel(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "swat", Hours: 2})
	if err == nil {
		t.Fatal("Start of level-20 activity at level 5 succeeded, want precondition error")
	}
}

func TestEngine_startRequiresPriorCourses(t *testing.T) {
	f := newFixture(t, 0)
	err := f.players.Mutate(context.Background(), "p1", func(p *model.PlayerAttributes) error {
		p.Level = 20
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	_, err = f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "swat", Hours: 2})
	if !model.IsPreconditionFailed(err) {
		t.Fatalf("Start without required course: err = %v, want PRECONDITION_FAILED", err)
	}

	err = f.players.Mutate(context.Background(), "p1", func(p *model.PlayerAttributes) error {
		p.CompletedCourses = []string{"swat-basic"}
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if _, err := f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "swat", Hours: 2}); err != nil {
		t.Fatalf("Start with required course completed: %v", err)
	}
}

func TestEngine_startRejectsActiveCourse(t *testing.T) {
	f := newFixture(t, 0)
	err := f.players.Mutate(context.Background(), "p1", func(p *model.PlayerAttributes) error {
		p.ActiveCourseID = "advanced-driving"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	_, err = f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "patrol", Hours: 3})
	if err == nil {
		t.Fatal("Start during a course succeeded, want precondition error")
	}
}

func TestEngine_startTwiceRejected(t *testing.T) {
	f := newFixture(t, 0)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})

	_, err := f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "patrol", Hours: 2})
	if !model.IsPreconditionFailed(err) {
		t.Errorf("second Start: err = %v, want PRECONDITION_FAILED", err)
	}
}

func TestEngine_concurrentStartsSingleWinner(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Start(ctx, "p1", StartRequest{ActivityID: "patrol", Hours: 3}); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if started != 1 {
		t.Errorf("started = %d sessions, want 1", started)
	}
	if f.sessions.Len() != 1 {
		t.Errorf("sessions.Len() = %d, want 1", f.sessions.Len())
	}
}

func TestEngine_pollIdleWithoutSession(t *testing.T) {
	f := newFixture(t, 0)
	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != StatusIdle {
		t.Errorf("Status = %q, want %q", res.Status, StatusIdle)
	}
}

func TestEngine_pollWorkingReportsRemaining(t *testing.T) {
	f := newFixture(t, 0)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(1 * time.Hour)

	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != StatusWorking {
		t.Fatalf("Status = %q, want %q", res.Status, StatusWorking)
	}
	if res.RemainingSeconds != 2*3600 {
		t.Errorf("RemainingSeconds = %d, want %d", res.RemainingSeconds, 2*3600)
	}
}

func TestEngine_pollAtBoundaryCompletesWithoutEvent(t *testing.T) {
	f := newFixture(t, 0)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)

	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", res.Status, StatusCompleted)
	}
	if res.Reward == nil || res.Reward.Experience != 172 || res.Reward.Money != 103 {
		t.Fatalf("Reward = %+v, want 172 exp / 103 money", res.Reward)
	}

	attrs := f.player(t)
	if attrs.Experience != 1172 {
		t.Errorf("Experience = %d, want 1172", attrs.Experience)
	}
	if attrs.Money != 303 {
		t.Errorf("Money = %d, want 303", attrs.Money)
	}
	if attrs.IsWorking {
		t.Error("IsWorking = true after completion")
	}
	if attrs.TotalHoursWorked != 3 {
		t.Errorf("TotalHoursWorked = %d, want 3", attrs.TotalHoursWorked)
	}
	if attrs.TrainingBudget != 50 {
		t.Errorf("TrainingBudget = %d, want reset to 50", attrs.TrainingBudget)
	}

	if f.sessions.Len() != 0 {
		t.Errorf("sessions.Len() = %d after finalize, want 0", f.sessions.Len())
	}
	entries := f.history.WorkEntries("p1")
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].Outcome != model.OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", entries[0].Outcome, model.OutcomeCompleted)
	}
}

func TestEngine_pollAfterCompletionStaysIdle(t *testing.T) {
	f := newFixture(t, 0)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(4 * time.Hour)

	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("first Poll: %v", err)
	}
	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if res.Status != StatusIdle {
		t.Errorf("Status = %q, want %q", res.Status, StatusIdle)
	}

	// The reward must not be credited twice.
	if got := f.player(t).Experience; got != 1172 {
		t.Errorf("Experience = %d after repeated polls, want 1172", got)
	}
}

func TestEngine_pollAtBoundaryInjectsEvent(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)

	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != StatusPendingEvent {
		t.Fatalf("Status = %q, want %q", res.Status, StatusPendingEvent)
	}
	if res.Event == nil || res.Event.ID != "evt-stop" {
		t.Fatalf("Event = %+v, want evt-stop", res.Event)
	}

	// No reward yet: the session is parked until the event resolves.
	if got := f.player(t).Experience; got != 1000 {
		t.Errorf("Experience = %d while event pending, want 1000", got)
	}
	if f.events.Len() != 1 {
		t.Errorf("events.Len() = %d, want 1", f.events.Len())
	}
}

func TestEngine_repeatedPollsInjectAtMostOnce(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)

	for i := 0; i < 5; i++ {
		res, err := f.engine.Poll(context.Background(), "p1")
		if err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
		if res.Status != StatusPendingEvent {
			t.Fatalf("Poll %d: Status = %q, want %q", i, res.Status, StatusPendingEvent)
		}
	}
	if f.events.Len() != 1 {
		t.Errorf("events.Len() = %d after repeated polls, want 1", f.events.Len())
	}
}

func TestEngine_pollRecoversOrphanedPendingEvent(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// The event record vanishes while the session stays pending_event.
	sess, err := f.sessions.GetByOwner(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}
	if err := f.events.Delete(context.Background(), "p1", sess.SessionID); err != nil {
		t.Fatalf("events.Delete: %v", err)
	}

	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Poll after event loss: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", res.Status, StatusCompleted)
	}
	if res.Reward == nil || res.Reward.Experience != 172 {
		t.Errorf("Reward = %+v, want full 172 exp", res.Reward)
	}
	if got := len(f.history.WorkEntries("p1")); got != 1 {
		t.Errorf("history entries = %d, want 1", got)
	}
	if f.sessions.Len() != 0 {
		t.Errorf("sessions.Len() = %d, want 0", f.sessions.Len())
	}
}

func TestEngine_pollFinalizesResolvedButUnsettledEvent(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// The event was marked resolved but the finalize after it never ran,
	// as when a crash hits between the two writes.
	sess, err := f.sessions.GetByOwner(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}
	if err := f.events.Complete(context.Background(), "p1", sess.SessionID); err != nil {
		t.Fatalf("events.Complete: %v", err)
	}

	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Poll after interrupted resolve: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", res.Status, StatusCompleted)
	}
	if res.Reward == nil || res.Reward.Experience != 172 {
		t.Errorf("Reward = %+v, want full 172 exp", res.Reward)
	}

	attrs := f.player(t)
	if attrs.Experience != 1172 {
		t.Errorf("Experience = %d, want 1172", attrs.Experience)
	}
	if attrs.IsWorking {
		t.Error("IsWorking = true after recovery")
	}
	if f.events.Len() != 0 {
		t.Errorf("events.Len() = %d, want 0", f.events.Len())
	}
	if f.sessions.Len() != 0 {
		t.Errorf("sessions.Len() = %d, want 0", f.sessions.Len())
	}
	if got := len(f.history.WorkEntries("p1")); got != 1 {
		t.Errorf("history entries = %d, want 1", got)
	}
}

func TestEngine_acceleratedSessionSkipsEvents(t *testing.T) {
	f := newFixture(t, 1)
	sess := f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3, Accelerated: true})

	if got := sess.EndsAt.Sub(sess.StartedAt); got != 60*time.Second {
		t.Fatalf("accelerated duration = %v, want 60s", got)
	}

	f.clock.Advance(61 * time.Second)
	res, err := f.engine.Poll(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q even with injection chance 1", res.Status, StatusCompleted)
	}
	// Reward is still the full committed-hours reward.
	if res.Reward == nil || res.Reward.Experience != 172 {
		t.Errorf("Reward = %+v, want full 3h reward", res.Reward)
	}
}

func TestEngine_resolveEventAppliesChoice(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	res, err := f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{EventID: "evt-stop", ChoiceID: "pursue"})
	if err != nil {
		t.Fatalf("ResolveEvent: %v", err)
	}
	if res.ResultText != "You catch the driver." {
		t.Errorf("ResultText = %q", res.ResultText)
	}
	if res.Applied.Health != -10 || res.Applied.Money != 50 {
		t.Errorf("Applied = %+v, want health -10 money +50", res.Applied)
	}
	if res.Reward.Experience != 172 {
		t.Errorf("Reward.Experience = %d, want full 172", res.Reward.Experience)
	}

	attrs := f.player(t)
	if attrs.Health.Current != 70 {
		t.Errorf("Health.Current = %d, want 70", attrs.Health.Current)
	}
	// 200 start + 50 choice + 103 shift reward.
	if attrs.Money != 353 {
		t.Errorf("Money = %d, want 353", attrs.Money)
	}
	if attrs.Experience != 1172 {
		t.Errorf("Experience = %d, want 1172", attrs.Experience)
	}
	if attrs.Reputation != 12 {
		t.Errorf("Reputation = %d, want 12", attrs.Reputation)
	}

	if f.sessions.Len() != 0 || f.events.Len() != 0 {
		t.Errorf("sessions.Len() = %d, events.Len() = %d after resolve, want 0/0",
			f.sessions.Len(), f.events.Len())
	}
	if got := len(f.history.EventEntries("p1")); got != 1 {
		t.Errorf("event history entries = %d, want 1", got)
	}
}

func TestEngine_resolveNegativeExperienceChoiceIsNoop(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	res, err := f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{ChoiceID: "radio"})
	if err != nil {
		t.Fatalf("ResolveEvent: %v", err)
	}
	if res.Applied.Experience != 0 {
		t.Errorf("Applied.Experience = %d, want 0 (negative delta ignored)", res.Applied.Experience)
	}
	// 1000 start + 172 shift reward, the -20 choice delta never applies.
	if got := f.player(t).Experience; got != 1172 {
		t.Errorf("Experience = %d, want 1172", got)
	}
}

func TestEngine_resolveRejectsBadChoice(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	_, err := f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{ChoiceID: "bribe"})
	if err == nil {
		t.Fatal("ResolveEvent with unknown choice succeeded")
	}
	// Still resolvable afterwards.
	if _, err := f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{ChoiceID: "pursue"}); err != nil {
		t.Fatalf("ResolveEvent after bad choice: %v", err)
	}
}

func TestEngine_resolveWithoutPendingEvent(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{ChoiceID: "pursue"})
	if !model.IsNotFound(err) {
		t.Errorf("ResolveEvent with no session: err = %v, want NOT_FOUND", err)
	}

	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	_, err = f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{ChoiceID: "pursue"})
	if !model.IsConflict(err) {
		t.Errorf("ResolveEvent mid-shift: err = %v, want CONFLICT", err)
	}
}

func TestEngine_resolveReplayIsRejected(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{ChoiceID: "pursue"}); err != nil {
		t.Fatalf("ResolveEvent: %v", err)
	}

	_, err := f.engine.ResolveEvent(context.Background(), "p1", ResolveRequest{ChoiceID: "pursue"})
	if err == nil {
		t.Fatal("replayed ResolveEvent succeeded")
	}
	// Consequences applied exactly once.
	if got := f.player(t).Health.Current; got != 70 {
		t.Errorf("Health.Current = %d after replay, want 70", got)
	}
}

func TestEngine_cancelEarlyPaysHalfFraction(t *testing.T) {
	f := newFixture(t, 0)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 10})
	f.clock.Advance(4 * time.Hour)

	res, err := f.engine.CancelEarly(context.Background(), "p1")
	if err != nil {
		t.Fatalf("CancelEarly: %v", err)
	}
	// Full 10h reward is 835 exp / 500 money; 4/10 elapsed at 50% payout.
	if res.Reward == nil || res.Reward.Experience != 167 || res.Reward.Money != 100 {
		t.Fatalf("Reward = %+v, want 167 exp / 100 money", res.Reward)
	}

	attrs := f.player(t)
	if attrs.Experience != 1167 {
		t.Errorf("Experience = %d, want 1167", attrs.Experience)
	}
	if attrs.TotalHoursWorked != 4 {
		t.Errorf("TotalHoursWorked = %d, want 4", attrs.TotalHoursWorked)
	}
	if attrs.IsWorking {
		t.Error("IsWorking = true after cancel")
	}

	entries := f.history.WorkEntries("p1")
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeCancelled {
		t.Errorf("history = %+v, want one cancelled entry", entries)
	}
	if f.sessions.Len() != 0 {
		t.Errorf("sessions.Len() = %d after cancel, want 0", f.sessions.Len())
	}
}

func TestEngine_cancelAfterEndIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)

	_, err := f.engine.CancelEarly(context.Background(), "p1")
	if !model.IsConflict(err) {
		t.Errorf("CancelEarly past end: err = %v, want CONFLICT", err)
	}
}

func TestEngine_cancelDuringPendingEventIsRejected(t *testing.T) {
	f := newFixture(t, 1)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	_, err := f.engine.CancelEarly(context.Background(), "p1")
	if !model.IsConflict(err) {
		t.Errorf("CancelEarly in pending_event: err = %v, want CONFLICT", err)
	}
}

func TestEngine_cancelWithoutSession(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.engine.CancelEarly(context.Background(), "p1")
	if !model.IsNotFound(err) {
		t.Errorf("CancelEarly without session: err = %v, want NOT_FOUND", err)
	}
}

func TestEngine_startAfterFinalizeSucceeds(t *testing.T) {
	f := newFixture(t, 0)
	f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 3})
	f.clock.Advance(3 * time.Hour)
	if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if _, err := f.engine.Start(context.Background(), "p1", StartRequest{ActivityID: "patrol", Hours: 2}); err != nil {
		t.Errorf("Start after finalize: %v", err)
	}
}

func TestEngine_historyListsFinishedShifts(t *testing.T) {
	f := newFixture(t, 0)
	for i := 0; i < 2; i++ {
		f.mustStart(t, StartRequest{ActivityID: "patrol", Hours: 1})
		f.clock.Advance(1 * time.Hour)
		if _, err := f.engine.Poll(context.Background(), "p1"); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}

	entries, err := f.engine.History(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("History returned %d entries, want 2", len(entries))
	}
	if entries[0].ActivityName != "Patrol" {
		t.Errorf("ActivityName = %q, want %q", entries[0].ActivityName, "Patrol")
	}
}
