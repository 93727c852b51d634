package work

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/internal/catalog"
	"github.com/MikeGii/vomm-sub003/internal/observability"
	"github.com/MikeGii/vomm-sub003/internal/player"
	"github.com/MikeGii/vomm-sub003/internal/reward"
	"github.com/MikeGii/vomm-sub003/model"
)

// Poll statuses returned to callers.
const (
	StatusIdle         = "idle"
	StatusWorking      = "working"
	StatusPendingEvent = "pending_event"
	StatusCompleted    = "completed"
)

// Options holds the tunable state-machine parameters.
type Options struct {
	// EventChance is the probability a completion boundary spawns an event.
	EventChance float64

	// AcceleratedDuration is the fixed wall-clock duration of an
	// accelerated session, regardless of committed hours.
	AcceleratedDuration time.Duration

	// MinHealth is the health floor required to start a shift.
	MinHealth int

	// WorkingTrainingCap and RestingTrainingCap are the training budget
	// values applied when a shift starts and when it reaches a terminal
	// state.
	WorkingTrainingCap int
	RestingTrainingCap int

	// GraceWindow is how long past committedHours the recovery failsafe
	// waits before force-finalizing a session.
	GraceWindow time.Duration
}

// DefaultOptions returns the production parameter set.
func DefaultOptions() Options {
	return Options{
		EventChance:         0.3,
		AcceleratedDuration: 60 * time.Second,
		MinHealth:           50,
		WorkingTrainingCap:  10,
		RestingTrainingCap:  50,
		GraceWindow:         5 * time.Minute,
	}
}

// Recorder receives state-machine lifecycle signals for metrics. A nil
// Recorder disables recording.
type Recorder interface {
	SessionStarted(accelerated bool)
	SessionFinalized(outcome string)
	EventInjected()
	EventResolved()
	RecoveryApplied(pattern string)
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Sessions SessionStore
	Events   PendingEventStore
	Players  player.Store
	History  HistorySink
	Catalog  *catalog.Catalog
	Injector *Injector
	Logger   *zap.Logger
	Metrics  Recorder
	Options  Options

	// Now overrides the engine clock. Nil means time.Now.
	Now func() time.Time
}

// Engine is the work-session state machine. All lifecycle operations funnel
// through it: starting shifts, observing the completion boundary, resolving
// injected events, early cancellation, and the finalize step they share.
//
// Every state change delegates to a conditional store write. When two
// actors race at the same boundary, exactly one write succeeds and the
// loser treats its CONFLICT as "someone else already did this".
type Engine struct {
	sessions SessionStore
	events   PendingEventStore
	players  player.Store
	history  HistorySink
	catalog  *catalog.Catalog
	injector *Injector
	logger   *zap.Logger
	metrics  Recorder
	opts     Options
	now      func() time.Time
}

// NewEngine creates the state machine from its wired collaborators.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sessions: cfg.Sessions,
		events:   cfg.Events,
		players:  cfg.Players,
		history:  cfg.History,
		catalog:  cfg.Catalog,
		injector: cfg.Injector,
		logger:   logger,
		metrics:  cfg.Metrics,
		opts:     cfg.Options,
		now:      now,
	}
}

// StartRequest is the input to Start.
type StartRequest struct {
	ActivityID  string `json:"activity_id"`
	Region      string `json:"region"`
	Department  string `json:"department"`
	Hours       int    `json:"hours"`
	Accelerated bool   `json:"accelerated,omitempty"`
}

// Start begins a work shift for the owner. The session record is created
// first so the store's one-session-per-owner key arbitrates concurrent
// starts; the player flags are set afterwards and the session is rolled back
// if the player no longer qualifies.
func (e *Engine) Start(ctx context.Context, ownerID string, req StartRequest) (_ model.WorkSession, err error) {
	ctx, span := observability.StartSpan(ctx, "work.start",
		observability.AttrPlayerID.String(ownerID),
		observability.AttrActivityID.String(req.ActivityID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	activity, ok := e.catalog.Activity(req.ActivityID)
	if !ok {
		return model.WorkSession{}, model.NewPreconditionFailedError(
			fmt.Sprintf("unknown activity %q", req.ActivityID),
		)
	}
	if req.Hours < 1 || req.Hours > activity.MaxHours {
		return model.WorkSession{}, model.NewBadRequestError(
			fmt.Sprintf("hours must be between 1 and %d for %q", activity.MaxHours, activity.ID),
		)
	}

	attrs, err := e.players.Get(ctx, ownerID)
	if err != nil {
		return model.WorkSession{}, err
	}
	if err := e.checkFitness(attrs, activity); err != nil {
		return model.WorkSession{}, err
	}

	startedAt := e.now().UTC()
	duration := time.Duration(req.Hours) * time.Hour
	if req.Accelerated {
		duration = e.opts.AcceleratedDuration
	}

	sess := model.WorkSession{
		SessionID:      uuid.NewString(),
		OwnerID:        ownerID,
		ActivityID:     activity.ID,
		Region:         req.Region,
		Department:     req.Department,
		StartedAt:      startedAt,
		EndsAt:         startedAt.Add(duration),
		CommittedHours: req.Hours,
		ExpectedReward: reward.Compute(activity, req.Hours),
		State:          model.SessionInProgress,
		IsAccelerated:  req.Accelerated,
	}

	if err := e.sessions.Create(ctx, sess); err != nil {
		if model.IsConflict(err) {
			return model.WorkSession{}, model.NewPreconditionFailedError("a work session is already active")
		}
		return model.WorkSession{}, err
	}

	err = e.players.Mutate(ctx, ownerID, func(p *model.PlayerAttributes) error {
		// Re-check under the player lock: the snapshot above may be stale.
		if err := e.checkFitness(*p, activity); err != nil {
			return err
		}
		p.IsWorking = true
		if p.TrainingBudget > e.opts.WorkingTrainingCap {
			p.TrainingBudget = e.opts.WorkingTrainingCap
		}
		return nil
	})
	if err != nil {
		if delErr := e.sessions.Delete(ctx, ownerID, sess.SessionID); delErr != nil {
			e.logger.Error("rollback of rejected session failed",
				zap.String("player_id", ownerID),
				zap.String("session_id", sess.SessionID),
				zap.Error(delErr),
			)
		}
		return model.WorkSession{}, err
	}

	if e.metrics != nil {
		e.metrics.SessionStarted(req.Accelerated)
	}
	e.logger.Info("work session started",
		zap.String("player_id", ownerID),
		zap.String("session_id", sess.SessionID),
		zap.String("activity_id", activity.ID),
		zap.Int("hours", req.Hours),
		zap.Bool("accelerated", req.Accelerated),
	)
	return sess, nil
}

func (e *Engine) checkFitness(p model.PlayerAttributes, activity model.Activity) error {
	if p.Health.Current < e.opts.MinHealth {
		return model.NewPreconditionFailedError(
			fmt.Sprintf("health %d is below the required %d", p.Health.Current, e.opts.MinHealth),
		)
	}
	if p.Level < activity.MinLevel {
		return model.NewPreconditionFailedError(
			fmt.Sprintf("level %d is below the required %d for %q", p.Level, activity.MinLevel, activity.ID),
		)
	}
	for _, courseID := range activity.RequiredCourses {
		if !p.HasCompletedCourse(courseID) {
			return model.NewPreconditionFailedError(
				fmt.Sprintf("activity %q requires completing course %q first", activity.ID, courseID),
			)
		}
	}
	if p.ActiveCourseID != "" {
		return model.NewPreconditionFailedError("cannot work while attending a course")
	}
	if p.IsWorking {
		return model.NewPreconditionFailedError("a work session is already active")
	}
	return nil
}

// PollResult is the owner-visible view of the session lifecycle.
type PollResult struct {
	Status           string             `json:"status"`
	Session          *model.WorkSession `json:"session,omitempty"`
	RemainingSeconds int64              `json:"remaining_seconds,omitempty"`
	Event            *model.WorkEvent   `json:"event,omitempty"`
	Reward           *model.Reward      `json:"reward,omitempty"`
}

// Poll reports the owner's current lifecycle position and, when the clock
// has crossed the completion boundary, drives the transition out of
// in_progress: either injecting an event or finalizing with the full reward.
func (e *Engine) Poll(ctx context.Context, ownerID string) (_ PollResult, err error) {
	ctx, span := observability.StartSpan(ctx, "work.poll",
		observability.AttrPlayerID.String(ownerID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	sess, err := e.sessions.GetByOwner(ctx, ownerID)
	if model.IsNotFound(err) {
		return PollResult{Status: StatusIdle}, nil
	}
	if err != nil {
		return PollResult{}, err
	}

	switch sess.State {
	case model.SessionPendingEvent:
		return e.pendingEventResult(ctx, sess)
	case model.SessionInProgress:
		now := e.now().UTC()
		if now.Before(sess.EndsAt) {
			remaining := int64(sess.EndsAt.Sub(now).Seconds())
			if remaining < 1 {
				remaining = 1
			}
			return PollResult{Status: StatusWorking, Session: &sess, RemainingSeconds: remaining}, nil
		}
		return e.completeBoundary(ctx, sess)
	default:
		// Terminal states are deleted on finalize, so a read here lost a
		// race with the cleanup. Report idle.
		return PollResult{Status: StatusIdle}, nil
	}
}

func (e *Engine) pendingEventResult(ctx context.Context, sess model.WorkSession) (PollResult, error) {
	pending, err := e.events.GetBySession(ctx, sess.OwnerID, sess.SessionID)
	if model.IsNotFound(err) {
		// Orphaned pending_event session. The recovery sweep fixes these
		// too, but an owner poll should not have to wait for it.
		res, err := e.finalizeCompleted(ctx, sess, model.SessionPendingEvent)
		if err != nil {
			return PollResult{}, err
		}
		return res, nil
	}
	if err != nil {
		return PollResult{}, err
	}
	if pending.Status != model.EventPending {
		// The event was resolved but the finalize after it never ran.
		// Showing it again would offer the owner a choice that can no
		// longer be applied, so clear the leftover record and finish.
		if err := e.events.Delete(ctx, sess.OwnerID, sess.SessionID); err != nil {
			return PollResult{}, err
		}
		return e.finalizeCompleted(ctx, sess, model.SessionPendingEvent)
	}
	evt, ok := e.catalog.Event(pending.EventID)
	if !ok {
		return PollResult{}, model.NewInternalError(
			fmt.Sprintf("pending event %q is not in the catalog", pending.EventID),
		)
	}
	return PollResult{Status: StatusPendingEvent, Session: &sess, Event: &evt}, nil
}

// completeBoundary handles an in_progress session whose clock has run out.
// The injection roll happens before any write; whichever transition the roll
// selects is applied with a conditional update, and a lost race falls back
// to re-reading the session.
func (e *Engine) completeBoundary(ctx context.Context, sess model.WorkSession) (PollResult, error) {
	activity, ok := e.catalog.Activity(sess.ActivityID)
	if !ok {
		return PollResult{}, model.NewInternalError(
			fmt.Sprintf("session activity %q is not in the catalog", sess.ActivityID),
		)
	}
	attrs, err := e.players.Get(ctx, sess.OwnerID)
	if err != nil {
		return PollResult{}, err
	}

	evt := e.injector.Roll(activity.Type, attrs.Level, sess.IsAccelerated)
	if evt == nil {
		return e.finalizeCompleted(ctx, sess, model.SessionInProgress)
	}

	err = e.sessions.Transition(ctx, sess.OwnerID, sess.SessionID,
		model.SessionInProgress, model.SessionPendingEvent)
	if model.IsConflict(err) {
		// Another actor crossed the boundary first. Their outcome stands.
		return e.Poll(ctx, sess.OwnerID)
	}
	if err != nil {
		return PollResult{}, err
	}

	created, err := e.events.CreateIfAbsent(ctx, model.PendingEvent{
		EventID:     evt.ID,
		OwnerID:     sess.OwnerID,
		SessionID:   sess.SessionID,
		Status:      model.EventPending,
		TriggeredAt: e.now().UTC(),
	})
	if err != nil {
		return PollResult{}, err
	}
	if created {
		if e.metrics != nil {
			e.metrics.EventInjected()
		}
		e.logger.Info("work event injected",
			zap.String("player_id", sess.OwnerID),
			zap.String("session_id", sess.SessionID),
			zap.String("event_id", evt.ID),
		)
	}

	sess.State = model.SessionPendingEvent
	return e.pendingEventResult(ctx, sess)
}

// ResolveRequest is the input to ResolveEvent.
type ResolveRequest struct {
	EventID  string `json:"event_id"`
	ChoiceID string `json:"choice_id"`
}

// ResolveResult reports the outcome of an event resolution.
type ResolveResult struct {
	ResultText string             `json:"result_text"`
	Applied    model.Consequences `json:"applied"`
	Reward     model.Reward       `json:"reward"`
}

// ResolveEvent applies the owner's choice to their pending event and
// finalizes the session with the full reward. The event's pending→completed
// update is the exactly-once gate for consequence application: a duplicate
// or racing resolve loses that update and returns CONFLICT without touching
// the player.
func (e *Engine) ResolveEvent(ctx context.Context, ownerID string, req ResolveRequest) (_ ResolveResult, err error) {
	ctx, span := observability.StartSpan(ctx, "work.resolve_event",
		observability.AttrPlayerID.String(ownerID),
		observability.AttrEventID.String(req.EventID),
		observability.AttrChoiceID.String(req.ChoiceID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	sess, err := e.sessions.GetByOwner(ctx, ownerID)
	if model.IsNotFound(err) {
		return ResolveResult{}, model.NewNotFoundError("no work session to resolve an event for")
	}
	if err != nil {
		return ResolveResult{}, err
	}
	if sess.State != model.SessionPendingEvent {
		return ResolveResult{}, model.NewConflictError("session has no pending event")
	}

	pending, err := e.events.GetBySession(ctx, ownerID, sess.SessionID)
	if err != nil {
		return ResolveResult{}, err
	}
	if req.EventID != "" && req.EventID != pending.EventID {
		return ResolveResult{}, model.NewBadRequestError(
			fmt.Sprintf("event %q is not the pending event", req.EventID),
		)
	}
	evt, ok := e.catalog.Event(pending.EventID)
	if !ok {
		return ResolveResult{}, model.NewInternalError(
			fmt.Sprintf("pending event %q is not in the catalog", pending.EventID),
		)
	}
	choice := evt.Choice(req.ChoiceID)
	if choice == nil {
		return ResolveResult{}, model.NewBadRequestError(
			fmt.Sprintf("event %q has no choice %q", evt.ID, req.ChoiceID),
		)
	}

	if err := e.events.Complete(ctx, ownerID, sess.SessionID); err != nil {
		return ResolveResult{}, err
	}

	var applied model.Consequences
	err = e.players.Mutate(ctx, ownerID, func(p *model.PlayerAttributes) error {
		applied = p.ApplyConsequences(choice.Consequences)
		return nil
	})
	if err != nil {
		return ResolveResult{}, err
	}

	now := e.now().UTC()
	if err := e.history.AppendEvent(ctx, model.EventHistoryEntry{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		SessionID:  sess.SessionID,
		EventID:    evt.ID,
		ChoiceID:   choice.ID,
		ResultText: choice.ResultText,
		Applied:    applied,
		ResolvedAt: now,
	}); err != nil {
		return ResolveResult{}, err
	}

	if err := e.events.Delete(ctx, ownerID, sess.SessionID); err != nil {
		return ResolveResult{}, err
	}
	res, err := e.finalizeCompleted(ctx, sess, model.SessionPendingEvent)
	if err != nil {
		return ResolveResult{}, err
	}

	if e.metrics != nil {
		e.metrics.EventResolved()
	}
	e.logger.Info("work event resolved",
		zap.String("player_id", ownerID),
		zap.String("session_id", sess.SessionID),
		zap.String("event_id", evt.ID),
		zap.String("choice_id", choice.ID),
	)
	out := ResolveResult{ResultText: choice.ResultText, Applied: applied}
	if res.Reward != nil {
		out.Reward = *res.Reward
	}
	return out, nil
}

// CancelEarly cancels an in_progress session before its end time and pays
// out half of the elapsed-time fraction of the committed reward. A session
// past its completion boundary must go through Poll instead.
func (e *Engine) CancelEarly(ctx context.Context, ownerID string) (_ PollResult, err error) {
	ctx, span := observability.StartSpan(ctx, "work.cancel_early",
		observability.AttrPlayerID.String(ownerID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	sess, err := e.sessions.GetByOwner(ctx, ownerID)
	if model.IsNotFound(err) {
		return PollResult{}, model.NewNotFoundError("no work session to cancel")
	}
	if err != nil {
		return PollResult{}, err
	}
	if sess.State != model.SessionInProgress {
		return PollResult{}, model.NewConflictError("only an in-progress session can be cancelled")
	}
	now := e.now().UTC()
	if !now.Before(sess.EndsAt) {
		return PollResult{}, model.NewConflictError("shift has already ended")
	}

	elapsed := now.Sub(sess.StartedAt)
	committed := sess.EndsAt.Sub(sess.StartedAt)
	payout := reward.EarlyPayout(sess.ExpectedReward, elapsed, committed)
	hoursWorked := int(elapsed.Hours())

	err = e.sessions.Transition(ctx, ownerID, sess.SessionID,
		model.SessionInProgress, model.SessionCancelled)
	if model.IsConflict(err) {
		return e.Poll(ctx, ownerID)
	}
	if err != nil {
		return PollResult{}, err
	}

	if err := e.settle(ctx, sess, payout, hoursWorked, model.OutcomeCancelled, now); err != nil {
		return PollResult{}, err
	}
	return PollResult{Status: StatusIdle, Reward: &payout}, nil
}

// finalizeCompleted moves the session to completed from the given source
// state and settles the full reward. The conditional transition is the
// exactly-once gate: a lost race skips all side effects and reports the
// winner's outcome via a fresh Poll.
func (e *Engine) finalizeCompleted(ctx context.Context, sess model.WorkSession, from string) (PollResult, error) {
	err := e.sessions.Transition(ctx, sess.OwnerID, sess.SessionID,
		from, model.SessionCompleted)
	if model.IsConflict(err) {
		return e.Poll(ctx, sess.OwnerID)
	}
	if err != nil {
		return PollResult{}, err
	}

	full := sess.ExpectedReward
	if err := e.settle(ctx, sess, full, sess.CommittedHours, model.OutcomeCompleted, e.now().UTC()); err != nil {
		return PollResult{}, err
	}
	return PollResult{Status: StatusCompleted, Reward: &full}, nil
}

// settle runs the post-transition side effects shared by completion and
// cancellation: the history snapshot, the player credit, and removal of the
// terminal session record. By the time settle runs, the caller has already
// won the terminal transition, so these writes happen at most once.
func (e *Engine) settle(ctx context.Context, sess model.WorkSession, payout model.Reward, hoursWorked int, outcome string, finishedAt time.Time) (err error) {
	ctx, span := observability.StartSpan(ctx, "work.finalize",
		observability.AttrSessionID.String(sess.SessionID),
		observability.AttrOutcome.String(outcome),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	activityName := sess.ActivityID
	if activity, ok := e.catalog.Activity(sess.ActivityID); ok {
		activityName = activity.Name
	}

	if err := e.history.AppendWork(ctx, model.WorkHistoryEntry{
		ID:           uuid.NewString(),
		OwnerID:      sess.OwnerID,
		SessionID:    sess.SessionID,
		ActivityID:   sess.ActivityID,
		ActivityName: activityName,
		Region:       sess.Region,
		Department:   sess.Department,
		Hours:        sess.CommittedHours,
		StartedAt:    sess.StartedAt,
		FinishedAt:   finishedAt,
		Reward:       payout,
		Outcome:      outcome,
	}); err != nil {
		return fmt.Errorf("append work history: %w", err)
	}

	err = e.players.Mutate(ctx, sess.OwnerID, func(p *model.PlayerAttributes) error {
		p.AddReward(payout)
		p.TotalHoursWorked += hoursWorked
		p.IsWorking = false
		if p.TrainingBudget < e.opts.RestingTrainingCap {
			p.TrainingBudget = e.opts.RestingTrainingCap
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("credit player: %w", err)
	}

	if err := e.sessions.Delete(ctx, sess.OwnerID, sess.SessionID); err != nil {
		return fmt.Errorf("delete terminal session: %w", err)
	}

	if e.metrics != nil {
		e.metrics.SessionFinalized(outcome)
	}
	e.logger.Info("work session finalized",
		zap.String("player_id", sess.OwnerID),
		zap.String("session_id", sess.SessionID),
		zap.String("outcome", outcome),
		zap.Int("reward_exp", payout.Experience),
		zap.Int("reward_money", payout.Money),
	)
	return nil
}

// History returns the owner's work history, newest first.
func (e *Engine) History(ctx context.Context, ownerID string, limit int) ([]model.WorkHistoryEntry, error) {
	return e.history.ListWork(ctx, ownerID, limit)
}
