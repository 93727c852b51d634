package work

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/model"
)

// Recovery patterns, reported in logs and metrics.
const (
	RecoveryOrphanedEvent = "orphaned_event"
	RecoveryDueSession    = "due_session"
	RecoveryOverstayed    = "overstayed"
)

// SweepStats counts the repairs applied by one recovery pass.
type SweepStats struct {
	OrphanedEvents int
	DueSessions    int
	Overstayed     int
	Errors         int
}

// Sweep runs one recovery pass over all stuck sessions. Three patterns are
// repaired, in precedence order:
//
//  1. Overstayed sessions, older than committedHours plus the grace window
//     in any non-terminal state, are force-finalized with the full reward.
//     This failsafe always wins over the other patterns.
//  2. pending_event sessions whose event record is missing or already
//     resolved are finalized with the full reward.
//  3. in_progress sessions past their end time are pushed through the
//     normal completion boundary, injection roll included.
//
// Every repair goes through the same conditional transitions as the online
// paths, so a sweep racing an owner's poll loses gracefully.
func (e *Engine) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	now := e.now().UTC()

	overstayed, err := e.sessions.FindOverstayed(ctx, now, e.opts.GraceWindow)
	if err != nil {
		e.logger.Error("recovery: list overstayed sessions", zap.Error(err))
		stats.Errors++
	}
	forced := make(map[string]bool, len(overstayed))
	for _, sess := range overstayed {
		forced[sess.SessionID] = true
		if err := e.forceFinalize(ctx, sess); err != nil {
			e.logger.Error("recovery: force-finalize overstayed session",
				zap.String("player_id", sess.OwnerID),
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
			stats.Errors++
			continue
		}
		stats.Overstayed++
		e.recordRecovery(RecoveryOverstayed, sess)
	}

	pending, err := e.sessions.FindPendingEvent(ctx)
	if err != nil {
		e.logger.Error("recovery: list pending_event sessions", zap.Error(err))
		stats.Errors++
	}
	for _, sess := range pending {
		if forced[sess.SessionID] {
			continue
		}
		evt, err := e.events.GetBySession(ctx, sess.OwnerID, sess.SessionID)
		if err == nil && evt.Status == model.EventPending {
			continue
		}
		if err != nil && !model.IsNotFound(err) {
			e.logger.Error("recovery: load pending event",
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
			stats.Errors++
			continue
		}
		if err == nil {
			// Resolved record left behind by an interrupted finalize.
			if delErr := e.events.Delete(ctx, sess.OwnerID, sess.SessionID); delErr != nil {
				e.logger.Error("recovery: delete resolved event",
					zap.String("session_id", sess.SessionID),
					zap.Error(delErr),
				)
				stats.Errors++
				continue
			}
		}
		if _, err := e.finalizeCompleted(ctx, sess, model.SessionPendingEvent); err != nil {
			e.logger.Error("recovery: finalize orphaned pending_event session",
				zap.String("player_id", sess.OwnerID),
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
			stats.Errors++
			continue
		}
		stats.OrphanedEvents++
		e.recordRecovery(RecoveryOrphanedEvent, sess)
	}

	due, err := e.sessions.FindDue(ctx, now)
	if err != nil {
		e.logger.Error("recovery: list due sessions", zap.Error(err))
		stats.Errors++
	}
	for _, sess := range due {
		if forced[sess.SessionID] {
			continue
		}
		if _, err := e.completeBoundary(ctx, sess); err != nil {
			e.logger.Error("recovery: complete due session",
				zap.String("player_id", sess.OwnerID),
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
			stats.Errors++
			continue
		}
		stats.DueSessions++
		e.recordRecovery(RecoveryDueSession, sess)
	}

	return stats
}

// forceFinalize settles an overstayed session with the full reward no
// matter which non-terminal state it is stuck in. Any pending event record
// is discarded unresolved.
func (e *Engine) forceFinalize(ctx context.Context, sess model.WorkSession) error {
	if err := e.events.Delete(ctx, sess.OwnerID, sess.SessionID); err != nil {
		return err
	}
	err := e.sessions.Transition(ctx, sess.OwnerID, sess.SessionID,
		sess.State, model.SessionCompleted)
	if model.IsConflict(err) {
		// The session moved since we listed it. Leave it to the next pass.
		return nil
	}
	if err != nil {
		return err
	}
	return e.settle(ctx, sess, sess.ExpectedReward, sess.CommittedHours,
		model.OutcomeCompleted, e.now().UTC())
}

func (e *Engine) recordRecovery(pattern string, sess model.WorkSession) {
	if e.metrics != nil {
		e.metrics.RecoveryApplied(pattern)
	}
	e.logger.Warn("recovery applied",
		zap.String("pattern", pattern),
		zap.String("player_id", sess.OwnerID),
		zap.String("session_id", sess.SessionID),
	)
}

// RunSweeper runs the recovery pass on a fixed interval until the context
// is cancelled. Started as a background goroutine from main.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("recovery sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("recovery sweeper stopped")
			return
		case <-ticker.C:
			stats := e.Sweep(ctx)
			if stats.OrphanedEvents+stats.DueSessions+stats.Overstayed+stats.Errors > 0 {
				e.logger.Info("recovery sweep finished",
					zap.Int("orphaned_events", stats.OrphanedEvents),
					zap.Int("due_sessions", stats.DueSessions),
					zap.Int("overstayed", stats.Overstayed),
					zap.Int("errors", stats.Errors),
				)
			}
		}
	}
}
