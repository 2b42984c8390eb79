package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stridesync/stridesync/internal/fitbit"
	"github.com/stridesync/stridesync/internal/observability"
)

// Treadmill status values reported by the sensor.
const (
	StatusStandby     = "Standby"
	StatusWorking     = "Working"
	StatusPostWorkout = "Post-Workout"
)

// Distance bounds in miles. Deltas outside these are recorded as failed
// attempts and never synced; the upper bound guards against sensor glitches
// producing absurd readings.
const (
	MinDistanceMiles = 0.01
	MaxDistanceMiles = 100.0
)

// manualPaceMinPerMile is the average-pace heuristic used to estimate the
// duration of a manual sync, where no session timing exists.
const manualPaceMinPerMile = 20

// EventWorkoutSynced is fired on the host event bus after a successful sync.
const EventWorkoutSynced = "stridesync_workout_synced"

// Notification IDs are stable so a repeated failure replaces the previous
// notification instead of stacking a new one.
const (
	notifyTitle     = "StrideSync"
	notifySuccessID = "stridesync_sync_success"
	notifyErrorID   = "stridesync_sync_error"
)

// ValidationError marks a workout that failed local validation (distance out
// of bounds, unreadable sensor). It terminates the pipeline and produces a
// history entry; it is never escalated like a remote failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// StateReader reads the current value of a host entity.
type StateReader interface {
	State(ctx context.Context, entityID string) (value string, available bool, err error)
}

// Subscriber delivers state-change events for one entity. The returned stop
// function removes the subscription.
type Subscriber interface {
	SubscribeStateChanges(entityID string, fn func(oldValue, newValue string, changedAt time.Time)) (stop func(), err error)
}

// Notifier delivers a user-facing notification, deduplicated by ID.
type Notifier interface {
	Notify(ctx context.Context, title, message, notificationID string) error
}

// EventEmitter fires a domain event on the host bus.
type EventEmitter interface {
	FireEvent(ctx context.Context, event string, payload map[string]any) error
}

// Reauther starts the host-level re-authentication flow.
type Reauther interface {
	StartReauth(ctx context.Context)
}

// ActivityService is the remote sync boundary, satisfied by fitbit.Client.
type ActivityService interface {
	CreateActivity(ctx context.Context, a fitbit.Activity) (int64, error)
}

// WatermarkStore persists the last successful sync time across restarts.
type WatermarkStore interface {
	SaveLastSync(time.Time) error
	LoadLastSync() (time.Time, error)
}

// Config holds the per-instance tracking options.
type Config struct {
	StatusEntity   string
	DistanceEntity string
	ActivityType   fitbit.ActivityType
	StrideFeet     float64
	AutoSync       bool
	Notifications  bool
}

// Deps are the external collaborators the tracker drives.
type Deps struct {
	States     StateReader
	Subscriber Subscriber
	Activities ActivityService
	Converter  StepConverter // nil means ManualSteps
	Notifier   Notifier
	Events     EventEmitter
	Reauth     Reauther
	Watermark  WatermarkStore
	Log        *slog.Logger
}

// session is the ephemeral record of an in-progress workout. At most one
// exists at a time.
type session struct {
	startTime     time.Time
	startDistance float64
}

// Tracker is the session state machine: it watches treadmill status
// transitions, closes completed workouts into activity records, and drives
// the remote sync. One mutex guards the session, history, and watermark so a
// manual sync can run concurrently with the event-driven path.
type Tracker struct {
	cfg        Config
	states     StateReader
	subscriber Subscriber
	activities ActivityService
	converter  StepConverter
	notifier   Notifier
	events     EventEmitter
	reauth     Reauther
	watermark  WatermarkStore
	log        *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	session  *session
	history  history
	lastSync time.Time

	stop func()
}

// New creates a tracker. The previous sync watermark is restored from the
// watermark store when one is configured.
func New(cfg Config, d Deps) *Tracker {
	conv := d.Converter
	if conv == nil {
		conv = ManualSteps{}
	}
	t := &Tracker{
		cfg:        cfg,
		states:     d.States,
		subscriber: d.Subscriber,
		activities: d.Activities,
		converter:  conv,
		notifier:   d.Notifier,
		events:     d.Events,
		reauth:     d.Reauth,
		watermark:  d.Watermark,
		log:        d.Log,
		now:        time.Now,
		history:    history{max: MaxHistorySize},
	}
	if d.Watermark != nil {
		if ts, err := d.Watermark.LoadLastSync(); err == nil {
			t.lastSync = ts
		}
	}
	return t
}

// Setup subscribes to the status entity. Teardown releases the subscription.
func (t *Tracker) Setup() error {
	stop, err := t.subscriber.SubscribeStateChanges(t.cfg.StatusEntity, t.HandleStateChange)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", t.cfg.StatusEntity, err)
	}
	t.stop = stop
	t.log.Info("tracking treadmill status", "entity", t.cfg.StatusEntity)
	return nil
}

// Teardown removes the state-change subscription.
func (t *Tracker) Teardown() {
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}

// HandleStateChange processes one treadmill status transition. Transitions
// into Working open a session; transitions into Post-Workout close it and run
// the sync pipeline (from a zero start distance when no session is open).
// Everything else is a no-op.
func (t *Tracker) HandleStateChange(oldValue, newValue string, changedAt time.Time) {
	ctx := context.Background()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Debug("status changed", "old", oldValue, "new", newValue)

	switch newValue {
	case StatusWorking:
		if t.session == nil {
			t.openSession(ctx, changedAt)
		}
	case StatusPostWorkout:
		if !t.cfg.AutoSync {
			t.log.Info("workout completed but auto-sync is disabled; use manual sync")
			t.session = nil
			return
		}
		t.completeSession(ctx, changedAt)
	}
}

// openSession starts tracking a workout. A failed distance read opens the
// session at zero rather than losing the workout.
func (t *Tracker) openSession(ctx context.Context, startTime time.Time) {
	distance, err := t.readDistance(ctx)
	if err != nil {
		t.log.Warn("could not read start distance, tracking from 0", "error", err)
		distance = 0
	}
	t.session = &session{startTime: startTime, startDistance: distance}
	t.log.Info("workout session started", "start_distance_mi", distance)
}

// completeSession closes the session and runs the full sync pipeline. The
// session is consumed no matter how the pipeline ends; a workout is never
// retried on the same session. Caller holds t.mu.
func (t *Tracker) completeSession(ctx context.Context, endTime time.Time) {
	startTime := endTime
	startDistance := 0.0
	if t.session != nil {
		startTime = t.session.startTime
		startDistance = t.session.startDistance
	} else {
		// Restarted mid-workout: degraded but defined, sync whatever the
		// sensor reads now.
		t.log.Warn("no open session, syncing from zero start distance")
	}
	t.session = nil

	endDistance, err := t.readDistance(ctx)
	if err != nil {
		t.recordFailure(ctx, 0, 0, 0, "", "end distance unavailable: "+err.Error(), "validation")
		return
	}
	delta := endDistance - startDistance

	duration := int(math.Round(endTime.Sub(startTime).Minutes()))
	if duration < 1 {
		duration = 1
	}

	if delta < MinDistanceMiles {
		t.recordFailure(ctx, delta, 0, duration, "", fmt.Sprintf("distance too small: %.3f mi", delta), "validation")
		return
	}
	if delta > MaxDistanceMiles {
		t.recordFailure(ctx, delta, 0, duration, "", fmt.Sprintf("distance too large: %.2f mi", delta), "validation")
		return
	}

	t.log.Info("workout completed", "distance_mi", delta, "duration_min", duration)

	if _, err := t.syncWorkout(ctx, delta, startTime, duration); err != nil {
		// Terminal handler for the event-driven path: the failure is
		// already recorded and notified, nothing further to raise.
		t.log.Error("workout sync failed", "error", err)
	}
}

// ManualSync logs a workout outside the state machine. When override is nil
// the current sensor reading is used. Duration is estimated from distance at
// a 20 min/mile average pace. Unlike the event path, errors are returned to
// the caller after being recorded.
func (t *Tracker) ManualSync(ctx context.Context, override *float64) (*SyncRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var distance float64
	if override != nil {
		distance = *override
		t.log.Info("manual sync with override distance", "distance_mi", distance)
	} else {
		d, err := t.readDistance(ctx)
		if err != nil {
			t.recordFailure(ctx, 0, 0, 0, "", "manual sync: "+err.Error(), "validation")
			return nil, err
		}
		distance = d
		t.log.Info("manual sync with sensor distance", "distance_mi", distance)
	}

	duration := int(math.Round(distance * manualPaceMinPerMile))
	if duration < 1 {
		duration = 1
	}

	return t.syncWorkout(ctx, distance, t.now(), duration)
}

// syncWorkout runs conversion, the remote call, and bookkeeping. Exactly one
// history entry and one notification come out of it. Caller holds t.mu.
func (t *Tracker) syncWorkout(ctx context.Context, distance float64, startTime time.Time, durationMinutes int) (*SyncRecord, error) {
	steps, method := t.converter.DistanceToSteps(distance, t.cfg.StrideFeet)

	logID, err := t.activities.CreateActivity(ctx, fitbit.Activity{
		Type:            t.cfg.ActivityType,
		DistanceMiles:   distance,
		StartTime:       startTime,
		DurationMinutes: durationMinutes,
		Steps:           steps,
	})
	if err != nil {
		result, message := classify(err)
		t.recordFailure(ctx, distance, steps, durationMinutes, method, message, result)
		if result == "auth" && t.reauth != nil {
			t.reauth.StartReauth(ctx)
		}
		return nil, err
	}

	rec := SyncRecord{
		ID:               uuid.NewString(),
		Timestamp:        t.now(),
		DistanceMiles:    distance,
		Steps:            steps,
		DurationMinutes:  durationMinutes,
		ConversionMethod: method,
		ActivityType:     string(t.cfg.ActivityType),
		Success:          true,
		LogID:            logID,
	}
	t.history.append(rec)
	t.lastSync = rec.Timestamp
	if t.watermark != nil {
		if err := t.watermark.SaveLastSync(rec.Timestamp); err != nil {
			t.log.Warn("failed to persist sync watermark", "error", err)
		}
	}

	observability.RecordSyncAttempt("success")
	observability.RecordSyncSuccess(rec.Timestamp)

	t.notify(ctx,
		fmt.Sprintf("Workout synced to Fitbit\n\nDistance: %.2f miles\nSteps: %d", distance, steps),
		notifySuccessID,
	)
	t.fireEvent(ctx, rec)

	return &rec, nil
}

// recordFailure appends a failed attempt to history and notifies the user.
// steps and method are zero values when the pipeline failed before
// conversion. Caller holds t.mu.
func (t *Tracker) recordFailure(ctx context.Context, distance float64, steps, durationMinutes int, method ConversionMethod, message, result string) {
	rec := SyncRecord{
		ID:               uuid.NewString(),
		Timestamp:        t.now(),
		DistanceMiles:    distance,
		Steps:            steps,
		DurationMinutes:  durationMinutes,
		ConversionMethod: method,
		ActivityType:     string(t.cfg.ActivityType),
		Error:            message,
	}
	t.history.append(rec)

	observability.RecordSyncAttempt(result)
	t.notify(ctx, "Failed to sync workout:\n"+message, notifyErrorID)
}

// classify maps a remote sync error onto a metrics label and user-facing
// message. Local validation failures never reach it; they record themselves.
func classify(err error) (result, message string) {
	var authErr *fitbit.AuthError
	var reqErr *fitbit.RequestError
	switch {
	case errors.As(err, &authErr):
		return "auth", "authentication failed - reconnect your Fitbit account"
	case errors.Is(err, fitbit.ErrQuotaExceeded):
		return "quota", "Fitbit rate limit exceeded - workout was not synced"
	case errors.As(err, &reqErr):
		return "invalid", "Fitbit rejected the activity: " + reqErr.Message
	default:
		return "transport", "sync failed: " + err.Error()
	}
}

func (t *Tracker) readDistance(ctx context.Context) (float64, error) {
	value, available, err := t.states.State(ctx, t.cfg.DistanceEntity)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", t.cfg.DistanceEntity, err)
	}
	if !available {
		return 0, &ValidationError{Reason: "distance sensor unavailable"}
	}
	d, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, &ValidationError{Reason: fmt.Sprintf("invalid distance value %q", value)}
	}
	return d, nil
}

func (t *Tracker) notify(ctx context.Context, message, notificationID string) {
	if !t.cfg.Notifications || t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, notifyTitle, message, notificationID); err != nil {
		t.log.Warn("failed to send notification", "error", err)
	}
}

func (t *Tracker) fireEvent(ctx context.Context, rec SyncRecord) {
	if t.events == nil {
		return
	}
	err := t.events.FireEvent(ctx, EventWorkoutSynced, map[string]any{
		"steps":             rec.Steps,
		"distance":          rec.DistanceMiles,
		"duration_minutes":  rec.DurationMinutes,
		"conversion_method": string(rec.ConversionMethod),
	})
	if err != nil {
		t.log.Warn("failed to fire workout event", "error", err)
	}
}

// History returns a copy of the bounded sync log, oldest first.
func (t *Tracker) History() []SyncRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.snapshot()
}

// LastSyncTime returns when the last successful sync completed, zero if none.
func (t *Tracker) LastSyncTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSync
}

// SessionActive reports whether a workout session is currently open.
func (t *Tracker) SessionActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}
