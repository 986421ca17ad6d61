// Package orchestrator owns the robot lifecycle state machine and drives the
// actuator through strict step sequences.
//
// All state-mutating work funnels through Dispatch, guarded by a single
// mutual-exclusion gate: commands arriving while a sequence is in flight are
// rejected with Busy, never queued, so at most one shot sequence exists
// system-wide and actuator calls are never interleaved.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robopong/slingbot/internal/adapters/actuator"
	"github.com/robopong/slingbot/internal/domain/calibration"
	"github.com/robopong/slingbot/internal/domain/model"
	"github.com/robopong/slingbot/pkg/logger"
	"github.com/robopong/slingbot/pkg/metrics"
)

// Default orchestration tuning.
const (
	defaultMaxSnapshotAge = 2 * time.Second
	defaultRetryBackoff   = 500 * time.Millisecond
	reloadRetryBudget     = 1
)

// State is the robot lifecycle state. A single process-wide instance exists,
// mutated only under the orchestrator's gate.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateIdle          State = "idle"
	StateBusy          State = "busy"
	StateTerminated    State = "terminated"
)

// Outcome summarizes one dispatched command for the operator surface.
type Outcome string

const (
	OutcomeAck           Outcome = "ack"
	OutcomeBusy          Outcome = "busy"
	OutcomeStateConflict Outcome = "state_conflict"
	OutcomeInitialized   Outcome = "initialized"
	OutcomeInitFailed    Outcome = "init_failed"
	OutcomeNoTarget      Outcome = "no_target"
	OutcomeShotComplete  Outcome = "shot_complete"
	OutcomeShotAborted   Outcome = "shot_aborted"
	OutcomeReloaded      Outcome = "reloaded"
	OutcomeTerminated    Outcome = "terminated"
)

// Result reports the outcome of one command.
type Result struct {
	Outcome Outcome
	State   State
	Target  model.TargetID // resolved target, for shot outcomes
	Step    string         // failed step name, for aborted shots
	Err     error
	Warn    error // secondary condition, e.g. reload failure on a good shot
}

// ArmSession is the capability the orchestrator holds on the actuator
// session; the session manager implements it and keeps the credential.
type ArmSession interface {
	Login(ctx context.Context) error
	Invoke(ctx context.Context, a actuator.Action) error
	Logoff(ctx context.Context) error
}

// TargetResolver reduces the current detection snapshot to one target.
type TargetResolver interface {
	ResolveBest(maxAge time.Duration) (model.Target, error)
}

// Calibration derives shot parameters for a target and shot kind.
type Calibration interface {
	Params(id model.TargetID, kind model.ShotKind) (calibration.ShotParams, error)
}

// retryPolicy is the per-error-kind recovery rule consulted for every failed
// actuator call: timeouts get a bounded retry, faults abort immediately.
type retryPolicy struct {
	retries int
	backoff time.Duration
}

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithMaxSnapshotAge sets the staleness bound on detection snapshots.
func WithMaxSnapshotAge(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.maxSnapshotAge = d
		}
	}
}

// WithRetryBackoff sets the pause before retrying a timed-out actuator call.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.timeoutPolicy.backoff = d
		}
	}
}

// WithLogger sets a custom logger for the orchestrator.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.logger = log
		}
	}
}

// Orchestrator is the shot-execution state machine.
type Orchestrator struct {
	session  ArmSession
	resolver TargetResolver
	table    Calibration

	maxSnapshotAge time.Duration
	timeoutPolicy  retryPolicy
	logger         logger.Logger

	// gate serializes every state-mutating command; TryLock failure is the
	// Busy rejection path.
	gate sync.Mutex

	mu            sync.RWMutex
	state         State
	pendingReload bool

	fatalCh chan error
}

// New creates an orchestrator in the Uninitialized state.
func New(session ArmSession, resolver TargetResolver, table Calibration, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session:        session,
		resolver:       resolver,
		table:          table,
		maxSnapshotAge: defaultMaxSnapshotAge,
		timeoutPolicy:  retryPolicy{retries: 1, backoff: defaultRetryBackoff},
		state:          StateUninitialized,
		fatalCh:        make(chan error, 1),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logger.Get().Named("orchestrator")
	}

	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// PendingReload reports whether a manual reload is outstanding.
func (o *Orchestrator) PendingReload() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pendingReload
}

// Fatal delivers at most one unrecoverable error (failed safe recovery);
// the control loop should stop when it fires.
func (o *Orchestrator) Fatal() <-chan error {
	return o.fatalCh
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	metrics.UpdateLifecycleState(string(s))
}

// Dispatch runs one command through the state machine and returns its
// outcome. Commands never queue: if a sequence is in flight the result is
// Busy and nothing else happens.
func (o *Orchestrator) Dispatch(ctx context.Context, ev model.CommandEvent) Result {
	// goodgame is acknowledgment only: no gate, no transition, valid in any
	// state including Busy.
	if ev.Verb == model.VerbGoodGame {
		metrics.RecordCommand(string(ev.Verb), string(OutcomeAck))
		return Result{Outcome: OutcomeAck, State: o.State()}
	}

	if !o.gate.TryLock() {
		metrics.RecordCommand(string(ev.Verb), string(OutcomeBusy))
		return Result{Outcome: OutcomeBusy, State: StateBusy}
	}
	defer o.gate.Unlock()

	res := o.dispatchLocked(ctx, ev)
	metrics.RecordCommand(string(ev.Verb), string(res.Outcome))
	return res
}

func (o *Orchestrator) dispatchLocked(ctx context.Context, ev model.CommandEvent) Result {
	state := o.State()

	o.logger.Info(ctx, "command accepted",
		logger.String("commandID", ev.ID),
		logger.String("verb", string(ev.Verb)),
		logger.String("state", string(state)),
	)

	switch ev.Verb {
	case model.VerbGo:
		if state != StateUninitialized {
			return o.conflict(state, "already initialized")
		}
		return o.runInit(ctx)

	case model.VerbShoot, model.VerbKillshot, model.VerbTrickshot:
		if state != StateIdle {
			return o.conflict(state, "robot not ready, say go first")
		}
		if o.PendingReload() {
			return Result{Outcome: OutcomeStateConflict, State: state, Err: ErrReloadPending}
		}
		kind, _ := ev.Verb.ShotKind()
		return o.runShot(ctx, kind)

	case model.VerbTerminate:
		if state == StateTerminated {
			// Idempotent: no second shutdown sequence, no second logoff.
			return Result{Outcome: OutcomeTerminated, State: StateTerminated}
		}
		return o.runShutdown(ctx, state)

	default:
		return o.conflict(state, fmt.Sprintf("unhandled verb %q", ev.Verb))
	}
}

func (o *Orchestrator) conflict(state State, reason string) Result {
	return Result{
		Outcome: OutcomeStateConflict,
		State:   state,
		Err:     fmt.Errorf("%w: %s", ErrStateConflict, reason),
	}
}

// runInit acquires the session and runs the init sequence. Failure leaves
// the state Uninitialized so go can be retried.
func (o *Orchestrator) runInit(ctx context.Context) Result {
	o.setState(StateBusy)

	if err := o.session.Login(ctx); err != nil {
		o.setState(StateUninitialized)
		return Result{
			Outcome: OutcomeInitFailed,
			State:   StateUninitialized,
			Err:     fmt.Errorf("%w: %w", ErrInitFailed, err),
		}
	}

	for _, st := range initSteps() {
		if err := o.invoke(ctx, st); err != nil {
			o.setState(StateUninitialized)
			return Result{
				Outcome: OutcomeInitFailed,
				State:   StateUninitialized,
				Step:    st.Name,
				Err:     fmt.Errorf("%w: step %s: %w", ErrInitFailed, st.Name, err),
			}
		}
	}

	o.setState(StateIdle)
	o.logger.Info(ctx, "robot initialized")
	return Result{Outcome: OutcomeInitialized, State: StateIdle}
}

// runShot executes one full shot sequence: resolve the target once, derive
// parameters, fire the ordered steps, then reload.
func (o *Orchestrator) runShot(ctx context.Context, kind model.ShotKind) Result {
	o.setState(StateBusy)

	// Never fire blind: no target means no actuator call at all.
	target, err := o.resolver.ResolveBest(o.maxSnapshotAge)
	if err != nil {
		o.setState(StateIdle)
		metrics.RecordShot(string(kind), string(OutcomeNoTarget))
		return Result{Outcome: OutcomeNoTarget, State: StateIdle, Err: err}
	}

	params, err := o.table.Params(target.ID, kind)
	if err != nil {
		// Calibration miss is a configuration defect, fatal to this shot only.
		o.setState(StateIdle)
		metrics.RecordShot(string(kind), string(OutcomeShotAborted))
		return Result{Outcome: OutcomeShotAborted, State: StateIdle, Target: target.ID, Err: err}
	}

	o.logger.Info(ctx, "shot sequence starting",
		logger.String("kind", string(kind)),
		logger.Int("target", int(target.ID)),
		logger.Float64("pull", params.Pull),
		logger.Float64("rotation", params.Rotation),
	)

	for _, st := range shotSteps(params) {
		if err := o.invoke(ctx, st); err != nil {
			return o.abortShot(ctx, kind, target.ID, st.Name, err)
		}
	}

	// Reload is part of the same atomic sequence; its failure does not undo
	// a shot that already left the sling.
	warn := o.runReload(ctx)

	o.setState(StateIdle)
	metrics.RecordShot(string(kind), string(OutcomeShotComplete))
	return Result{Outcome: OutcomeShotComplete, State: StateIdle, Target: target.ID, Warn: warn}
}

// abortShot stops the remaining steps, attempts safe recovery and reports
// where the sequence died.
func (o *Orchestrator) abortShot(ctx context.Context, kind model.ShotKind, target model.TargetID, stepName string, cause error) Result {
	o.logger.Warn(ctx, "shot aborted",
		logger.String("step", stepName),
		logger.Error(cause),
	)
	metrics.RecordShot(string(kind), string(OutcomeShotAborted))

	if err := o.recover(ctx); err != nil {
		// The recovery path itself is exhausted: undefined arm position,
		// end the control loop.
		o.setState(StateTerminated)
		fatal := fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
		select {
		case o.fatalCh <- fatal:
		default:
		}
		return Result{
			Outcome: OutcomeShotAborted,
			State:   StateTerminated,
			Target:  target,
			Step:    stepName,
			Err:     errors.Join(cause, fatal),
		}
	}

	o.setState(StateIdle)
	return Result{
		Outcome: OutcomeShotAborted,
		State:   StateIdle,
		Target:  target,
		Step:    stepName,
		Err:     cause,
	}
}

// recover runs the best-effort safe return: open gripper, go home.
func (o *Orchestrator) recover(ctx context.Context) error {
	for _, st := range recoverySteps() {
		if err := o.invoke(ctx, st); err != nil {
			return fmt.Errorf("step %s: %w", st.Name, err)
		}
	}
	return nil
}

// runReload executes the mandatory post-shot reload with a bounded retry
// budget. On exhaustion the pending-reload flag is set and a ReloadFailed
// warning returned; the shot itself still counts as a success.
func (o *Orchestrator) runReload(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= reloadRetryBudget; attempt++ {
		lastErr = o.runSteps(ctx, reloadSteps())
		if lastErr == nil {
			o.mu.Lock()
			o.pendingReload = false
			o.mu.Unlock()
			return nil
		}
		metrics.RecordReloadRetry()
		o.logger.Warn(ctx, "reload attempt failed",
			logger.Int("attempt", attempt+1),
			logger.Error(lastErr),
		)
	}

	o.mu.Lock()
	o.pendingReload = true
	o.mu.Unlock()
	return fmt.Errorf("%w: %w", ErrReloadFailed, lastErr)
}

// Reload is the manual follow-up for a failed post-shot reload. It is gated
// like any other command and valid only while Idle.
func (o *Orchestrator) Reload(ctx context.Context) Result {
	if !o.gate.TryLock() {
		return Result{Outcome: OutcomeBusy, State: StateBusy}
	}
	defer o.gate.Unlock()

	state := o.State()
	if state != StateIdle {
		return o.conflict(state, "reload requires an idle, initialized robot")
	}

	o.setState(StateBusy)
	if err := o.runSteps(ctx, reloadSteps()); err != nil {
		o.mu.Lock()
		o.pendingReload = true
		o.mu.Unlock()
		o.setState(StateIdle)
		return Result{Outcome: OutcomeShotAborted, State: StateIdle, Err: fmt.Errorf("%w: %w", ErrReloadFailed, err)}
	}

	o.mu.Lock()
	o.pendingReload = false
	o.mu.Unlock()
	o.setState(StateIdle)
	return Result{Outcome: OutcomeReloaded, State: StateIdle}
}

// Exclusive runs fn under the command gate. Maintenance work that must not
// overlap a sequence goes through here; a sequence in flight rejects it with
// a state conflict instead of waiting.
func (o *Orchestrator) Exclusive(fn func() error) error {
	if !o.gate.TryLock() {
		return fmt.Errorf("%w: robot is busy", ErrStateConflict)
	}
	defer o.gate.Unlock()
	return fn()
}

// runShutdown returns the arm home, releases the session and ends the
// lifecycle. Home is best effort; logoff happens regardless.
func (o *Orchestrator) runShutdown(ctx context.Context, from State) Result {
	o.setState(StateBusy)

	if from == StateIdle {
		if err := o.invoke(ctx, step(actuator.Home())); err != nil {
			o.logger.Warn(ctx, "home before shutdown failed", logger.Error(err))
		}
	}

	if err := o.session.Logoff(ctx); err != nil {
		o.logger.Warn(ctx, "logoff failed", logger.Error(err))
	}

	o.setState(StateTerminated)
	o.logger.Info(ctx, "robot terminated")
	return Result{Outcome: OutcomeTerminated, State: StateTerminated}
}

func (o *Orchestrator) runSteps(ctx context.Context, steps []Step) error {
	for _, st := range steps {
		if err := o.invoke(ctx, st); err != nil {
			return fmt.Errorf("step %s: %w", st.Name, err)
		}
	}
	return nil
}

// invoke issues one actuator call, consulting the retry policy on failure:
// a timeout is retried once after a backoff, a fault aborts immediately.
func (o *Orchestrator) invoke(ctx context.Context, st Step) error {
	err := o.session.Invoke(ctx, st.Action)
	if err == nil {
		return nil
	}

	if errors.Is(err, actuator.ErrTimeout) {
		for attempt := 0; attempt < o.timeoutPolicy.retries; attempt++ {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(o.timeoutPolicy.backoff):
			}

			o.logger.Warn(ctx, "retrying timed-out actuator call",
				logger.String("step", st.Name),
				logger.Int("attempt", attempt+1),
			)
			if err = o.session.Invoke(ctx, st.Action); err == nil {
				return nil
			}
			if !errors.Is(err, actuator.ErrTimeout) {
				break
			}
		}
	}

	return err
}
