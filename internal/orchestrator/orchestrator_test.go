package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/robopong/slingbot/internal/adapters/actuator"
	"github.com/robopong/slingbot/internal/domain/calibration"
	"github.com/robopong/slingbot/internal/domain/model"
	"github.com/robopong/slingbot/internal/orchestrator"
	"github.com/robopong/slingbot/pkg/logger"
)

// fakeSession records every actuator call and can fail named actions from a
// scripted error queue.
type fakeSession struct {
	mu       sync.Mutex
	logins   int
	logoffs  int
	loginErr error
	calls    []actuator.Action
	failures map[actuator.ActionName][]error

	// blockOn parks matching invokes until release is closed; blocked is
	// signalled once the invoke has parked.
	blockOn actuator.ActionName
	blocked chan struct{}
	release chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{failures: make(map[actuator.ActionName][]error)}
}

func (f *fakeSession) Login(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func (f *fakeSession) Logoff(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoffs++
	return nil
}

func (f *fakeSession) Invoke(ctx context.Context, a actuator.Action) error {
	if f.blockOn == a.Name && f.release != nil {
		f.blocked <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a)
	if q := f.failures[a.Name]; len(q) > 0 {
		err := q[0]
		f.failures[a.Name] = q[1:]
		return err
	}
	return nil
}

func (f *fakeSession) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, a := range f.calls {
		out[i] = string(a.Name)
	}
	return out
}

func (f *fakeSession) call(i int) actuator.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeResolver struct {
	target model.Target
	err    error
}

func (f *fakeResolver) ResolveBest(maxAge time.Duration) (model.Target, error) {
	return f.target, f.err
}

func ev(v model.Verb) model.CommandEvent {
	return model.CommandEvent{ID: "cmd-test", Verb: v, TS: time.Now()}
}

var initNames = []string{"home", "pickup", "grip", "home", "load", "release", "home"}

var reloadNames = []string{"home", "release", "pickup", "grip", "home", "load", "release", "home"}

func newOrch(arm *fakeSession, res *fakeResolver, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	opts = append([]orchestrator.Option{orchestrator.WithRetryBackoff(time.Millisecond)}, opts...)
	return orchestrator.New(arm, res, calibration.Default(), opts...)
}

func TestOrchestrator_Init(t *testing.T) {
	Convey("Given an uninitialized orchestrator", t, func() {
		_ = logger.Init()
		arm := newFakeSession()
		res := &fakeResolver{target: model.Target{ID: 3, Confidence: 0.9}}
		orch := newOrch(arm, res)
		ctx := context.Background()

		So(orch.State(), ShouldEqual, orchestrator.StateUninitialized)

		Convey("When go is dispatched", func() {
			result := orch.Dispatch(ctx, ev(model.VerbGo))

			Convey("Then the robot logs in once and runs the init sequence", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeInitialized)
				So(orch.State(), ShouldEqual, orchestrator.StateIdle)
				So(arm.logins, ShouldEqual, 1)
				So(arm.names(), ShouldResemble, initNames)
			})

			Convey("And a second go is a state conflict", func() {
				again := orch.Dispatch(ctx, ev(model.VerbGo))
				So(again.Outcome, ShouldEqual, orchestrator.OutcomeStateConflict)
				So(errors.Is(again.Err, orchestrator.ErrStateConflict), ShouldBeTrue)
				So(arm.logins, ShouldEqual, 1)
			})
		})

		Convey("When login fails", func() {
			arm.loginErr = actuator.ErrAuth
			result := orch.Dispatch(ctx, ev(model.VerbGo))

			Convey("Then the lifecycle stays uninitialized so go can be retried", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeInitFailed)
				So(errors.Is(result.Err, orchestrator.ErrInitFailed), ShouldBeTrue)
				So(orch.State(), ShouldEqual, orchestrator.StateUninitialized)
				So(arm.count(), ShouldEqual, 0)
			})
		})

		Convey("When an init step faults", func() {
			arm.failures[actuator.ActionLoad] = []error{actuator.ErrFault}
			result := orch.Dispatch(ctx, ev(model.VerbGo))

			Convey("Then init fails naming the step", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeInitFailed)
				So(result.Step, ShouldEqual, "load")
				So(orch.State(), ShouldEqual, orchestrator.StateUninitialized)
			})
		})

		Convey("When shoot arrives before go", func() {
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then it is rejected without touching the arm", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeStateConflict)
				So(errors.Is(result.Err, orchestrator.ErrStateConflict), ShouldBeTrue)
				So(arm.count(), ShouldEqual, 0)
			})
		})
	})
}

func TestOrchestrator_Shot(t *testing.T) {
	Convey("Given an initialized orchestrator aiming at cup 3", t, func() {
		_ = logger.Init()
		arm := newFakeSession()
		res := &fakeResolver{target: model.Target{ID: 3, Confidence: 0.9}}
		orch := newOrch(arm, res)
		ctx := context.Background()

		So(orch.Dispatch(ctx, ev(model.VerbGo)).Outcome, ShouldEqual, orchestrator.OutcomeInitialized)
		initCalls := arm.count()

		Convey("When shoot is dispatched", func() {
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then the full shot and reload sequence runs in order", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotComplete)
				So(result.Target, ShouldEqual, model.TargetID(3))
				So(result.Warn, ShouldBeNil)
				So(orch.State(), ShouldEqual, orchestrator.StateIdle)

				shot := arm.names()[initCalls:]
				expected := append([]string{"grab", "grip", "translate", "rotate", "release"}, reloadNames...)
				So(shot, ShouldResemble, expected)
			})

			Convey("And the calibrated parameters flow into the steps", func() {
				So(arm.call(initCalls+1).Value, ShouldEqual, float64(actuator.GripClosed))
				So(arm.call(initCalls+2).Value, ShouldEqual, 9.9) // cup 3 pull
				So(arm.call(initCalls+3).Value, ShouldEqual, 0.5) // cup 3 rotation
				So(arm.call(initCalls+4).Value, ShouldEqual, float64(actuator.GripOpen))
			})
		})

		Convey("When killshot is dispatched", func() {
			result := orch.Dispatch(ctx, ev(model.VerbKillshot))

			Convey("Then the pull is maximal and the aim is dead center", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotComplete)
				So(arm.call(initCalls+2).Name, ShouldEqual, actuator.ActionTranslate)
				So(arm.call(initCalls+2).Value, ShouldEqual, calibration.DefaultKillPull)
				So(arm.call(initCalls+3).Value, ShouldEqual, 0.0)
			})
		})

		Convey("When trickshot is dispatched", func() {
			result := orch.Dispatch(ctx, ev(model.VerbTrickshot))

			Convey("Then a bounce waypoint precedes the final aim", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotComplete)
				shot := arm.names()[initCalls:]
				So(shot[:6], ShouldResemble, []string{"grab", "grip", "translate", "rotate", "rotate", "release"})
				So(arm.call(initCalls+3).Value, ShouldEqual, calibration.DefaultTrickWaypoint)
				So(arm.call(initCalls+4).Value, ShouldEqual, 0.5)
			})
		})

		Convey("When no target can be resolved", func() {
			res.err = errors.New("no detection above confidence floor")
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then the robot never fires blind", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeNoTarget)
				So(orch.State(), ShouldEqual, orchestrator.StateIdle)
				So(arm.count(), ShouldEqual, initCalls)
			})
		})

		Convey("When an actuator call times out once", func() {
			arm.failures[actuator.ActionTranslate] = []error{actuator.ErrTimeout}
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then the call is retried and the shot completes", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotComplete)
				shot := arm.names()[initCalls:]
				So(shot[:4], ShouldResemble, []string{"grab", "grip", "translate", "translate"})
			})
		})

		Convey("When an actuator call times out twice", func() {
			arm.failures[actuator.ActionTranslate] = []error{actuator.ErrTimeout, actuator.ErrTimeout}
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then the retry budget is exhausted and the shot aborts", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotAborted)
				So(result.Step, ShouldEqual, "translate")
				So(errors.Is(result.Err, actuator.ErrTimeout), ShouldBeTrue)
			})
		})
	})
}

func TestOrchestrator_FaultRecovery(t *testing.T) {
	Convey("Given an initialized orchestrator", t, func() {
		_ = logger.Init()
		arm := newFakeSession()
		res := &fakeResolver{target: model.Target{ID: 1, Confidence: 0.8}}
		orch := newOrch(arm, res)
		ctx := context.Background()

		So(orch.Dispatch(ctx, ev(model.VerbGo)).Outcome, ShouldEqual, orchestrator.OutcomeInitialized)
		initCalls := arm.count()

		Convey("When the aim step faults mid-shot", func() {
			arm.failures[actuator.ActionRotate] = []error{actuator.ErrFault}
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then the sequence stops, recovery runs and the robot is usable again", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotAborted)
				So(result.Step, ShouldEqual, "rotate")
				So(errors.Is(result.Err, actuator.ErrFault), ShouldBeTrue)
				So(orch.State(), ShouldEqual, orchestrator.StateIdle)

				// grab, grip, translate, failed rotate, then recovery only.
				shot := arm.names()[initCalls:]
				So(shot, ShouldResemble, []string{"grab", "grip", "translate", "rotate", "release", "home"})
			})
		})

		Convey("When recovery itself fails", func() {
			arm.failures[actuator.ActionRotate] = []error{actuator.ErrFault}
			arm.failures[actuator.ActionRelease] = []error{actuator.ErrFault}
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then the lifecycle ends and the fatal channel fires", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotAborted)
				So(errors.Is(result.Err, orchestrator.ErrRecoveryFailed), ShouldBeTrue)
				So(orch.State(), ShouldEqual, orchestrator.StateTerminated)

				select {
				case err := <-orch.Fatal():
					So(errors.Is(err, orchestrator.ErrRecoveryFailed), ShouldBeTrue)
				case <-time.After(time.Second):
					t.Fatal("fatal channel never fired")
				}
			})
		})
	})
}

func TestOrchestrator_Reload(t *testing.T) {
	Convey("Given an initialized orchestrator", t, func() {
		_ = logger.Init()
		arm := newFakeSession()
		res := &fakeResolver{target: model.Target{ID: 2, Confidence: 0.7}}
		orch := newOrch(arm, res)
		ctx := context.Background()

		So(orch.Dispatch(ctx, ev(model.VerbGo)).Outcome, ShouldEqual, orchestrator.OutcomeInitialized)

		Convey("When the post-shot reload fails past its retry budget", func() {
			arm.failures[actuator.ActionLoad] = []error{actuator.ErrFault, actuator.ErrFault}
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then the shot still counts but a reload warning is raised", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeShotComplete)
				So(errors.Is(result.Warn, orchestrator.ErrReloadFailed), ShouldBeTrue)
				So(orch.PendingReload(), ShouldBeTrue)
			})

			Convey("And shooting is blocked until the reload is resolved", func() {
				next := orch.Dispatch(ctx, ev(model.VerbShoot))
				So(next.Outcome, ShouldEqual, orchestrator.OutcomeStateConflict)
				So(errors.Is(next.Err, orchestrator.ErrReloadPending), ShouldBeTrue)
			})

			Convey("And a manual reload clears the flag", func() {
				reload := orch.Reload(ctx)
				So(reload.Outcome, ShouldEqual, orchestrator.OutcomeReloaded)
				So(orch.PendingReload(), ShouldBeFalse)

				next := orch.Dispatch(ctx, ev(model.VerbShoot))
				So(next.Outcome, ShouldEqual, orchestrator.OutcomeShotComplete)
			})
		})

		Convey("When a manual reload is requested before go", func() {
			fresh := newOrch(newFakeSession(), res)
			result := fresh.Reload(ctx)

			So(result.Outcome, ShouldEqual, orchestrator.OutcomeStateConflict)
		})
	})
}

func TestOrchestrator_BusyRejection(t *testing.T) {
	Convey("Given a shot sequence in flight", t, func() {
		_ = logger.Init()
		arm := newFakeSession()
		res := &fakeResolver{target: model.Target{ID: 4, Confidence: 0.9}}
		orch := newOrch(arm, res)
		ctx := context.Background()

		So(orch.Dispatch(ctx, ev(model.VerbGo)).Outcome, ShouldEqual, orchestrator.OutcomeInitialized)

		arm.blockOn = actuator.ActionGrab
		arm.blocked = make(chan struct{}, 1)
		arm.release = make(chan struct{})

		done := make(chan orchestrator.Result, 1)
		go func() {
			done <- orch.Dispatch(ctx, ev(model.VerbShoot))
		}()
		<-arm.blocked

		Convey("When another command arrives", func() {
			result := orch.Dispatch(ctx, ev(model.VerbShoot))

			Convey("Then it is rejected busy, never queued", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeBusy)
				So(result.State, ShouldEqual, orchestrator.StateBusy)
			})
		})

		Convey("When terminate arrives mid-sequence", func() {
			result := orch.Dispatch(ctx, ev(model.VerbTerminate))

			Convey("Then it is rejected busy with no logoff", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeBusy)
				So(result.State, ShouldEqual, orchestrator.StateBusy)
				So(arm.logoffs, ShouldEqual, 0)
			})
		})

		Convey("When maintenance work is requested mid-sequence", func() {
			ran := false
			err := orch.Exclusive(func() error {
				ran = true
				return nil
			})

			Convey("Then it is rejected without running", func() {
				So(errors.Is(err, orchestrator.ErrStateConflict), ShouldBeTrue)
				So(ran, ShouldBeFalse)
			})
		})

		Convey("When goodgame arrives mid-sequence", func() {
			result := orch.Dispatch(ctx, ev(model.VerbGoodGame))

			Convey("Then it is acknowledged without touching the gate", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeAck)
			})
		})

		Reset(func() {
			close(arm.release)
			<-done
		})
	})
}

func TestOrchestrator_Terminate(t *testing.T) {
	Convey("Given an initialized orchestrator", t, func() {
		_ = logger.Init()
		arm := newFakeSession()
		res := &fakeResolver{target: model.Target{ID: 1, Confidence: 0.9}}
		orch := newOrch(arm, res)
		ctx := context.Background()

		So(orch.Dispatch(ctx, ev(model.VerbGo)).Outcome, ShouldEqual, orchestrator.OutcomeInitialized)
		initCalls := arm.count()

		Convey("When terminate is dispatched", func() {
			result := orch.Dispatch(ctx, ev(model.VerbTerminate))

			Convey("Then the arm parks, logs off once and the lifecycle ends", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeTerminated)
				So(orch.State(), ShouldEqual, orchestrator.StateTerminated)
				So(arm.names()[initCalls:], ShouldResemble, []string{"home"})
				So(arm.logoffs, ShouldEqual, 1)
			})

			Convey("And a second terminate is an idempotent no-op", func() {
				again := orch.Dispatch(ctx, ev(model.VerbTerminate))
				So(again.Outcome, ShouldEqual, orchestrator.OutcomeTerminated)
				So(arm.logoffs, ShouldEqual, 1)
				So(arm.names()[initCalls:], ShouldResemble, []string{"home"})
			})

			Convey("And commands after terminate are conflicts", func() {
				So(orch.Dispatch(ctx, ev(model.VerbShoot)).Outcome, ShouldEqual, orchestrator.OutcomeStateConflict)
				So(orch.Dispatch(ctx, ev(model.VerbGo)).Outcome, ShouldEqual, orchestrator.OutcomeStateConflict)
			})

			Convey("But goodgame is still acknowledged", func() {
				So(orch.Dispatch(ctx, ev(model.VerbGoodGame)).Outcome, ShouldEqual, orchestrator.OutcomeAck)
			})
		})

		Convey("When terminate arrives before go", func() {
			fresh := newFakeSession()
			cold := newOrch(fresh, res)
			result := cold.Dispatch(ctx, ev(model.VerbTerminate))

			Convey("Then it shuts down without a parking move", func() {
				So(result.Outcome, ShouldEqual, orchestrator.OutcomeTerminated)
				So(fresh.count(), ShouldEqual, 0)
				So(fresh.logoffs, ShouldEqual, 1)
			})
		})
	})
}
