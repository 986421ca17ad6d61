package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/robopong/slingbot/internal/app"
	"github.com/robopong/slingbot/internal/domain/model"
	"github.com/robopong/slingbot/internal/orchestrator"
	"github.com/robopong/slingbot/pkg/logger"
)

// rig is a combined fake arm and vision server, enough of the collaborator
// surface to run the service end to end.
type rig struct {
	mu    sync.Mutex
	token string
}

func newRig(moveWait time.Duration) *httptest.Server {
	r := &rig{}
	mux := http.NewServeMux()

	mux.HandleFunc("/operator", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch req.Method {
		case http.MethodPost:
			r.token = "rig-token"
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]string{"token": r.token})
		}
	})
	mux.HandleFunc("/operator/", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.token = ""
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/tcp", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"coordinate":{"x":0,"y":-410,"z":295},"rotation":{"roll":-180,"pitch":0,"yaw":-90}}`))
	})
	mux.HandleFunc("/tcp/target", func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(moveWait)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/gripper", func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(moveWait)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/detections", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"detections":[
			{"class_id":2,"confidence":0.91,"bbox":[10,10,50,50]},
			{"class_id":4,"confidence":0.40,"bbox":[60,10,90,50]}
		]}`))
	})

	return httptest.NewServer(mux)
}

func startService(srv *httptest.Server, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithActuatorBaseURL(srv.URL),
		service.WithVisionBaseURL(srv.URL),
		service.WithPollInterval(10 * time.Millisecond),
		service.WithCallTimeout(2 * time.Second),
		service.WithRetryBackoff(time.Millisecond),
	}
	svc := service.New(append(base, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func waitForDetections(svc *service.Service) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if svc.Status().Detections > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService(t *testing.T) {
	Convey("Given a service running against a fake arm and vision rig", t, func() {
		_ = logger.Init()
		srv := newRig(0)
		defer srv.Close()

		svc := startService(srv)
		defer svc.Stop()
		ctx := context.Background()

		Convey("When freshly started", func() {
			st := svc.Status()

			Convey("Then the lifecycle is uninitialized with no session", func() {
				So(st.State, ShouldEqual, "uninitialized")
				So(st.SessionActive, ShouldBeFalse)
				So(st.PendingReload, ShouldBeFalse)
			})
		})

		Convey("When the poller has run", func() {
			waitForDetections(svc)
			st := svc.Status()

			Convey("Then detections show up in status", func() {
				So(st.Detections, ShouldEqual, 2)
				So(st.Targets, ShouldContain, 3)
				So(st.Targets, ShouldContain, 5)
			})
		})

		Convey("When interpreting utterances", func() {
			ev, ok := svc.Interpret("hey robot shoot")

			So(ok, ShouldBeTrue)
			So(ev.Verb, ShouldEqual, model.VerbShoot)

			_, ok = svc.Interpret("crowd noise")
			So(ok, ShouldBeFalse)
		})

		Convey("When dispatching go and shoot", func() {
			waitForDetections(svc)

			res := svc.Dispatch(ctx, model.VerbGo)
			So(res.Outcome, ShouldEqual, orchestrator.OutcomeInitialized)
			So(svc.Status().SessionActive, ShouldBeTrue)

			res = svc.Dispatch(ctx, model.VerbShoot)

			Convey("Then the shot resolves the strongest detection", func() {
				So(res.Outcome, ShouldEqual, orchestrator.OutcomeShotComplete)
				So(res.Target, ShouldEqual, model.TargetID(3))
				So(svc.Status().State, ShouldEqual, "idle")
			})

			Convey("And terminate releases the session", func() {
				res := svc.Dispatch(ctx, model.VerbTerminate)
				So(res.Outcome, ShouldEqual, orchestrator.OutcomeTerminated)
				So(svc.Status().SessionActive, ShouldBeFalse)
			})
		})

		Convey("When handling a spoken utterance", func() {
			So(svc.HandleUtterance(ctx, "background chatter"), ShouldBeFalse)
			So(svc.HandleUtterance(ctx, "robot goodgame"), ShouldBeTrue)
		})
	})
}

func TestService_Calibration(t *testing.T) {
	Convey("Given a service with a calibration file", t, func() {
		_ = logger.Init()
		srv := newRig(0)
		defer srv.Close()

		file := writeCalibration(1, 11.5, 0.2)
		defer os.Remove(file)

		svc := startService(srv, service.WithCalibrationFile(file))
		defer svc.Stop()

		Convey("When the file is edited and reloaded", func() {
			p, err := svc.Params(1, model.ShotNormal)
			So(err, ShouldBeNil)
			So(p.Pull, ShouldEqual, 11.5)

			rewriteCalibration(file, 1, 13.0, 0.2)
			So(svc.ReloadCalibration(), ShouldBeNil)

			Convey("Then new parameters take effect without a restart", func() {
				p, err := svc.Params(1, model.ShotNormal)
				So(err, ShouldBeNil)
				So(p.Pull, ShouldEqual, 13.0)
			})
		})

		Convey("When the file turns invalid", func() {
			So(os.WriteFile(file, []byte("cups: ["), 0o600), ShouldBeNil)

			Convey("Then reload fails and the old table stays", func() {
				So(svc.ReloadCalibration(), ShouldNotBeNil)

				p, err := svc.Params(1, model.ShotNormal)
				So(err, ShouldBeNil)
				So(p.Pull, ShouldEqual, 11.5)
			})
		})
	})
}

func TestService_RecalibrationWhileBusy(t *testing.T) {
	Convey("Given a service driving a slow arm", t, func() {
		_ = logger.Init()
		srv := newRig(50 * time.Millisecond)
		defer srv.Close()

		svc := startService(srv)
		defer svc.Stop()
		ctx := context.Background()

		done := make(chan orchestrator.Result, 1)
		go func() {
			done <- svc.Dispatch(ctx, model.VerbGo)
		}()

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && svc.Status().State != "busy" {
			time.Sleep(2 * time.Millisecond)
		}
		So(svc.Status().State, ShouldEqual, "busy")

		Convey("When a calibration reload is requested mid-sequence", func() {
			err := svc.ReloadCalibration()

			Convey("Then it is rejected with a state conflict", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, orchestrator.ErrStateConflict), ShouldBeTrue)
			})

			Convey("And it succeeds once the robot settles", func() {
				settle := time.Now().Add(5 * time.Second)
				for time.Now().Before(settle) && svc.Status().State != "idle" {
					time.Sleep(5 * time.Millisecond)
				}
				So(svc.Status().State, ShouldEqual, "idle")
				So(svc.ReloadCalibration(), ShouldBeNil)
			})
		})

		Reset(func() {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
			}
		})
	})
}

func writeCalibration(target int, pull, rotation float64) string {
	f, err := os.CreateTemp("", "slingbot-cal-*.yaml")
	So(err, ShouldBeNil)
	name := f.Name()
	So(f.Close(), ShouldBeNil)
	rewriteCalibration(name, target, pull, rotation)
	return name
}

func rewriteCalibration(path string, target int, pull, rotation float64) {
	content := fmt.Sprintf("cups:\n  - target: %d\n    pull: %g\n    rotation: %g\n", target, pull, rotation)
	So(os.WriteFile(path, []byte(content), 0o600), ShouldBeNil)
}
