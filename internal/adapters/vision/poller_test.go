package vision_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/robopong/slingbot/internal/adapters/vision"
	"github.com/robopong/slingbot/internal/domain/model"
	"github.com/robopong/slingbot/pkg/logger"
)

// flakySource fails while broken is set and serves targets otherwise.
type flakySource struct {
	targets []model.Target
	broken  atomic.Bool
}

func (f *flakySource) Detections(context.Context) ([]model.Target, error) {
	if f.broken.Load() {
		return nil, errors.New("camera offline")
	}
	return f.targets, nil
}

func TestHTTPSource_Detections(t *testing.T) {
	Convey("Given a detection server", t, func() {
		_ = logger.Init()

		Convey("When the server returns detections", func(c C) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.So(r.URL.Path, ShouldEqual, "/detections")
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"detections":[
					{"class_id":0,"confidence":0.91,"bbox":[10,20,70,90]},
					{"class_id":3,"confidence":0.74,"bbox":[200,20,260,90]}
				]}`))
			}))
			defer srv.Close()

			source := vision.NewHTTPSource(srv.URL, nil)
			targets, err := source.Detections(context.Background())

			Convey("Then class ids map to one-based target ids", func() {
				So(err, ShouldBeNil)
				So(targets, ShouldHaveLength, 2)
				So(targets[0].ID, ShouldEqual, model.TargetID(1))
				So(targets[0].Confidence, ShouldEqual, 0.91)
				So(targets[0].Box, ShouldResemble, model.BoundingBox{10, 20, 70, 90})
				So(targets[1].ID, ShouldEqual, model.TargetID(4))
			})
		})

		Convey("When the server reports confidences outside [0, 1]", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"detections":[
					{"class_id":0,"confidence":1.7,"bbox":[10,20,70,90]},
					{"class_id":1,"confidence":-0.2,"bbox":[100,20,160,90]},
					{"class_id":2,"confidence":0.63,"bbox":[200,20,260,90]}
				]}`))
			}))
			defer srv.Close()

			source := vision.NewHTTPSource(srv.URL, nil)
			targets, err := source.Detections(context.Background())

			Convey("Then the malformed detections are dropped", func() {
				So(err, ShouldBeNil)
				So(targets, ShouldHaveLength, 1)
				So(targets[0].ID, ShouldEqual, model.TargetID(3))
				So(targets[0].Confidence, ShouldEqual, 0.63)
			})
		})

		Convey("When the server errors", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer srv.Close()

			source := vision.NewHTTPSource(srv.URL, nil)
			_, err := source.Detections(context.Background())

			So(err, ShouldNotBeNil)
		})

		Convey("When the response is not JSON", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			}))
			defer srv.Close()

			source := vision.NewHTTPSource(srv.URL, nil)
			_, err := source.Detections(context.Background())

			So(err, ShouldNotBeNil)
		})
	})
}

func TestPoller_Run(t *testing.T) {
	Convey("Given a running poller", t, func() {
		_ = logger.Init()

		source := &flakySource{targets: []model.Target{
			{ID: 2, Confidence: 0.88},
		}}
		poller := vision.NewPoller(source, vision.WithPollInterval(5*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		go poller.Run(ctx)

		Convey("When polls succeed", func() {
			snap, ok := waitForSnapshot(poller)

			Convey("Then the snapshot cache fills", func() {
				So(ok, ShouldBeTrue)
				So(snap.Targets, ShouldHaveLength, 1)
				So(snap.Targets[0].ID, ShouldEqual, model.TargetID(2))
				So(snap.Taken, ShouldHappenWithin, time.Second, time.Now())
			})
		})

		Convey("When the source starts failing", func() {
			snap, ok := waitForSnapshot(poller)
			So(ok, ShouldBeTrue)

			source.broken.Store(true)
			time.Sleep(30 * time.Millisecond)

			Convey("Then the previous snapshot is kept", func() {
				kept, stillOK := poller.Snapshot()
				So(stillOK, ShouldBeTrue)
				So(kept.Taken, ShouldHappenOnOrBetween, snap.Taken, time.Now())
				So(kept.Targets, ShouldHaveLength, 1)
			})
		})

		Convey("When the context is canceled", func() {
			cancel()

			Convey("Then the loop exits", func() {
				select {
				case <-poller.Done():
				case <-time.After(time.Second):
					t.Fatal("poller did not stop")
				}
			})
		})

		cancel()
	})
}

func waitForSnapshot(p *vision.Poller) (vision.Snapshot, bool) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := p.Snapshot(); ok {
			return snap, true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return vision.Snapshot{}, false
}
