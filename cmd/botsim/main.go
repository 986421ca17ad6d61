// Command botsim emulates the robot arm HTTP API and the cup detection
// server on one address, for developing against no hardware.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/robopong/slingbot/pkg/logger"
)

type coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type rotation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

type tcpPayload struct {
	Coordinate coordinate `json:"coordinate"`
	Rotation   rotation   `json:"rotation"`
}

type detection struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"bbox"`
}

// armState is the emulated rig: one operator slot, a TCP pose, a gripper.
type armState struct {
	mu       sync.Mutex
	token    string
	pose     tcpPayload
	gripper  int
	moveWait time.Duration
	log      logger.Logger
}

func newArmState(moveWait time.Duration) *armState {
	return &armState{
		// Parked at the home pose of the physical rig.
		pose: tcpPayload{
			Coordinate: coordinate{X: 0, Y: -410, Z: 295},
			Rotation:   rotation{Roll: -180, Pitch: 0, Yaw: -90},
		},
		gripper:  400,
		moveWait: moveWait,
		log:      logger.Get().Named("botsim"),
	}
}

func (s *armState) handleOperator(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var op struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&op); err != nil || op.Name == "" {
			http.Error(w, "invalid operator", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		if s.token != "" {
			s.mu.Unlock()
			http.Error(w, "operator slot taken", http.StatusConflict)
			return
		}
		s.token = uuid.NewString()
		s.mu.Unlock()

		s.log.Info(r.Context(), "operator registered", logger.String("name", op.Name))
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		if token == "" {
			http.Error(w, "no operator", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"token": token})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *armState) handleOperatorRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/operator/")

	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || token != s.token {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}
	s.token = ""
	s.log.Info(r.Context(), "operator released")
	w.WriteHeader(http.StatusNoContent)
}

// authorized checks the Authentication header against the operator token.
func (s *armState) authorized(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != "" && r.Header.Get("Authentication") == s.token
}

func (s *armState) handleTCP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	p := s.pose
	s.mu.Unlock()
	writeJSON(w, p)
}

func (s *armState) handleTCPTarget(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var move struct {
		Target tcpPayload `json:"target"`
		Speed  int        `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&move); err != nil {
		http.Error(w, "invalid move", http.StatusBadRequest)
		return
	}

	// The real arm confirms after the motion finishes.
	time.Sleep(s.moveWait)

	s.mu.Lock()
	s.pose = move.Target
	s.mu.Unlock()

	s.log.Debug(r.Context(), "moved",
		logger.Float64("x", move.Target.Coordinate.X),
		logger.Float64("y", move.Target.Coordinate.Y),
		logger.Float64("z", move.Target.Coordinate.Z),
		logger.Int("speed", move.Speed),
	)
	w.WriteHeader(http.StatusOK)
}

func (s *armState) handleGripper(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	strength, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		http.Error(w, "invalid strength", http.StatusBadRequest)
		return
	}

	time.Sleep(s.moveWait)

	s.mu.Lock()
	s.gripper = strength
	s.mu.Unlock()

	s.log.Debug(r.Context(), "gripper set", logger.Int("strength", strength))
	w.WriteHeader(http.StatusOK)
}

// detectionsHandler serves a static rack of cups. Confidence falls off with
// the class id so resolver behavior is deterministic and visible.
func detectionsHandler(cups int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		dets := make([]detection, 0, cups)
		for i := 0; i < cups; i++ {
			x := float64(80 * i)
			dets = append(dets, detection{
				ClassID:    i,
				Confidence: 0.95 - 0.05*float64(i),
				Box:        [4]float64{x, 120, x + 60, 200},
			})
		}
		writeJSON(w, map[string][]detection{"detections": dets})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":8800", "listen address")
	cups := flag.Int("cups", 6, "number of cups to report as detected")
	moveWait := flag.Duration("move-wait", 150*time.Millisecond, "simulated motion duration per move")
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	arm := newArmState(*moveWait)

	mux := http.NewServeMux()
	mux.HandleFunc("/operator", arm.handleOperator)
	mux.HandleFunc("/operator/", arm.handleOperatorRelease)
	mux.HandleFunc("/tcp", arm.handleTCP)
	mux.HandleFunc("/tcp/target", arm.handleTCPTarget)
	mux.HandleFunc("/gripper", arm.handleGripper)
	mux.HandleFunc("/detections", detectionsHandler(*cups))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info(ctx, "botsim listening",
			logger.String("addr", *addr),
			logger.Int("cups", *cups),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Stderr.WriteString("botsim server failed: " + err.Error() + "\n")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "botsim shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
