// Package service wires the domain components together and implements
// the dependencies required by the HTTP API and the speech feed.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robopong/slingbot/internal/adapters/actuator"
	"github.com/robopong/slingbot/internal/adapters/http/api"
	"github.com/robopong/slingbot/internal/adapters/vision"
	"github.com/robopong/slingbot/internal/domain/calibration"
	"github.com/robopong/slingbot/internal/domain/command"
	"github.com/robopong/slingbot/internal/domain/model"
	"github.com/robopong/slingbot/internal/orchestrator"
	"github.com/robopong/slingbot/pkg/logger"
)

// Service owns the running components: interpreter, actuator session,
// vision poller and the lifecycle orchestrator.
type Service struct {
	mu sync.RWMutex

	// Configuration
	wakeWord        string
	actuatorBaseURL string
	operatorName    string
	operatorEmail   string
	callTimeout     time.Duration
	retryBackoff    time.Duration
	visionBaseURL   string
	pollInterval    time.Duration
	minConfidence   float64
	maxSnapshotAge  time.Duration
	calibrationFile string

	// Components
	interpreter *command.Interpreter
	session     *actuator.Manager
	poller      *vision.Poller
	resolver    *vision.Resolver
	orch        *orchestrator.Orchestrator
	table       *calibration.Table

	// State
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWakeWord sets the spoken command prefix.
func WithWakeWord(w string) Option {
	return func(s *Service) {
		if w != "" {
			s.wakeWord = w
		}
	}
}

// WithActuatorBaseURL points the arm client at a robot API.
func WithActuatorBaseURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.actuatorBaseURL = u
		}
	}
}

// WithOperator sets the operator identity used on login.
func WithOperator(name, email string) Option {
	return func(s *Service) {
		if name != "" {
			s.operatorName = name
		}
		if email != "" {
			s.operatorEmail = email
		}
	}
}

// WithCallTimeout bounds each primitive arm action.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithRetryBackoff sets the pause before retrying a timed-out arm action.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

// WithVisionBaseURL points the detection poller at a detection server.
func WithVisionBaseURL(u string) Option {
	return func(s *Service) {
		if u != "" {
			s.visionBaseURL = u
		}
	}
}

// WithPollInterval sets the detection polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithMinConfidence drops detections below this score.
func WithMinConfidence(c float64) Option {
	return func(s *Service) {
		if c >= 0 && c <= 1 {
			s.minConfidence = c
		}
	}
}

// WithMaxSnapshotAge bounds snapshot staleness at shot time.
func WithMaxSnapshotAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxSnapshotAge = d
		}
	}
}

// WithCalibrationFile overrides the built-in cup calibration.
func WithCalibrationFile(path string) Option {
	return func(s *Service) {
		s.calibrationFile = path
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		wakeWord:        command.DefaultWakeWord,
		actuatorBaseURL: "http://localhost:8800",
		operatorName:    "slingbot",
		operatorEmail:   "slingbot@example.com",
		callTimeout:     30 * time.Second,
		retryBackoff:    500 * time.Millisecond,
		visionBaseURL:   "http://localhost:8800",
		pollInterval:    500 * time.Millisecond,
		minConfidence:   0.25,
		maxSnapshotAge:  2 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting shot orchestration service...")

	table, err := s.loadTable()
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	s.table = table

	s.interpreter = command.New(command.WithWakeWord(s.wakeWord))

	arm := actuator.NewClient(s.actuatorBaseURL,
		actuator.WithOperator(s.operatorName, s.operatorEmail),
	)
	s.session = actuator.NewManager(arm,
		actuator.WithCallTimeout(s.callTimeout),
	)

	source := vision.NewHTTPSource(s.visionBaseURL, nil)
	s.poller = vision.NewPoller(source,
		vision.WithPollInterval(s.pollInterval),
	)
	s.resolver = vision.NewResolver(s.poller,
		vision.WithMinConfidence(s.minConfidence),
	)

	// The orchestrator reads calibration through the service so a reloaded
	// table takes effect without rebuilding the machine.
	s.orch = orchestrator.New(s.session, s.resolver, s,
		orchestrator.WithMaxSnapshotAge(s.maxSnapshotAge),
		orchestrator.WithRetryBackoff(s.retryBackoff),
	)

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	go s.poller.Run(s.runCtx)

	s.started = true
	s.logger.Info(ctx, "shot orchestration service started",
		logger.String("actuator", s.actuatorBaseURL),
		logger.String("vision", s.visionBaseURL),
		logger.Int("calibratedTargets", s.table.Size()),
	)

	return nil
}

// Stop gracefully shuts down the service. Any active arm session is released.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping shot orchestration service...")

	if s.session != nil && s.session.Active() {
		logoffCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		_ = s.session.Logoff(logoffCtx)
		cancel()
	}

	s.cancel()
	<-s.poller.Done()

	s.started = false
	s.logger.Info(ctx, "shot orchestration service stopped")
}

// Fatal delivers the orchestrator's unrecoverable error, if one ever occurs.
func (s *Service) Fatal() <-chan error {
	return s.orch.Fatal()
}

// Interpret parses a raw utterance into a command event.
func (s *Service) Interpret(raw string) (model.CommandEvent, bool) {
	return s.interpreter.Interpret(raw)
}

// Dispatch runs one command through the lifecycle state machine.
func (s *Service) Dispatch(ctx context.Context, verb model.Verb) orchestrator.Result {
	ev := model.CommandEvent{ID: uuid.NewString(), Verb: verb, TS: time.Now()}
	return s.orch.Dispatch(ctx, ev)
}

// HandleUtterance feeds one transcribed utterance through the interpreter.
// Recognized commands dispatch on the service context, detached from the
// feed connection, so a dropped websocket cannot cancel a moving arm.
func (s *Service) HandleUtterance(ctx context.Context, text string) bool {
	ev, ok := s.interpreter.Interpret(text)
	if !ok {
		s.logger.Debug(ctx, "utterance ignored", logger.String("text", text))
		return false
	}

	go func() {
		res := s.orch.Dispatch(s.runCtx, ev)
		s.logger.Info(s.runCtx, "spoken command finished",
			logger.String("commandID", ev.ID),
			logger.String("verb", string(ev.Verb)),
			logger.String("outcome", string(res.Outcome)),
		)
	}()
	return true
}

// Reload runs a manual reload sequence.
func (s *Service) Reload(ctx context.Context) orchestrator.Result {
	return s.orch.Reload(ctx)
}

// ReloadCalibration re-reads the calibration source and swaps the table.
// The swap holds the command gate: recalibrating mid-sequence is rejected
// with a state conflict.
func (s *Service) ReloadCalibration() error {
	table, err := s.loadTable()
	if err != nil {
		return err
	}

	return s.orch.Exclusive(func() error {
		s.mu.Lock()
		s.table = table
		s.mu.Unlock()

		s.logger.Info(context.Background(), "calibration reloaded",
			logger.Int("targets", table.Size()),
		)
		return nil
	})
}

// Params implements the orchestrator's calibration dependency against the
// currently loaded table.
func (s *Service) Params(id model.TargetID, kind model.ShotKind) (calibration.ShotParams, error) {
	s.mu.RLock()
	table := s.table
	s.mu.RUnlock()
	return table.Params(id, kind)
}

// Status reports the service state for GET /status.
func (s *Service) Status() api.Status {
	st := api.Status{
		State:         string(s.orch.State()),
		PendingReload: s.orch.PendingReload(),
		SessionActive: s.session.Active(),
		Targets:       []int{},
	}

	if snap, ok := s.poller.Snapshot(); ok {
		st.Detections = len(snap.Targets)
		st.SnapshotAgeMs = float64(time.Since(snap.Taken).Milliseconds())
		for _, t := range snap.Targets {
			st.Targets = append(st.Targets, int(t.ID))
		}
	}

	return st
}

func (s *Service) loadTable() (*calibration.Table, error) {
	if s.calibrationFile == "" {
		return calibration.Default(), nil
	}
	return calibration.Load(s.calibrationFile)
}
