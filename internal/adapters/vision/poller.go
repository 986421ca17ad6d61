// Package vision polls the detection collaborator and reduces its output to
// a single best target.
//
// The polling loop is the only writer of the snapshot cache; the orchestrator
// worker reads it through an atomic pointer and never blocks on network I/O.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/robopong/slingbot/internal/domain/model"
	"github.com/robopong/slingbot/pkg/logger"
	"github.com/robopong/slingbot/pkg/metrics"
)

// defaultPollInterval matches the cadence of the detection feed.
const defaultPollInterval = 500 * time.Millisecond

// Snapshot is one detection read, stamped with its read time so consumers
// can apply a staleness bound.
type Snapshot struct {
	Targets []model.Target
	Taken   time.Time
}

// Source exposes the detection collaborator: the current set of detected
// targets with confidence scores.
type Source interface {
	Detections(ctx context.Context) ([]model.Target, error)
}

// PollerOption applies a configuration option to the Poller.
type PollerOption func(*Poller)

// WithPollInterval sets the polling cadence.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollerLogger sets a custom logger for the poller.
func WithPollerLogger(log logger.Logger) PollerOption {
	return func(p *Poller) {
		if log != nil {
			p.logger = log
		}
	}
}

// Poller caches the latest detection snapshot at a fixed interval.
type Poller struct {
	source   Source
	interval time.Duration
	logger   logger.Logger

	snapshot atomic.Pointer[Snapshot]
	done     chan struct{}
}

// NewPoller creates a poller over the given detection source.
func NewPoller(source Source, opts ...PollerOption) *Poller {
	p := &Poller{
		source:   source,
		interval: defaultPollInterval,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logger.Get().Named("vision")
	}

	return p
}

// Run polls until ctx is canceled. Failed reads keep the previous snapshot;
// the staleness bound at resolution time handles a dead feed.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Done is closed when the polling loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) poll(ctx context.Context) {
	targets, err := p.source.Detections(ctx)
	if err != nil {
		metrics.RecordVisionError()
		p.logger.Warn(ctx, "detection poll failed", logger.Error(err))
		return
	}

	p.snapshot.Store(&Snapshot{Targets: targets, Taken: time.Now()})
	metrics.UpdateDetectionCount(len(targets))
}

// Snapshot returns the latest cached snapshot; ok is false before the first
// successful poll.
func (p *Poller) Snapshot() (Snapshot, bool) {
	s := p.snapshot.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// HTTPSource reads detections from the vision service's /detections endpoint.
// Class ids are zero-based in the wire format and map to one-based target ids.
type HTTPSource struct {
	baseURL string
	http    *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a detection source for the given service base URL.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{baseURL: baseURL, http: client}
}

// Detections fetches the current detection set.
func (s *HTTPSource) Detections(ctx context.Context) ([]model.Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/detections", nil)
	if err != nil {
		return nil, fmt.Errorf("build detections request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch detections: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch detections: status %d", resp.StatusCode)
	}

	var payload struct {
		Detections []struct {
			ClassID    int        `json:"class_id"`
			Confidence float64    `json:"confidence"`
			BBox       [4]float64 `json:"bbox"`
		} `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	targets := make([]model.Target, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		// Confidence is a probability; a value outside [0, 1] is a malformed
		// detection, not a strong one.
		if d.Confidence < 0 || d.Confidence > 1 {
			continue
		}
		targets = append(targets, model.Target{
			ID:         model.TargetID(d.ClassID + 1),
			Confidence: d.Confidence,
			Box:        model.BoundingBox(d.BBox),
		})
	}
	return targets, nil
}
