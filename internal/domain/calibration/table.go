// Package calibration holds the static mapping from target identity to
// trajectory parameters.
//
// The table is loaded and validated once at startup and is read-only for the
// process lifetime; recalibration means loading a fresh table and swapping it
// in while no shot is in flight.
package calibration

import (
	"fmt"
	"sort"

	"github.com/robopong/slingbot/internal/domain/model"
)

// Trajectory bounds and overrides. Pull is the slingshot pull-back distance
// multiplier, rotation the horizontal aim angle in degrees.
const (
	maxPull     = 20.0
	maxRotation = 15.0

	// DefaultKillPull is the pull-back override for kill shots.
	DefaultKillPull = 14.0

	// DefaultTrickWaypoint is the bounce rotation inserted before the final
	// aim rotation on trick shots.
	DefaultTrickWaypoint = 0.4
)

// Entry maps one target to its calibrated trajectory parameters.
type Entry struct {
	Target   model.TargetID `koanf:"target"`
	Pull     float64        `koanf:"pull"`
	Rotation float64        `koanf:"rotation"`
}

// ShotParams are the derived parameters for one shot sequence: the pull-back
// distance, any bounce waypoints (extra rotations applied before the final
// aim) and the final aim rotation.
type ShotParams struct {
	Pull      float64
	Waypoints []float64
	Rotation  float64
}

// Option applies a configuration option to the Table.
type Option func(*Table)

// WithKillPull overrides the kill-shot pull distance.
func WithKillPull(pull float64) Option {
	return func(t *Table) {
		if pull > 0 {
			t.killPull = pull
		}
	}
}

// WithTrickWaypoint overrides the trick-shot bounce rotation.
func WithTrickWaypoint(rotation float64) Option {
	return func(t *Table) {
		t.trickWaypoint = rotation
	}
}

// Table is the immutable target-to-trajectory mapping.
type Table struct {
	entries       map[model.TargetID]Entry
	killPull      float64
	trickWaypoint float64
}

// New builds and validates a table. Duplicate targets and out-of-range
// parameters are rejected before the table is published.
func New(entries []Entry, opts ...Option) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	t := &Table{
		entries:       make(map[model.TargetID]Entry, len(entries)),
		killPull:      DefaultKillPull,
		trickWaypoint: DefaultTrickWaypoint,
	}

	for _, opt := range opts {
		opt(t)
	}

	for _, e := range entries {
		if err := validate(e); err != nil {
			return nil, err
		}
		if _, exists := t.entries[e.Target]; exists {
			return nil, fmt.Errorf("%w: target %d", ErrDuplicateTarget, e.Target)
		}
		t.entries[e.Target] = e
	}

	return t, nil
}

// Default returns the table for the six-cup rack, values determined on the
// physical rig.
func Default(opts ...Option) *Table {
	t, err := New([]Entry{
		{Target: 1, Pull: 12.0, Rotation: -0.6},
		{Target: 2, Pull: 9.3, Rotation: 0},
		{Target: 3, Pull: 9.9, Rotation: 0.5},
		{Target: 4, Pull: 9.2, Rotation: 0},
		{Target: 5, Pull: 9.0, Rotation: 0.4},
		{Target: 6, Pull: 8.6, Rotation: 0},
	}, opts...)
	if err != nil {
		// The built-in entries are valid; reaching this is a programming error.
		panic(err)
	}
	return t
}

// Lookup returns the calibration entry for a target. A miss is a
// configuration defect, not a default.
func (t *Table) Lookup(id model.TargetID) (Entry, error) {
	e, ok := t.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: target %d", ErrUnknownTarget, id)
	}
	return e, nil
}

// Params derives the shot parameters for a target and shot kind.
//
// Normal shots use the entry as-is. Kill shots override the pull with the
// kill pull and aim straight. Trick shots keep the base parameters and insert
// the bounce waypoint before the final aim rotation.
func (t *Table) Params(id model.TargetID, kind model.ShotKind) (ShotParams, error) {
	e, err := t.Lookup(id)
	if err != nil {
		return ShotParams{}, err
	}

	switch kind {
	case model.ShotKill:
		return ShotParams{Pull: t.killPull, Rotation: 0}, nil
	case model.ShotTrick:
		return ShotParams{
			Pull:      e.Pull,
			Waypoints: []float64{t.trickWaypoint},
			Rotation:  e.Rotation,
		}, nil
	default:
		return ShotParams{Pull: e.Pull, Rotation: e.Rotation}, nil
	}
}

// Targets lists the known target ids in ascending order.
func (t *Table) Targets() []model.TargetID {
	ids := make([]model.TargetID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Size returns the number of calibrated targets.
func (t *Table) Size() int {
	return len(t.entries)
}

func validate(e Entry) error {
	switch {
	case e.Target <= 0:
		return fmt.Errorf("%w: target id %d must be positive", ErrInvalidEntry, e.Target)
	case e.Pull <= 0 || e.Pull > maxPull:
		return fmt.Errorf("%w: target %d pull %.2f out of range (0, %.0f]", ErrInvalidEntry, e.Target, e.Pull, maxPull)
	case e.Rotation < -maxRotation || e.Rotation > maxRotation:
		return fmt.Errorf("%w: target %d rotation %.2f out of range [-%.0f, %.0f]", ErrInvalidEntry, e.Target, e.Rotation, maxRotation, maxRotation)
	}
	return nil
}
