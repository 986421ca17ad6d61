// Package model contains domain models passed between layers.
package model

import "time"

// TargetID identifies a cup on the table. Valid ids are assigned by the
// calibration table; the vision collaborator reports class ids 0-based,
// which the vision adapter maps to 1-based target ids.
type TargetID int

// BoundingBox is the detection box as [x1, y1, x2, y2] in frame pixels.
// Carried for debugging only; the orchestration never interprets it.
type BoundingBox [4]float64

// Target is a single vision detection candidate.
type Target struct {
	ID         TargetID
	Confidence float64 // in [0, 1]
	Box        BoundingBox
}

// Verb is one of the closed set of spoken command verbs.
type Verb string

// Recognized command verbs. Utterances must carry the wake word before any
// of these; everything else is ignored at parse time.
const (
	VerbGo        Verb = "go"
	VerbShoot     Verb = "shoot"
	VerbKillshot  Verb = "killshot"
	VerbTrickshot Verb = "trickshot"
	VerbGoodGame  Verb = "goodgame"
	VerbTerminate Verb = "terminate"
)

// ShotKind selects the parameter-derivation rule layered on top of a base
// calibration entry.
type ShotKind string

const (
	ShotNormal ShotKind = "normal"
	ShotKill   ShotKind = "kill"
	ShotTrick  ShotKind = "trick"
)

// ShotKind maps shot verbs to their kind. The second return is false for
// verbs that do not trigger a shot sequence.
func (v Verb) ShotKind() (ShotKind, bool) {
	switch v {
	case VerbShoot:
		return ShotNormal, true
	case VerbKillshot:
		return ShotKill, true
	case VerbTrickshot:
		return ShotTrick, true
	default:
		return "", false
	}
}

// CommandEvent is a parsed, validated command. Events are consumed
// immediately and never queued; ID exists only for log correlation.
type CommandEvent struct {
	ID   string
	Verb Verb
	TS   time.Time
}
