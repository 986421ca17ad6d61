// Package actuator defines the contract to the robot arm collaborator and
// owns the authenticated session used to drive it.
//
// The arm exposes primitive motion actions plus a token lifecycle. Every call
// is synchronous: it returns once the arm confirms completion, times out, or
// faults. The session manager is the single owner of the credential; callers
// only ever hold the manager, never the raw token.
package actuator

import "context"

// Gripper strengths used by the slingshot mechanism.
const (
	GripClosed = 255 // gripping the sling pouch
	GripBall   = 370 // semi-closed ball grip
	GripOpen   = 400 // fully open
)

// ActionName identifies a primitive arm action.
type ActionName string

// Primitive actions. Grab, Home, Pickup and Load move to fixed poses;
// Grip/Release set gripper strength; Translate and Rotate are relative moves.
const (
	ActionGrab      ActionName = "grab"
	ActionGrip      ActionName = "grip"
	ActionTranslate ActionName = "translate"
	ActionRotate    ActionName = "rotate"
	ActionRelease   ActionName = "release"
	ActionHome      ActionName = "home"
	ActionPickup    ActionName = "pickup"
	ActionLoad      ActionName = "load"
)

// Action is one primitive arm call. Value carries the grip strength,
// pull-back distance or rotation angle; it is zero for pose actions.
type Action struct {
	Name  ActionName
	Value float64
}

// Action constructors keep call sites readable.
func Grab() Action                 { return Action{Name: ActionGrab} }
func Grip(strength float64) Action { return Action{Name: ActionGrip, Value: strength} }
func Translate(dist float64) Action {
	return Action{Name: ActionTranslate, Value: dist}
}
func Rotate(angle float64) Action    { return Action{Name: ActionRotate, Value: angle} }
func Release(strength float64) Action { return Action{Name: ActionRelease, Value: strength} }
func Home() Action                   { return Action{Name: ActionHome} }
func Pickup() Action                 { return Action{Name: ActionPickup} }
func Load() Action                   { return Action{Name: ActionLoad} }

// Arm is the raw actuator collaborator: a token lifecycle plus synchronous
// primitive actions. Implementations classify failures as ErrTimeout or
// ErrFault so the session manager can pass them through unchanged.
type Arm interface {
	// Login performs the credential exchange and returns an opaque token.
	Login(ctx context.Context) (string, error)

	// Logoff ends the session for the given token. Best effort.
	Logoff(ctx context.Context, token string) error

	// Do executes one primitive action and blocks until the arm confirms.
	Do(ctx context.Context, token string, a Action) error
}

// Invoker is what the orchestrator holds: a capability to use the session
// without seeing the credential.
type Invoker interface {
	Invoke(ctx context.Context, a Action) error
}
