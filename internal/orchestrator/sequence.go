package orchestrator

import (
	"github.com/robopong/slingbot/internal/adapters/actuator"
	"github.com/robopong/slingbot/internal/domain/calibration"
)

// Step is one named actuator call in a sequence. Names mirror the action
// vocabulary so an aborted shot can report exactly where it stopped.
type Step struct {
	Name   string
	Action actuator.Action
}

func step(a actuator.Action) Step {
	return Step{Name: string(a.Name), Action: a}
}

// initSteps is the one-time init sequence run on go: fetch a ball and load
// the slingshot.
func initSteps() []Step {
	return []Step{
		step(actuator.Home()),
		step(actuator.Pickup()),
		step(actuator.Grip(actuator.GripBall)),
		step(actuator.Home()),
		step(actuator.Load()),
		step(actuator.Release(actuator.GripOpen)),
		step(actuator.Home()),
	}
}

// shotSteps builds the firing sequence for derived shot parameters: grab the
// sling, grip, pull back, aim (any bounce waypoints first), release.
// The reload sub-sequence is appended by the orchestrator, not here, because
// its failure is reported separately from the shot outcome.
func shotSteps(p calibration.ShotParams) []Step {
	steps := []Step{
		step(actuator.Grab()),
		step(actuator.Grip(actuator.GripClosed)),
		step(actuator.Translate(p.Pull)),
	}
	for _, w := range p.Waypoints {
		steps = append(steps, step(actuator.Rotate(w)))
	}
	steps = append(steps,
		step(actuator.Rotate(p.Rotation)),
		step(actuator.Release(actuator.GripOpen)),
	)
	return steps
}

// reloadSteps returns the mandatory post-shot reload: park, fetch a fresh
// ball, load it into the sling, park again.
func reloadSteps() []Step {
	return []Step{
		step(actuator.Home()),
		step(actuator.Release(actuator.GripOpen)),
		step(actuator.Pickup()),
		step(actuator.Grip(actuator.GripBall)),
		step(actuator.Home()),
		step(actuator.Load()),
		step(actuator.Release(actuator.GripOpen)),
		step(actuator.Home()),
	}
}

// recoverySteps is the best-effort safe return after a mid-sequence failure:
// open the gripper and go home.
func recoverySteps() []Step {
	return []Step{
		step(actuator.Release(actuator.GripOpen)),
		step(actuator.Home()),
	}
}
