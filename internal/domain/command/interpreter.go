// Package command parses recognized utterances into command events.
//
// The interpreter is stateless and side-effect-free: it only decides whether
// an utterance is a well-formed command. Gating a command against the robot
// lifecycle state belongs to the orchestrator, so that all transition rules
// live in one place.
package command

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robopong/slingbot/internal/domain/model"
)

// DefaultWakeWord is the prefix every spoken command must carry.
const DefaultWakeWord = "robot"

// Option applies a configuration option to the Interpreter.
type Option func(*Interpreter)

// WithWakeWord overrides the wake word (lower-cased for matching).
func WithWakeWord(word string) Option {
	return func(i *Interpreter) {
		if word != "" {
			i.wakeWord = strings.ToLower(word)
		}
	}
}

// Interpreter validates wake-word-prefixed utterances against the closed
// verb set.
type Interpreter struct {
	wakeWord string
	verbs    map[string]model.Verb
}

// New creates an Interpreter with the default wake word and verb set.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		wakeWord: DefaultWakeWord,
		verbs: map[string]model.Verb{
			"go":        model.VerbGo,
			"shoot":     model.VerbShoot,
			"killshot":  model.VerbKillshot,
			"trickshot": model.VerbTrickshot,
			"goodgame":  model.VerbGoodGame,
			"terminate": model.VerbTerminate,
		},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Interpret parses a raw utterance. The second return is false when the
// utterance carries no wake word or no recognized verb; that is a silent
// ignore, not an error.
func (i *Interpreter) Interpret(raw string) (model.CommandEvent, bool) {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))

	wake := -1
	for n, w := range words {
		if w == i.wakeWord {
			wake = n
			break
		}
	}
	if wake < 0 {
		return model.CommandEvent{}, false
	}

	rest := words[wake+1:]
	if len(rest) == 0 {
		return model.CommandEvent{}, false
	}

	verb, ok := i.verbs[rest[0]]
	if !ok {
		// The recognizer splits "goodgame" into separate tokens at times.
		if len(rest) >= 2 && rest[0] == "good" && rest[1] == "game" {
			verb, ok = model.VerbGoodGame, true
		}
	}
	if !ok {
		return model.CommandEvent{}, false
	}

	return model.CommandEvent{
		ID:   uuid.NewString(),
		Verb: verb,
		TS:   time.Now(),
	}, true
}
