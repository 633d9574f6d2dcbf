// Package verify implements the conversational loop that confirms a user's
// Trello username. The flow is a small state machine fed one reply at a
// time; it is transport-agnostic, so callers deliver whatever Step.Say
// contains and feed the next reply back in.
package verify

import (
	"context"
	"regexp"
	"strings"
)

// State of a verification conversation.
type State int

const (
	// Asking means the flow is waiting for the user to supply a username.
	Asking State = iota
	// Done means a username was verified and recorded.
	Done
)

// filler matches hesitation replies ("um", "hold on", "one sec", ...) that
// should silently re-prompt instead of counting as an answer.
var filler = regexp.MustCompile(`^(?i:u[mh]+|hold on|(?:one|a) sec(?:ond)?|wait|ok|got it|no|nope)$`)

const (
	promptText   = "Hey, real quick: what's your Trello username?"
	checkingText = "Hold on, let me check that..."
	retryText    = "Hmm...I couldn't find that user. Could you check again?"
	thanksText   = "Great, thanks!"
)

// Prober reports whether a Trello username resolves, typically by fetching
// the member's cards.
type Prober interface {
	ProbeUsername(ctx context.Context, username string) error
}

// Saver persists a verified username.
type Saver interface {
	SaveUsername(userID, trelloUsername string) error
}

// Step is the outcome of one transition: the resulting state and the
// messages to send back to the user.
type Step struct {
	State State
	Say   []string
}

// Flow confirms one user's Trello username. There is no retry cap: the loop
// runs until a reply resolves against Trello, which is a deliberate
// property of the conversation.
type Flow struct {
	userID string
	state  State
	probe  Prober
	save   Saver
}

func NewFlow(userID string, probe Prober, save Saver) *Flow {
	return &Flow{userID: userID, probe: probe, save: save}
}

// Prompt returns the opening question.
func (f *Flow) Prompt() string {
	return promptText
}

func (f *Flow) State() State {
	return f.state
}

// Next consumes one reply. Filler replies leave the state untouched with
// nothing to say. Any other reply is probed as a candidate username: on
// success the record is written (exactly once, on this transition) and the
// flow finishes; on failure the user is asked again.
//
// The returned error is a directory write failure only; the conversation
// still completes, matching the store's best-effort contract, and the
// caller is expected to log it.
func (f *Flow) Next(ctx context.Context, reply string) (Step, error) {
	if f.state == Done {
		return Step{State: Done}, nil
	}

	reply = strings.TrimSpace(reply)
	if filler.MatchString(reply) {
		return Step{State: Asking}, nil
	}

	if err := f.probe.ProbeUsername(ctx, reply); err != nil {
		return Step{State: Asking, Say: []string{checkingText, retryText}}, nil
	}

	f.state = Done
	err := f.save.SaveUsername(f.userID, reply)
	return Step{State: Done, Say: []string{checkingText, thanksText}}, err
}
