package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

// State is a pipeline stage.
type State int

// Pipeline states in the order a run passes through them.
const (
	Idle State = iota
	FetchingManifest
	VerifyingSignature
	Reconciling
	Downloading
	VerifyingHashes
	Launching
	Succeeded
	Failed
)

var (
	// ErrTerminal is returned when a transition is attempted out of a terminal state.
	ErrTerminal = errors.New("pipeline already finished")
	// ErrInvalidTransition is returned when a transition would skip or repeat a state.
	ErrInvalidTransition = errors.New("invalid pipeline transition")
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case FetchingManifest:
		return "FetchingManifest"
	case VerifyingSignature:
		return "VerifyingSignature"
	case Reconciling:
		return "Reconciling"
	case Downloading:
		return "Downloading"
	case VerifyingHashes:
		return "VerifyingHashes"
	case Launching:
		return "Launching"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	return s == Succeeded || s == Failed
}

// Tracker records the progress of a single run.
// It is not safe for concurrent use; the pipeline is single-threaded.
type Tracker struct {
	current State
	history []State
	reason  error
	onEnter func(from, to State)
}

// NewTracker returns a tracker in the Idle state.
// The optional hook is called after every successful transition.
func NewTracker(onEnter func(from, to State)) *Tracker {
	return &Tracker{
		current: Idle,
		history: []State{Idle},
		onEnter: onEnter,
	}
}

// Current returns the state the run is in.
func (t *Tracker) Current() State {
	return t.current
}

// Reason returns the error that moved the run to Failed, if any.
func (t *Tracker) Reason() error {
	return t.reason
}

// History returns every state entered so far, in order.
func (t *Tracker) History() []State {
	return slices.Clone(t.history)
}

// Reached reports whether the run has entered the given state.
func (t *Tracker) Reached(s State) bool {
	return slices.Contains(t.history, s)
}

// Advance moves the run to next, which must directly follow the current state.
func (t *Tracker) Advance(next State) error {
	if t.current.IsTerminal() {
		return fmt.Errorf("%s -> %s: %w", t.current, next, ErrTerminal)
	}

	if next == Failed || next != t.current+1 {
		return fmt.Errorf("%s -> %s: %w", t.current, next, ErrInvalidTransition)
	}

	t.enter(next)

	return nil
}

// Fail moves the run to Failed with the given reason.
func (t *Tracker) Fail(reason error) error {
	if t.current.IsTerminal() {
		return fmt.Errorf("%s -> %s: %w", t.current, Failed, ErrTerminal)
	}

	t.reason = reason
	t.enter(Failed)

	return nil
}

func (t *Tracker) enter(next State) {
	from := t.current
	t.current = next
	t.history = append(t.history, next)

	if t.onEnter != nil {
		t.onEnter(from, next)
	}
}
