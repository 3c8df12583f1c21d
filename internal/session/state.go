package session

import (
	"fmt"
	"slices"
	"time"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Syncing
	Streaming
	Recovering
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Streaming:
		return "streaming"
	case Recovering:
		return "recovering"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Disconnected: {Connecting, Terminated},
	Connecting:   {Syncing, Recovering, Terminated},
	Syncing:      {Streaming, Recovering, Terminated},
	Streaming:    {Recovering, Terminated},
	Recovering:   {Connecting, Terminated},
}

// CanTransition reports whether the machine may move from s to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// Transition describes one state change. Err is the failure that caused it,
// if any.
type Transition struct {
	From State
	To   State
	Err  error
	At   time.Time
}

// Hook observes transitions. It runs synchronously on the supervising
// goroutine, so it must not block.
type Hook func(Transition)
