package editorbridge

import (
	"fmt"
	"time"
)

// CallState is the lifecycle of one ExecuteCommand call.
//
//	Idle -> Sent -> AwaitingResponse -> Succeeded | Failed | TimedOut
//
// A throttled attempt goes from AwaitingResponse back to Sent. Succeeded
// means an envelope came back, whether it reports success or not.
type CallState int

const (
	Idle CallState = iota
	Sent
	AwaitingResponse
	Succeeded
	Failed
	TimedOut
)

func (s CallState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sent:
		return "sent"
	case AwaitingResponse:
		return "awaiting_response"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("CallState(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == Succeeded || s == Failed || s == TimedOut
}

var transitions = map[CallState][]CallState{
	Idle:             {Sent, Failed},
	Sent:             {AwaitingResponse, Failed},
	AwaitingResponse: {Sent, Succeeded, Failed, TimedOut},
}

func canTransition(from, to CallState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CallTrace is the record of one ExecuteCommand call, handed to the
// call observer when the call reaches a terminal state.
type CallTrace struct {
	ID        string
	RequestID string
	SessionID string
	Tool      string
	Command   Command
	States    []CallState
	Attempts  int
	Started   time.Time
	Duration  time.Duration
	Response  *Response
	Err       error
}

// Final returns the last state reached.
func (t CallTrace) Final() CallState {
	if len(t.States) == 0 {
		return Idle
	}
	return t.States[len(t.States)-1]
}

type call struct {
	trace CallTrace
	state CallState
}

func newCall(id, requestID string, cmd Command, now time.Time) *call {
	return &call{
		state: Idle,
		trace: CallTrace{
			ID:        id,
			RequestID: requestID,
			Command:   cmd,
			States:    []CallState{Idle},
			Started:   now,
		},
	}
}

// transition moves the call to a new state, rejecting edges outside the
// state diagram.
func (c *call) transition(to CallState) error {
	if !canTransition(c.state, to) {
		return fmt.Errorf("editorbridge: illegal call transition %s -> %s", c.state, to)
	}
	c.state = to
	c.trace.States = append(c.trace.States, to)
	return nil
}
