// Package domain holds the execution saga's state machine and result types.
package domain

import (
	"fmt"
	"time"
)

// State is a coordinator state. Leg-executing states carry the leg index
// separately, see Transition.
type State string

const (
	StateValidating   State = "VALIDATING"
	StateExecutingLeg State = "EXECUTING_LEG"
	StateRollingBack  State = "ROLLING_BACK"
	StateSucceeded    State = "SUCCEEDED"
	StateFailed       State = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Transition records one state change. Leg is the leg index for
// EXECUTING_LEG and -1 otherwise.
type Transition struct {
	Seq    int       `json:"seq"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Leg    int       `json:"leg"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func (t Transition) String() string {
	to := string(t.To)
	if t.To == StateExecutingLeg {
		to = fmt.Sprintf("%s[%d]", t.To, t.Leg)
	}
	return fmt.Sprintf("%s -> %s", t.From, to)
}

// Next validates a move from (from, fromLeg) to (to, toLeg) for a path of
// n legs. Legs are entered strictly in order starting at 0.
func Next(from State, fromLeg int, to State, toLeg int, n int) error {
	ok := false
	switch from {
	case StateValidating:
		ok = (to == StateExecutingLeg && toLeg == 0) || to == StateFailed
	case StateExecutingLeg:
		switch to {
		case StateExecutingLeg:
			ok = toLeg == fromLeg+1 && toLeg < n
		case StateSucceeded:
			ok = fromLeg == n-1
		case StateRollingBack:
			ok = true
		}
	case StateRollingBack:
		ok = to == StateFailed
	}
	if !ok {
		return fmt.Errorf("illegal transition %s[%d] -> %s[%d] (legs=%d)", from, fromLeg, to, toLeg, n)
	}
	return nil
}

// Machine drives one execution attempt through its states.
type Machine struct {
	legs    int
	state   State
	leg     int
	history []Transition
	now     func() time.Time
	observe func(Transition)
}

// NewMachine starts a machine in VALIDATING for a path of legs steps.
// observe, when set, sees every transition as it happens.
func NewMachine(legs int, now func() time.Time, observe func(Transition)) *Machine {
	if legs <= 0 {
		panic("execution: machine for a path with no legs")
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{legs: legs, state: StateValidating, leg: -1, now: now, observe: observe}
}

// State returns the current state and leg index.
func (m *Machine) State() (State, int) {
	return m.state, m.leg
}

// History returns the transitions taken so far.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Move performs a transition. An illegal move is a programming error and panics.
func (m *Machine) Move(to State, leg int, reason string) Transition {
	if to != StateExecutingLeg {
		leg = -1
	}
	if err := Next(m.state, m.leg, to, leg, m.legs); err != nil {
		panic("execution: " + err.Error())
	}
	t := Transition{
		Seq:    len(m.history) + 1,
		From:   m.state,
		To:     to,
		Leg:    leg,
		Reason: reason,
		At:     m.now(),
	}
	m.state, m.leg = to, leg
	m.history = append(m.history, t)
	if m.observe != nil {
		m.observe(t)
	}
	return t
}
