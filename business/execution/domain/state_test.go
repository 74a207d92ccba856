package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		fromLeg int
		to      State
		toLeg   int
		ok      bool
	}{
		{"validating_to_first_leg", StateValidating, -1, StateExecutingLeg, 0, true},
		{"validating_to_failed", StateValidating, -1, StateFailed, -1, true},
		{"validating_skips_leg", StateValidating, -1, StateExecutingLeg, 1, false},
		{"validating_to_succeeded", StateValidating, -1, StateSucceeded, -1, false},
		{"leg_to_next", StateExecutingLeg, 0, StateExecutingLeg, 1, true},
		{"leg_skips", StateExecutingLeg, 0, StateExecutingLeg, 2, false},
		{"leg_past_end", StateExecutingLeg, 2, StateExecutingLeg, 3, false},
		{"last_leg_succeeds", StateExecutingLeg, 2, StateSucceeded, -1, true},
		{"early_leg_cannot_succeed", StateExecutingLeg, 1, StateSucceeded, -1, false},
		{"leg_rolls_back", StateExecutingLeg, 1, StateRollingBack, -1, true},
		{"leg_cannot_fail_directly", StateExecutingLeg, 1, StateFailed, -1, false},
		{"rollback_fails", StateRollingBack, -1, StateFailed, -1, true},
		{"rollback_cannot_succeed", StateRollingBack, -1, StateSucceeded, -1, false},
		{"terminal_is_final", StateSucceeded, -1, StateFailed, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Next(tt.from, tt.fromLeg, tt.to, tt.toLeg, 3)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMachineRecordsAndObserves(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var seen []Transition
	m := NewMachine(3, func() time.Time { return at }, func(tr Transition) { seen = append(seen, tr) })

	m.Move(StateExecutingLeg, 0, "buy ETH/USDT")
	m.Move(StateExecutingLeg, 1, "")
	m.Move(StateRollingBack, 7, "ORDER_TIMEOUT")
	m.Move(StateFailed, -1, "")

	state, leg := m.State()
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, -1, leg)
	assert.True(t, state.Terminal())

	h := m.History()
	require.Len(t, h, 4)
	assert.Equal(t, seen, h)
	assert.Equal(t, -1, h[2].Leg, "non-leg states carry no leg index")
	assert.Equal(t, 4, h[3].Seq)
	assert.Equal(t, "EXECUTING_LEG -> EXECUTING_LEG[1]", h[1].String())
	assert.Equal(t, at, h[0].At)
}

func TestMachinePanicsOnIllegalMove(t *testing.T) {
	m := NewMachine(3, nil, nil)
	assert.Panics(t, func() { m.Move(StateSucceeded, -1, "") })
	assert.Panics(t, func() { NewMachine(0, nil, nil) })
}
