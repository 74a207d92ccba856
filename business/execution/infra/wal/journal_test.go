package wal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/triarb/business/execution/domain"
)

func TestJournalAppendAndUnfinished(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	done := domain.NewMachine(3, func() time.Time { return at }, func(tr domain.Transition) {
		require.NoError(t, j.Append(ctx, "done", tr))
	})
	done.Move(domain.StateFailed, -1, "INSUFFICIENT_BALANCE")

	stuck := domain.NewMachine(3, func() time.Time { return at }, func(tr domain.Transition) {
		require.NoError(t, j.Append(ctx, "stuck", tr))
	})
	stuck.Move(domain.StateExecutingLeg, 0, "")
	stuck.Move(domain.StateExecutingLeg, 1, "")

	entries, err := j.EntriesAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "done", entries[0].ExecutionID)
	assert.Equal(t, domain.StateFailed, entries[0].Transition.To)
	assert.Equal(t, uint64(3), j.CurrentIndex())

	require.NoError(t, j.Close())

	// Reopen and reconcile from disk.
	j, err = Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	open, err := j.Unfinished()
	require.NoError(t, err)
	require.Len(t, open, 1)
	last := open["stuck"]
	assert.Equal(t, domain.StateExecutingLeg, last.To)
	assert.Equal(t, 1, last.Leg)
	assert.True(t, last.At.Equal(at))

	later, err := j.EntriesAfter(2)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, uint64(3), later[0].Index)
}
