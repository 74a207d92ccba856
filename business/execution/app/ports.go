// Package app contains the execution coordinator, its pre-flight balance
// validator and the ports it persists and serializes through.
package app

import (
	"context"
	"time"

	"github.com/fd1az/triarb/business/execution/domain"
)

// Store persists finalized execution results. The coordinator calls it
// exactly once per attempt.
type Store interface {
	SaveExecution(ctx context.Context, res *domain.ExecutionResult) error
}

// Journal records every state transition as it happens, for reconciliation
// after a crash mid-attempt.
type Journal interface {
	Append(ctx context.Context, executionID string, t domain.Transition) error
}

// Locker serializes executions per account. TryLock never waits: a held
// lock returns an EXECUTION_IN_PROGRESS error.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Stores fans a result out to several stores. Every store is attempted.
type Stores []Store

func (s Stores) SaveExecution(ctx context.Context, res *domain.ExecutionResult) error {
	var first error
	for _, st := range s {
		if err := st.SaveExecution(ctx, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}
