// Package wal journals execution state transitions to a write-ahead log so
// an attempt interrupted mid-saga can be reconciled on restart.
package wal

import (
	"context"
	"strings"
	"sync"

	"github.com/sugawarayuuta/sonnet"
	"github.com/vadiminshakov/gowal"

	"github.com/fd1az/triarb/business/execution/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

const (
	DefaultDir   = "./data/wal/executions"
	segmentLimit = 1000
	maxSegments  = 20

	keyPrefix = "exec_"
)

// Entry is one journaled transition.
type Entry struct {
	Index       uint64
	ExecutionID string
	Transition  domain.Transition
}

// Journal appends transitions to a gowal log.
type Journal struct {
	mu  sync.RWMutex
	wal *gowal.Wal
}

// Open opens (or creates) the journal in dir.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = DefaultDir
	}
	w, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "transition_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeStorageError,
			apperror.WithContextf("open execution journal %s", dir), apperror.WithCause(err))
	}
	return &Journal{wal: w}, nil
}

// Append writes t under executionID.
func (j *Journal) Append(_ context.Context, executionID string, t domain.Transition) error {
	payload, err := sonnet.Marshal(t)
	if err != nil {
		return apperror.New(apperror.CodeStorageError, apperror.WithContext("encode transition"), apperror.WithCause(err))
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.wal.Write(j.wal.CurrentIndex()+1, keyPrefix+executionID, payload); err != nil {
		return apperror.New(apperror.CodeStorageError,
			apperror.WithContextf("journal %s %s", executionID, t), apperror.WithCause(err))
	}
	return nil
}

// EntriesAfter returns the transitions written after index, oldest first.
func (j *Journal) EntriesAfter(index uint64) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}
	out := make([]Entry, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		var t domain.Transition
		if err := sonnet.Unmarshal(payload, &t); err != nil {
			return nil, apperror.New(apperror.CodeStorageError,
				apperror.WithContextf("decode journal entry %d", idx), apperror.WithCause(err))
		}
		out = append(out, Entry{Index: idx, ExecutionID: strings.TrimPrefix(key, keyPrefix), Transition: t})
	}
	return out, nil
}

// Unfinished returns the executions whose last journaled state is not
// terminal, with that last transition. These attempts were interrupted and
// may hold unbalanced positions.
func (j *Journal) Unfinished() (map[string]domain.Transition, error) {
	entries, err := j.EntriesAfter(0)
	if err != nil {
		return nil, err
	}
	last := make(map[string]domain.Transition)
	for _, e := range entries {
		last[e.ExecutionID] = e.Transition
	}
	for id, t := range last {
		if t.To.Terminal() {
			delete(last, id)
		}
	}
	return last, nil
}

// CurrentIndex returns the latest index written.
func (j *Journal) CurrentIndex() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.wal.CurrentIndex()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}
