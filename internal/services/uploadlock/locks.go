// Package uploadlock serializes operations that rewrite the rows of one
// upload. Submission, reconciliation and the compliance/blacklist actions
// all touch overlapping row fields.
package uploadlock

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrBusy = errors.New("upload is busy with another operation")

type Locks struct {
	m sync.Map // uploadID -> *sync.Mutex
}

func New() *Locks {
	return &Locks{}
}

// Lock blocks until the upload is free and returns the unlock func.
func (l *Locks) Lock(id uuid.UUID) func() {
	v, _ := l.m.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// TryLock is Lock without waiting; ok is false when the upload is busy.
func (l *Locks) TryLock(id uuid.UUID) (unlock func(), ok bool) {
	v, _ := l.m.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
