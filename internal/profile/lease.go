package profile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLeaseNotHeld is returned when Aggregate is called without a live lease.
var ErrLeaseNotHeld = errors.New("profile: aggregation requires a held subject lease")

// Locker hands out per-subject leases. At most one lease per subject is
// live at a time; different subjects never contend.
type Locker struct {
	mu       sync.Mutex
	subjects map[string]*subjectSlot
}

type subjectSlot struct {
	sem  chan struct{}
	refs int
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{subjects: make(map[string]*subjectSlot)}
}

// Lease is proof that the holder is the single writer for a subject.
type Lease struct {
	locker   *Locker
	subject  string
	slot     *subjectSlot
	released atomic.Bool
}

// Acquire blocks until the subject's lease is free or ctx is done.
func (l *Locker) Acquire(ctx context.Context, subjectID string) (*Lease, error) {
	slot := l.ref(subjectID)
	select {
	case slot.sem <- struct{}{}:
		return &Lease{locker: l, subject: subjectID, slot: slot}, nil
	case <-ctx.Done():
		l.unref(subjectID, slot)
		return nil, ctx.Err()
	}
}

// TryAcquire takes the subject's lease only if it is free right now.
func (l *Locker) TryAcquire(subjectID string) (*Lease, bool) {
	slot := l.ref(subjectID)
	select {
	case slot.sem <- struct{}{}:
		return &Lease{locker: l, subject: subjectID, slot: slot}, true
	default:
		l.unref(subjectID, slot)
		return nil, false
	}
}

func (l *Locker) ref(subjectID string) *subjectSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.subjects[subjectID]
	if !ok {
		slot = &subjectSlot{sem: make(chan struct{}, 1)}
		l.subjects[subjectID] = slot
	}
	slot.refs++
	return slot
}

func (l *Locker) unref(subjectID string, slot *subjectSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.subjects, subjectID)
	}
}

// Subject returns the subject the lease covers.
func (ls *Lease) Subject() string { return ls.subject }

// Held reports whether the lease is still live.
func (ls *Lease) Held() bool {
	return ls != nil && !ls.released.Load()
}

// Release gives the lease back. Releasing twice is a no-op.
func (ls *Lease) Release() {
	if ls == nil || !ls.released.CompareAndSwap(false, true) {
		return
	}
	<-ls.slot.sem
	ls.locker.unref(ls.subject, ls.slot)
}
