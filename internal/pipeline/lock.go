// Package pipeline implements the tiered analysis pipeline: job scheduling,
// the per-photo single-flight lock, and the instant/fast/deep/face tiers.
package pipeline

import "sync"

// PhotoLock is the per-photo single-flight lock. A worker may run any tier
// for a photo only while holding its lock, so no two tiers (or a tier and a
// reanalyze) ever write the same AnalysisRecord concurrently.
//
// The lock is non-blocking: workers that lose the race requeue the job
// instead of waiting, keeping the pool draining other photos.
type PhotoLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewPhotoLock creates an empty lock table.
func NewPhotoLock() *PhotoLock {
	return &PhotoLock{held: make(map[string]struct{})}
}

// Acquire attempts to take the lock for a photo. On success it returns a
// release closure and true. The closure is idempotent and safe to defer on
// every exit path, including panics and timeouts.
func (l *PhotoLock) Acquire(photoID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[photoID]; busy {
		return nil, false
	}
	l.held[photoID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, photoID)
			l.mu.Unlock()
		})
	}, true
}

// Locked reports whether a photo's lock is currently held. Used to turn a
// reanalyze request into an immediate conflict instead of a queued duplicate.
func (l *PhotoLock) Locked(photoID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[photoID]
	return busy
}
