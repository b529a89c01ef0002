package streaming

import (
	"sync"
	"time"
)

// Scheduler abstracts the clock used by Throttle so pacing can be driven
// deterministically in tests.
type Scheduler interface {
	Now() time.Time
	// Every calls fn every interval until the returned stop func is called.
	Every(interval time.Duration, fn func()) (stop func())
	// AfterFunc calls fn once after d unless stop is called first.
	AfterFunc(d time.Duration, fn func()) (stop func())
}

// RealScheduler is backed by the wall clock.
type RealScheduler struct{}

func (RealScheduler) Now() time.Time { return time.Now() }

func (RealScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
