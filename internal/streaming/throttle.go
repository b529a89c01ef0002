package streaming

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Options tunes the pacing of a Throttle. Zero fields take the defaults below.
type Options struct {
	TickInterval         time.Duration
	BaseCharsPerSecond   int
	MaxChunkSize         int
	BacklogDivisor       int
	ShortChunkThreshold  int
	SmallBufferThreshold int
	MinEmitInterval      time.Duration
	MaxBufferSize        int
	BoundaryWindow       int
}

// DefaultOptions returns the pacing used for plan and report streams.
func DefaultOptions() Options {
	return Options{
		TickInterval:         16 * time.Millisecond,
		BaseCharsPerSecond:   400,
		MaxChunkSize:         120,
		BacklogDivisor:       200,
		ShortChunkThreshold:  24,
		SmallBufferThreshold: 64,
		MinEmitInterval:      50 * time.Millisecond,
		MaxBufferSize:        20000,
		BoundaryWindow:       20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.BaseCharsPerSecond <= 0 {
		o.BaseCharsPerSecond = d.BaseCharsPerSecond
	}
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = d.MaxChunkSize
	}
	if o.BacklogDivisor <= 0 {
		o.BacklogDivisor = d.BacklogDivisor
	}
	if o.ShortChunkThreshold <= 0 {
		o.ShortChunkThreshold = d.ShortChunkThreshold
	}
	if o.SmallBufferThreshold <= 0 {
		o.SmallBufferThreshold = d.SmallBufferThreshold
	}
	if o.MinEmitInterval <= 0 {
		o.MinEmitInterval = d.MinEmitInterval
	}
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = d.MaxBufferSize
	}
	if o.BoundaryWindow <= 0 {
		o.BoundaryWindow = d.BoundaryWindow
	}
	return o
}

// Throttle turns bursty text fragments into a smoothly growing string that is
// published through onUpdate. onUpdate is called with the throttle lock held,
// so it must not call back into the Throttle.
type Throttle struct {
	mu       sync.Mutex
	opts     Options
	sched    Scheduler
	onUpdate func(string)

	pending   []rune
	display   strings.Builder
	streaming bool
	lastEmit  time.Time

	stopTick  func()
	tickID    uint64
	stopTimer func()
	timerID   uint64
}

// NewThrottle creates a throttle publishing to onUpdate. A nil scheduler uses
// the wall clock.
func NewThrottle(onUpdate func(string), sched Scheduler, opts Options) *Throttle {
	if sched == nil {
		sched = RealScheduler{}
	}
	if onUpdate == nil {
		onUpdate = func(string) {}
	}
	return &Throttle{
		opts:     opts.withDefaults(),
		sched:    sched,
		onUpdate: onUpdate,
	}
}

// AddChunk queues text for display.
func (t *Throttle) AddChunk(text string) {
	if text == "" {
		return
	}
	runes := []rune(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) > 0 && len(t.pending)+len(runes) > t.opts.MaxBufferSize {
		t.display.WriteString(string(t.pending))
		t.pending = nil
		t.publishNow()
	}
	t.pending = append(t.pending, runes...)

	if !t.streaming && len(runes) < t.opts.ShortChunkThreshold && len(t.pending) < t.opts.SmallBufferThreshold {
		t.display.WriteString(string(t.pending))
		t.pending = nil
		t.publishNow()
		return
	}
	t.startStreaming()
}

// Finish flushes everything still buffered, stops pacing and returns the
// final text, which is also published.
func (t *Throttle) Finish() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopStreaming()
	t.cancelTimer()
	if len(t.pending) > 0 {
		t.display.WriteString(string(t.pending))
		t.pending = nil
	}
	final := t.display.String()
	t.lastEmit = t.sched.Now()
	t.onUpdate(final)
	return final
}

// Reset discards all buffered and displayed text.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopStreaming()
	t.cancelTimer()
	t.pending = nil
	t.display.Reset()
	t.lastEmit = time.Time{}
}

// Text returns the currently displayed text.
func (t *Throttle) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.display.String()
}

// Pending reports how many runes are waiting to be displayed.
func (t *Throttle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Throttle) startStreaming() {
	if t.streaming {
		return
	}
	t.streaming = true
	t.tickID++
	id := t.tickID
	t.stopTick = t.sched.Every(t.opts.TickInterval, func() { t.tick(id) })
}

func (t *Throttle) stopStreaming() {
	if t.stopTick != nil {
		t.stopTick()
		t.stopTick = nil
	}
	t.tickID++
	t.streaming = false
}

func (t *Throttle) tick(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id != t.tickID || !t.streaming {
		return
	}
	if len(t.pending) == 0 {
		t.stopStreaming()
		return
	}

	n := t.breakAt(t.sliceSize())
	t.display.WriteString(string(t.pending[:n]))
	t.pending = t.pending[n:]
	t.publishDebounced()

	if len(t.pending) == 0 {
		t.stopStreaming()
	}
}

// sliceSize grows the per-tick slice with the backlog so long buffers drain
// faster.
func (t *Throttle) sliceSize() int {
	perTick := float64(t.opts.BaseCharsPerSecond) * t.opts.TickInterval.Seconds()
	scale := 1 + float64(len(t.pending))/float64(t.opts.BacklogDivisor)
	n := int(math.Ceil(perTick * scale))
	if n < 1 {
		n = 1
	}
	if n > t.opts.MaxChunkSize {
		n = t.opts.MaxChunkSize
	}
	if n > len(t.pending) {
		n = len(t.pending)
	}
	return n
}

// breakAt moves the cut back to the closest word or sentence boundary within
// the boundary window, if any.
func (t *Throttle) breakAt(n int) int {
	if n >= len(t.pending) {
		return len(t.pending)
	}
	lo := n - t.opts.BoundaryWindow
	if lo < 0 {
		lo = 0
	}
	for i := n - 1; i >= lo; i-- {
		if isBoundary(t.pending[i]) {
			return i + 1
		}
	}
	return n
}

func isBoundary(r rune) bool {
	switch r {
	case ' ', '\n', '.', ',', ';':
		return true
	}
	return false
}

func (t *Throttle) publishNow() {
	t.cancelTimer()
	t.lastEmit = t.sched.Now()
	t.onUpdate(t.display.String())
}

func (t *Throttle) publishDebounced() {
	now := t.sched.Now()
	elapsed := now.Sub(t.lastEmit)
	if t.lastEmit.IsZero() || elapsed >= t.opts.MinEmitInterval {
		t.publishNow()
		return
	}
	if t.stopTimer != nil {
		return
	}
	t.timerID++
	id := t.timerID
	t.stopTimer = t.sched.AfterFunc(t.opts.MinEmitInterval-elapsed, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if id != t.timerID {
			return
		}
		t.stopTimer = nil
		t.lastEmit = t.sched.Now()
		t.onUpdate(t.display.String())
	})
}

func (t *Throttle) cancelTimer() {
	if t.stopTimer != nil {
		t.stopTimer()
		t.stopTimer = nil
	}
	t.timerID++
}
