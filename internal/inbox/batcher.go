package inbox

import (
	"sync"
	"time"
)

// Batcher collects items and flushes them in batches by size or time threshold.
// Flushes run one at a time, in the order the batches were closed.
type Batcher[T any] struct {
	mu       sync.Mutex
	items    []T
	maxSize  int
	interval time.Duration
	flushFn  func([]T)
	timer    *time.Timer
	stopped  bool

	queue chan []T
	done  chan struct{}
}

// NewBatcher creates a batcher that calls flushFn when maxSize items accumulate
// or interval elapses since the first item, whichever comes first.
func NewBatcher[T any](maxSize int, interval time.Duration, flushFn func([]T)) *Batcher[T] {
	b := &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
		queue:    make(chan []T, 16),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Batcher[T]) run() {
	defer close(b.done)
	for items := range b.queue {
		b.flushFn(items)
	}
}

// Add adds an item to the batch. May trigger a flush. Returns false once
// the batcher is stopped.
func (b *Batcher[T]) Add(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return false
	}

	b.items = append(b.items, item)

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return true
	}

	// Start timer on first item
	if len(b.items) == 1 {
		b.timer = time.AfterFunc(b.interval, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.stopped && len(b.items) > 0 {
				b.flushLocked()
			}
		})
	}
	return true
}

// Flush forces a flush of any pending items.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped && len(b.items) > 0 {
		b.flushLocked()
	}
}

// Stop flushes remaining items, waits for queued flushes, and prevents future adds.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if len(b.items) > 0 {
		b.flushLocked()
	}
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

func (b *Batcher[T]) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = nil
	b.queue <- items
}
