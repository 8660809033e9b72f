// Package preload runs an indexed loader ahead of its consumer on a background goroutine.
package preload

import (
	"io"
	"sync/atomic"
)

type preloadResult[T any] struct {
	item T
	err  error
}

// Preloader loads items 0 to count-1 in order, keeping up to depth of them loaded ahead of
// the consumer. It is meant for a single consumer goroutine.
type Preloader[T any] struct {
	closed    atomic.Bool
	loadFunc  func(index int) (T, error)
	count     int
	depth     int
	requested int

	notifyLoadMore chan struct{}
	notifyLoaded   chan preloadResult[T]
}

func NewPreloader[T any](loadFunc func(index int) (T, error), count, depth int) *Preloader[T] {
	depth = max(depth, 1)
	return &Preloader[T]{
		loadFunc:       loadFunc,
		count:          max(count, 0),
		depth:          depth,
		notifyLoadMore: make(chan struct{}, depth),
		notifyLoaded:   make(chan preloadResult[T], depth*2),
	}
}

// Start begins loading the first depth items.
func (p *Preloader[T]) Start() {
	for range min(p.depth, p.count) {
		p.notify()
	}
	if p.requested == p.count {
		p.Stop()
	}
	go p.loader()
}

// Stop ends loading once the already requested items are done. Safe to call more than once.
func (p *Preloader[T]) Stop() {
	if p.closed.Swap(true) {
		return
	}
	close(p.notifyLoadMore)
}

func (p *Preloader[T]) notify() {
	if p.closed.Load() {
		return
	}
	p.requested++
	p.notifyLoadMore <- struct{}{}
}

// Next returns the next loaded item, blocking until it is ready, and requests one more. After
// the last item, or once stopped and drained, it returns io.EOF.
func (p *Preloader[T]) Next() (T, error) {
	item, ok := <-p.notifyLoaded
	if !ok {
		var zero T
		return zero, io.EOF
	}
	if p.requested < p.count {
		p.notify()
	} else {
		p.Stop()
	}
	return item.item, item.err
}

func (p *Preloader[T]) loader() {
	defer close(p.notifyLoaded)
	loadIndex := 0
	for range p.notifyLoadMore {
		item, err := p.loadFunc(loadIndex)
		p.notifyLoaded <- preloadResult[T]{item: item, err: err}
		loadIndex += 1
	}
}
