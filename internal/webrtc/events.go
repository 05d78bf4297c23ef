package webrtc

import "sync"

// dispatcher delivers the events of one type to a single subscriber, in
// emission order, on its own goroutine. Events emitted before a subscriber
// is set are held until one is. Nothing is delivered after close.
type dispatcher[T any] struct {
	mu     sync.Mutex
	queue  []T
	fn     func(T)
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher[T any]() *dispatcher[T] {
	d := &dispatcher[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher[T]) subscribe(fn func(T)) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
	d.notify()
}

func (d *dispatcher[T]) emit(v T) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, v)
	d.mu.Unlock()
	d.notify()
}

func (d *dispatcher[T]) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher[T]) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.queue = nil
	close(d.done)
}

func (d *dispatcher[T]) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.closed || d.fn == nil || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			v := d.queue[0]
			var zero T
			d.queue[0] = zero
			d.queue = d.queue[1:]
			fn := d.fn
			d.mu.Unlock()

			fn(v)
		}
	}
}
