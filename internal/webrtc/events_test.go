package webrtc

import (
	"testing"
	"time"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := newDispatcher[int]()
	defer d.close()

	got := make(chan int, 100)
	d.subscribe(func(v int) { got <- v })

	for i := 0; i < 100; i++ {
		d.emit(i)
	}
	for want := 0; want < 100; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("expected %d, got %d", want, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestDispatcher_HoldsEventsUntilSubscribed(t *testing.T) {
	d := newDispatcher[string]()
	defer d.close()

	d.emit("a")
	d.emit("b")

	got := make(chan string, 2)
	d.subscribe(func(v string) { got <- v })

	for _, want := range []string{"a", "b"} {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("expected %q, got %q", want, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestDispatcher_SilentAfterClose(t *testing.T) {
	d := newDispatcher[int]()
	got := make(chan int, 1)
	d.subscribe(func(v int) { got <- v })

	d.close()
	d.close()
	d.emit(1)

	select {
	case v := <-got:
		t.Fatalf("expected no delivery after close, got %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}
