package engine

import (
	"testing"
	"time"
)

func TestQueueDeliversInOrder(t *testing.T) {
	q := newEventQueue()
	q.push(Property("a", 1), Property("b", 2))
	q.push(Property("c", 3))
	q.close()

	var got []string
	for ev := range q.out {
		got = append(got, ev.Name)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("events = %v, want [a b c]", got)
	}
}

func TestQueuePushAfterCloseIgnored(t *testing.T) {
	q := newEventQueue()
	q.close()
	q.close()
	q.push(Property("late", 1))
	if ev, ok := <-q.out; ok {
		t.Errorf("got %+v after close", ev)
	}
}

func TestQueueStopsWithoutReader(t *testing.T) {
	q := newEventQueueDrain(10 * time.Millisecond)
	q.push(Property("a", 1), Property("b", 2), Property("c", 3))
	q.close()

	select {
	case <-q.stopped:
	case <-time.After(time.Second):
		t.Fatal("pump still blocked with nobody reading")
	}
	if ev, ok := <-q.out; ok {
		t.Errorf("got %+v from a stopped queue", ev)
	}
}
