package bus

import (
	"context"
	"testing"
	"time"
)

func TestSignal_EmitOrderAndUnsubscribe(t *testing.T) {
	var s Signal[int]
	var got []string

	unsubA := s.Subscribe(func(v int) { got = append(got, "a") })
	s.Subscribe(func(v int) { got = append(got, "b") })

	s.Emit(1)
	unsubA()
	unsubA()
	s.Emit(2)

	want := []string{"a", "b", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestSignal_SubscribeDuringEmit(t *testing.T) {
	var s Signal[string]
	calls := 0
	s.Subscribe(func(string) {
		calls++
		s.Subscribe(func(string) { calls += 10 })
	})

	s.Emit("x")
	if calls != 1 {
		t.Fatalf("calls after first emit = %d, want 1", calls)
	}
	s.Emit("y")
	if calls != 12 {
		t.Errorf("calls after second emit = %d, want 12", calls)
	}
}

func TestQueue_RunPendingIncludesFollowUps(t *testing.T) {
	q := NewQueue()
	var order []int
	q.Post(func() {
		order = append(order, 1)
		q.Post(func() { order = append(order, 3) })
	})
	q.Post(func() { order = append(order, 2) })

	if n := q.RunPending(); n != 3 {
		t.Fatalf("RunPending = %d, want 3", n)
	}
	for i, v := range []int{1, 2, 3} {
		if order[i] != v {
			t.Errorf("order[%d] = %d, want %d", i, order[i], v)
		}
	}
}

func TestQueue_PanicIsContained(t *testing.T) {
	q := NewQueue()
	ran := false
	q.Post(func() { panic("boom") })
	q.Post(func() { ran = true })

	q.RunPending()
	if !ran {
		t.Error("task after panicking task did not run")
	}
}

func TestQueue_Wait(t *testing.T) {
	q := NewQueue()
	if q.Wait(10 * time.Millisecond) {
		t.Fatal("Wait returned true on empty queue")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Post(func() {})
	}()
	if !q.Wait(time.Second) {
		t.Fatal("Wait did not observe posted task")
	}
}

func TestLoop_Do(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	value := 0
	if err := l.Do(ctx, func() { value = 42 }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if value != 42 {
		t.Errorf("value = %d, want 42", value)
	}
}
