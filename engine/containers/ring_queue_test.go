package containers

import (
	"errors"
	"testing"
)

func TestRingQueueOrderAndWrap(t *testing.T) {
	q := NewRingQueue[int](3)
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	if err := q.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full queue\nhave %v\nwant %v", err, ErrQueueFull)
	}

	if v, _ := q.Dequeue(); v != 1 {
		t.Errorf("Dequeue\nhave %d\nwant 1", v)
	}
	// The freed slot is reused at the start of the buffer.
	if err := q.Enqueue(4); err != nil {
		t.Fatalf("Enqueue after Dequeue: %v", err)
	}
	if v, _ := q.Peek(); v != 2 {
		t.Errorf("Peek\nhave %d\nwant 2", v)
	}

	var got []int
	for !q.IsEmpty() {
		v, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		got = append(got, v)
	}
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("drained\nhave %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drained\nhave %v\nwant %v", got, want)
			break
		}
	}
}

func TestRingQueueEmpty(t *testing.T) {
	q := NewRingQueue[string](1)
	if _, err := q.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Dequeue on empty queue\nhave %v\nwant %v", err, ErrQueueEmpty)
	}
	if _, err := q.Peek(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Peek on empty queue\nhave %v\nwant %v", err, ErrQueueEmpty)
	}
	if q.Len() != 0 || q.Cap() != 1 {
		t.Errorf("Len/Cap\nhave %d/%d\nwant 0/1", q.Len(), q.Cap())
	}
}
