package eventqueue

import (
	"testing"
	"time"
)

func TestOrderedDelivery(t *testing.T) {
	q := New[int]()
	const n = 1000
	// Push everything before reading anything: the backlog absorbs it all
	// without the producer ever blocking on the consumer.
	for i := 0; i < n; i++ {
		q.Push(i)
	}
	for i := 0; i < n; i++ {
		select {
		case v := <-q.Out():
			if v != i {
				t.Fatalf("received %d, want %d (FIFO order)", v, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
	q.Close()
	if _, ok := <-q.Out(); ok {
		t.Error("output channel still open after Close with empty backlog")
	}
}

func TestCloseDrainsBacklog(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")
	q.Close()

	var got []string
	for v := range q.Out() {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("drained %v, want [a b]", got)
	}
}

func TestInterleavedProducerConsumer(t *testing.T) {
	q := New[int]()
	done := make(chan struct{})
	const n = 500
	go func() {
		defer close(done)
		prev := -1
		for v := range q.Out() {
			if v <= prev {
				t.Errorf("received %d after %d, want increasing order", v, prev)
				return
			}
			prev = v
		}
	}()
	for i := 0; i < n; i++ {
		q.Push(i)
		if i%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	q.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
}
