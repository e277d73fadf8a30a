package connection

import (
	"sync"
	"testing"
)

// drainOutbox delivers every queued item in order.
func drainOutbox[T any](buf *Outbox[T]) []T {
	var out []T
	for {
		item, ticket, ok := buf.Peek()
		if !ok {
			return out
		}
		buf.Commit(ticket)
		out = append(out, item)
	}
}

func equalInts(got, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestOutbox_BasicPushPeekCommit(t *testing.T) {
	buf := NewOutbox[int](10, DropNewest)

	for i := 0; i < 5; i++ {
		if !buf.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	if got := drainOutbox(buf); !equalInts(got, []int{0, 1, 2, 3, 4}) {
		t.Errorf("drained %v, want [0 1 2 3 4]", got)
	}

	if _, _, ok := buf.Peek(); ok {
		t.Error("Peek should return false when empty")
	}
}

func TestOutbox_PeekWithoutCommitKeepsHead(t *testing.T) {
	buf := NewOutbox[string](4, DropNewest)
	buf.Push("a")
	buf.Push("b")

	first, _, _ := buf.Peek()
	again, ticket, _ := buf.Peek()
	if first != "a" || again != "a" {
		t.Fatalf("Peek = %q, %q, want a twice", first, again)
	}

	// A newer item must not overtake an undelivered head
	buf.Push("c")
	buf.Commit(ticket)
	buf.Commit(ticket) // stale ticket

	got := drainOutbox(buf)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("drained %v, want [b c]", got)
	}
}

func TestOutbox_CommitAfterEviction(t *testing.T) {
	buf := NewOutbox[int](2, DropOldest)
	buf.Push(1)
	buf.Push(2)

	_, ticket, _ := buf.Peek()
	buf.Push(3) // evicts 1 while it is being delivered
	buf.Commit(ticket)

	if got := drainOutbox(buf); !equalInts(got, []int{2, 3}) {
		t.Errorf("drained %v, want [2 3]", got)
	}
}

func TestOutbox_DropNewest(t *testing.T) {
	buf := NewOutbox[int](3, DropNewest)

	for i := 0; i < 5; i++ {
		buf.Push(i)
	}

	if got := drainOutbox(buf); !equalInts(got, []int{0, 1, 2}) {
		t.Errorf("drained %v, want [0 1 2]", got)
	}

	stats := buf.Stats()
	if stats.TotalDropped != 2 {
		t.Errorf("TotalDropped = %d, want 2", stats.TotalDropped)
	}
	if stats.Capacity != 3 {
		t.Errorf("Capacity = %d, want 3 (outbox never grows)", stats.Capacity)
	}
	if stats.TotalReceived != 5 || stats.TotalSent != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestOutbox_DropOldest(t *testing.T) {
	buf := NewOutbox[int](3, DropOldest)

	for i := 0; i < 5; i++ {
		if !buf.Push(i) {
			t.Fatalf("Push(%d) returned false under DropOldest", i)
		}
	}

	if got := drainOutbox(buf); !equalInts(got, []int{2, 3, 4}) {
		t.Errorf("drained %v, want [2 3 4]", got)
	}
	if buf.Stats().TotalDropped != 2 {
		t.Errorf("TotalDropped = %d, want 2", buf.Stats().TotalDropped)
	}
}

func TestOutbox_UnknownPolicyDefaultsToDropNewest(t *testing.T) {
	buf := NewOutbox[int](1, OverflowPolicy("bogus"))
	buf.Push(1)
	if buf.Push(2) {
		t.Error("Push on full outbox should fail with default policy")
	}
}

func TestOutbox_Wraparound(t *testing.T) {
	buf := NewOutbox[int](4, DropOldest)
	for i := 0; i < 3; i++ {
		buf.Push(i)
	}
	for i := 0; i < 2; i++ {
		_, ticket, _ := buf.Peek()
		buf.Commit(ticket)
	}
	for i := 3; i < 7; i++ {
		buf.Push(i)
	}

	if got := drainOutbox(buf); !equalInts(got, []int{3, 4, 5, 6}) {
		t.Errorf("drained %v, want [3 4 5 6]", got)
	}
}

func TestOutbox_ConcurrentPush(t *testing.T) {
	buf := NewOutbox[int](1000, DropNewest)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buf.Push(w*100 + i)
			}
		}(w)
	}
	wg.Wait()

	if buf.Len() != 1000 {
		t.Errorf("Len() = %d, want 1000", buf.Len())
	}
}
