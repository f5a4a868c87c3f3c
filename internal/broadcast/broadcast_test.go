package broadcast

import "testing"

func TestFanOutIsolation(t *testing.T) {
	b := New[int]()
	a := b.Subscribe("a", 1)
	other := b.Subscribe("b", 1)

	for i := 0; i < 10; i++ {
		b.Broadcast(i)
		// Subscriber a drains immediately so it never drops.
		<-a.Chan()
	}

	bStats := other.Stats()
	if bStats.TotalDropped < 9 {
		t.Fatalf("expected subscriber b to drop at least 9 messages, got %d", bStats.TotalDropped)
	}
	if bStats.Occupancy > bStats.Capacity {
		t.Fatalf("subscriber b occupancy %d exceeded capacity %d", bStats.Occupancy, bStats.Capacity)
	}
	if bStats.Occupancy > 1 {
		t.Fatalf("subscriber b queue length %d exceeded 1", bStats.Occupancy)
	}
}

func TestUnsubscribeEvictsOnNextBroadcast(t *testing.T) {
	b := New[int]()
	r := b.Subscribe("gone", 1)
	r.Unsubscribe()

	b.Broadcast(1)

	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected evicted subscriber to be removed, subs=%d", n)
	}
}

func TestSentPlusDroppedEqualsBroadcast(t *testing.T) {
	b := New[int]()
	r := b.Subscribe("solo", 4)

	for i := 0; i < 20; i++ {
		b.Broadcast(i)
	}

	stats := r.Stats()
	if stats.TotalSent+stats.TotalDropped != 20 {
		t.Fatalf("sent=%d dropped=%d want sum 20", stats.TotalSent, stats.TotalDropped)
	}
}
