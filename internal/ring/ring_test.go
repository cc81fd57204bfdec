package ring

import "testing"

func TestRingEvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		if _, ok := r.Push(i); ok {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	evicted, ok := r.Push(4)
	if !ok || evicted != 1 {
		t.Fatalf("expected 1 to be evicted, got %d (%v)", evicted, ok)
	}
	got := r.Items()
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("unexpected items: %v", got)
	}
	if r.Len() != 3 || r.Cap() != 3 {
		t.Fatalf("unexpected len/cap %d/%d", r.Len(), r.Cap())
	}
}

func TestRingLastAndNewest(t *testing.T) {
	r := New[string](0)
	if _, ok := r.Newest(); ok {
		t.Fatal("empty ring has no newest element")
	}
	r.Push("a")
	r.Push("b")
	if v, _ := r.Newest(); v != "b" {
		t.Fatalf("newest = %s", v)
	}
	if got := r.Last(5); len(got) != 1 || got[0] != "b" {
		t.Fatalf("capacity clamp broken: %v", got)
	}

	big := New[int](10)
	for i := 0; i < 25; i++ {
		big.Push(i)
	}
	last := big.Last(3)
	if len(last) != 3 || last[0] != 22 || last[2] != 24 {
		t.Fatalf("unexpected last: %v", last)
	}
}
