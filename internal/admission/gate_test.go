package admission

import "testing"

func TestGate_TryAcquireUpToCapacity(t *testing.T) {
	g := NewGate(2)
	if g.Capacity() != 2 {
		t.Fatalf("capacity = %d", g.Capacity())
	}
	if !g.TryAcquire() || !g.TryAcquire() {
		t.Fatal("first two acquires must succeed")
	}
	if g.TryAcquire() {
		t.Fatal("third acquire must fail")
	}
	if g.InUse() != 2 {
		t.Fatalf("in use = %d", g.InUse())
	}

	g.Release()
	if g.InUse() != 1 {
		t.Fatalf("in use after release = %d", g.InUse())
	}
	if !g.TryAcquire() {
		t.Fatal("slot must be reusable after release")
	}
}

func TestGate_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	g := NewGate(1)
	g.Release()
	if g.InUse() != 0 {
		t.Fatalf("in use = %d", g.InUse())
	}
}

func TestGate_MinimumCapacityIsOne(t *testing.T) {
	for _, n := range []int{0, -3} {
		g := NewGate(n)
		if g.Capacity() != 1 {
			t.Fatalf("NewGate(%d).Capacity() = %d, want 1", n, g.Capacity())
		}
	}
}
