package blockdev

import (
	"testing"

	"github.com/blkmig/blkmigrate"
)

func TestRegistryRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	dev := NewMemory("vda", blkmigrate.ChunkBytes)
	r.Register(dev)

	got, ok := r.Find("vda")
	if !ok {
		t.Fatal("expected to find vda")
	}
	if got.Name() != "vda" {
		t.Fatalf("Name() = %q, want vda", got.Name())
	}

	if _, ok := r.Find("vdx"); ok {
		t.Fatal("expected vdx to be absent")
	}
}

func TestRegistryIterateAllPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMemory("vdc", blkmigrate.ChunkBytes))
	r.Register(NewMemory("vda", blkmigrate.ChunkBytes))
	r.Register(NewMemory("vdb", blkmigrate.ChunkBytes))

	var order []string
	r.IterateAll(func(dev blkmigrate.BlockDevice) bool {
		order = append(order, dev.Name())
		return true
	})

	want := []string{"vdc", "vda", "vdb"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRegistryIterateAllStopsOnFalse(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMemory("vda", blkmigrate.ChunkBytes))
	r.Register(NewMemory("vdb", blkmigrate.ChunkBytes))

	var seen int
	r.IterateAll(func(dev blkmigrate.BlockDevice) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("seen = %d, want 1", seen)
	}
}

func TestRegistryReRegisterReplacesWithoutDuplicatingOrder(t *testing.T) {
	r := NewRegistry()
	first := NewMemory("vda", blkmigrate.ChunkBytes)
	second := NewMemory("vda", 2*blkmigrate.ChunkBytes)
	r.Register(first)
	r.Register(second)

	got, ok := r.Find("vda")
	if !ok {
		t.Fatal("expected to find vda")
	}
	if got.Length() != 2*blkmigrate.ChunkBytes {
		t.Fatalf("Length() = %d, want replaced device's length", got.Length())
	}

	var count int
	r.IterateAll(func(dev blkmigrate.BlockDevice) bool {
		count++
		return true
	})
	if count != 1 {
		t.Fatalf("count = %d, want 1 (no duplicate order entry)", count)
	}
}

func TestRefTableAcquireReleaseCounts(t *testing.T) {
	rt := NewRefTable()
	if rt.HeldCount("vda") != 0 {
		t.Fatal("expected zero initial hold count")
	}

	if err := rt.Acquire("vda"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := rt.Acquire("vda"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := rt.HeldCount("vda"); got != 2 {
		t.Fatalf("HeldCount = %d, want 2", got)
	}

	rt.Release("vda")
	if got := rt.HeldCount("vda"); got != 1 {
		t.Fatalf("HeldCount = %d, want 1", got)
	}

	rt.Release("vda")
	if got := rt.HeldCount("vda"); got != 0 {
		t.Fatalf("HeldCount = %d, want 0", got)
	}
}

func TestRefTableReleaseBelowZeroStaysAtZero(t *testing.T) {
	rt := NewRefTable()
	rt.Release("vda")
	if got := rt.HeldCount("vda"); got != 0 {
		t.Fatalf("HeldCount = %d, want 0", got)
	}
}
