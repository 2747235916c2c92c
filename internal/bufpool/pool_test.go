package bufpool

import (
	"testing"
)

func TestPool_GetPut(t *testing.T) {
	pool := New(1024)

	b1 := pool.Get()
	if len(*b1) != 1024 {
		t.Errorf("expected buffer length 1024, got %d", len(*b1))
	}
	pool.Put(b1)

	b2 := pool.Get()
	if len(*b2) != 1024 {
		t.Errorf("expected buffer length 1024, got %d", len(*b2))
	}
	if pool.Size() != 1024 {
		t.Errorf("expected Size 1024, got %d", pool.Size())
	}
}

func TestPool_ResliceAfterShortUse(t *testing.T) {
	pool := New(64)
	b := pool.Get()
	*b = (*b)[:10]
	pool.Put(b)

	for i := 0; i < 4; i++ {
		got := pool.Get()
		if len(*got) != 64 {
			t.Fatalf("expected length 64 after reuse, got %d", len(*got))
		}
		pool.Put(got)
	}
}

func TestPool_DropsUndersized(t *testing.T) {
	pool := New(4096)
	small := make([]byte, 1024)
	pool.Put(&small)
	pool.Put(nil)

	b := pool.Get()
	if len(*b) != 4096 {
		t.Errorf("expected buffer length 4096, got %d", len(*b))
	}
}

func TestPool_PanicOnNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("expected panic for size %d", size)
				}
			}()
			New(size)
		}()
	}
}

func TestFor_SharesPoolPerSize(t *testing.T) {
	a := For(512)
	if For(512) != a {
		t.Fatal("For returned different pools for the same size")
	}
	if For(256) == a {
		t.Fatal("For returned the same pool for different sizes")
	}
	if a.Size() != 512 {
		t.Fatalf("Size() = %d, want 512", a.Size())
	}
}
