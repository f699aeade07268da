package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
	if id[14] != '7' {
		t.Fatalf("UUIDv7: version nibble %q in %q", id[14], id)
	}
}

func TestUUIDv7_SortsByCreation(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("UUIDv7 not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("op_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "op_") {
		t.Fatalf("got %q, want op_ prefix", id)
	}
	if len(id) != 3+36 {
		t.Fatalf("unexpected length %d for %q", len(id), id)
	}
}

func TestSequential(t *testing.T) {
	gen := Sequential("op_")
	for i, want := range []string{"op_1", "op_2", "op_3"} {
		if got := gen(); got != want {
			t.Fatalf("call %d: got %q, want %q", i, got, want)
		}
	}
}

func TestSequential_Concurrent(t *testing.T) {
	gen := Sequential("")
	var mu sync.Mutex
	seen := make(map[string]struct{}, 400)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := gen()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 400 {
		t.Fatalf("expected 400 unique ids, got %d", len(seen))
	}
}

