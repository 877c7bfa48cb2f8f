package encoder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCacheHitAndNormalization(t *testing.T) {
	c := NewCache(10, time.Hour)

	vec := []float32{1, 2, 3}
	c.Put("Hello   World", vec)

	got := c.Get("hello world")
	if got == nil {
		t.Fatal("expected hit after whitespace/case normalization")
	}
	if len(got) != 3 || got[0] != 1 {
		t.Errorf("vector mismatch: %v", got)
	}

	// returned slice is a copy
	got[0] = 99
	again := c.Get("Hello World")
	if again[0] != 1 {
		t.Error("cached vector was mutated through a returned slice")
	}

	if c.Get("different text") != nil {
		t.Error("expected miss for unseen text")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(10, time.Minute)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }

	c.Put("key text", []float32{1})

	now = base.Add(30 * time.Second)
	if c.Get("key text") == nil {
		t.Fatal("entry expired too early")
	}

	now = base.Add(2 * time.Minute)
	if c.Get("key text") != nil {
		t.Fatal("expected expiry after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, len=%d", c.Len())
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(3, time.Hour)

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("text %d", i), []float32{float32(i)})
	}

	// touch 0 so 1 becomes the eviction candidate
	if c.Get("text 0") == nil {
		t.Fatal("expected hit for text 0")
	}

	c.Put("text 3", []float32{3})

	if c.Get("text 1") != nil {
		t.Error("expected text 1 to be evicted")
	}
	if c.Get("text 0") == nil {
		t.Error("recently used entry was evicted")
	}
	if c.Get("text 3") == nil {
		t.Error("newest entry missing")
	}
	if c.Len() != 3 {
		t.Errorf("expected len 3, got %d", c.Len())
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache(10, time.Hour)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, len=%d", c.Len())
	}
	if c.Get("a") != nil {
		t.Error("expected miss after clear")
	}
}

type countingEncoder struct {
	calls int
	vec   []float32
}

func (e *countingEncoder) Encode(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	return e.vec, nil
}

func TestCachedEncoderMemoizes(t *testing.T) {
	inner := &countingEncoder{vec: []float32{0.5, 0.5}}
	enc := Cached(inner, NewCache(10, time.Hour))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		vec, err := enc.Encode(ctx, "same text")
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if len(vec) != 2 {
			t.Fatalf("unexpected vector: %v", vec)
		}
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", inner.calls)
	}

	if _, err := enc.Encode(ctx, "other text"); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 backend calls, got %d", inner.calls)
	}
}

func TestCacheConcurrentGetPut(t *testing.T) {
	c := NewCache(64, time.Hour)

	// each key always maps to the same vector, so any hit must return it
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("text %d", j%32)
				want := float32(j % 32)
				if vec := c.Get(key); vec != nil && vec[0] != want {
					t.Errorf("corrupted entry for %q: got %v, want %v", key, vec[0], want)
				}
				c.Put(key, []float32{want})
			}
		}()
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("size bound exceeded: %d entries", c.Len())
	}
	for j := 0; j < 32; j++ {
		key := fmt.Sprintf("text %d", j)
		vec := c.Get(key)
		if vec == nil || vec[0] != float32(j) {
			t.Errorf("entry for %q lost or corrupted: %v", key, vec)
		}
	}
}
