package urlcache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reelpipe/internal/storage"
	"reelpipe/internal/urlcache"
)

func uploadObject(t *testing.T, mem *storage.Memory) string {
	t.Helper()
	ref, err := mem.Upload(context.Background(), []byte("payload"), "video/mp4")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return ref
}

func TestResolveCachesSignedURL(t *testing.T) {
	mem := storage.NewMemory()
	cache := urlcache.New(mem, time.Minute, 0, nil)
	ref := uploadObject(t, mem)

	first, err := cache.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := cache.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached URL, got %q then %q", first, second)
	}
	if calls := mem.SignCalls(); calls != 1 {
		t.Fatalf("sign calls = %d, want 1", calls)
	}
}

func TestResolveCoalescesConcurrentMisses(t *testing.T) {
	mem := storage.NewMemory()
	cache := urlcache.New(mem, time.Minute, 0, nil)
	ref := uploadObject(t, mem)

	const callers = 16
	urls := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			urls[i], errs[i] = cache.Resolve(context.Background(), ref)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if urls[i] != urls[0] {
			t.Fatalf("caller %d got %q, want %q", i, urls[i], urls[0])
		}
	}
	if calls := mem.SignCalls(); calls != 1 {
		t.Fatalf("sign calls = %d, want 1", calls)
	}
}

func TestResolveExpiresEntries(t *testing.T) {
	mem := storage.NewMemory()
	cache := urlcache.New(mem, time.Minute, 0, nil)
	ref := uploadObject(t, mem)

	current := time.Now()
	cache.SetNow(func() time.Time { return current })

	first, err := cache.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	current = current.Add(2 * time.Minute)
	second, err := cache.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve after expiry failed: %v", err)
	}
	if first == second {
		t.Fatal("expected a fresh URL after the TTL elapsed")
	}
	if calls := mem.SignCalls(); calls != 2 {
		t.Fatalf("sign calls = %d, want 2", calls)
	}
}

func TestResolveDoesNotCacheSignErrors(t *testing.T) {
	mem := storage.NewMemory()
	cache := urlcache.New(mem, time.Minute, 0, nil)
	ref := uploadObject(t, mem)

	mem.FailSigning(errors.New("gateway unavailable"))
	if _, err := cache.Resolve(context.Background(), ref); err == nil {
		t.Fatal("expected signing error")
	}

	mem.FailSigning(nil)
	url, err := cache.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve after recovery failed: %v", err)
	}
	if url == "" {
		t.Fatal("expected a signed URL after recovery")
	}
}

func TestInvalidateForcesResign(t *testing.T) {
	mem := storage.NewMemory()
	cache := urlcache.New(mem, time.Minute, 0, nil)
	ref := uploadObject(t, mem)

	if _, err := cache.Resolve(context.Background(), ref); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	cache.Invalidate(ref)
	if cache.Len() != 0 {
		t.Fatalf("cache len = %d after invalidate, want 0", cache.Len())
	}
	if _, err := cache.Resolve(context.Background(), ref); err != nil {
		t.Fatalf("Resolve after invalidate failed: %v", err)
	}
	if calls := mem.SignCalls(); calls != 2 {
		t.Fatalf("sign calls = %d, want 2", calls)
	}
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	mem := storage.NewMemory()
	cache := urlcache.New(mem, time.Minute, 2, nil)

	refs := make([]string, 3)
	for i := range refs {
		refs[i] = uploadObject(t, mem)
	}

	base := time.Now()
	offset := 0
	cache.SetNow(func() time.Time {
		offset++
		return base.Add(time.Duration(offset) * time.Millisecond)
	})

	for _, ref := range refs {
		if _, err := cache.Resolve(context.Background(), ref); err != nil {
			t.Fatalf("Resolve %s failed: %v", ref, err)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("cache len = %d, want 2", cache.Len())
	}

	// The first reference was evicted; resolving it signs again.
	before := mem.SignCalls()
	if _, err := cache.Resolve(context.Background(), refs[0]); err != nil {
		t.Fatalf("Resolve evicted ref failed: %v", err)
	}
	if mem.SignCalls() != before+1 {
		t.Fatalf("expected a new signing call for the evicted reference")
	}
}

func TestResolveRejectsEmptyReference(t *testing.T) {
	cache := urlcache.New(storage.NewMemory(), time.Minute, 0, nil)
	if _, err := cache.Resolve(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty reference")
	}
}
