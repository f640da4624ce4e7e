package core

import (
	"context"
	"sort"
	"sync"
)

// ClaimLocker hands out short-lived exclusive claims on alert IDs so that a
// scheduled batch run and an event-triggered run cannot both act on the same
// alert. A claim that cannot be taken immediately is reported as not acquired;
// callers skip the alert rather than wait.
type ClaimLocker interface {
	Claim(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// MemoryClaimLocker is an in-process ClaimLocker.
type MemoryClaimLocker struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

// NewMemoryClaimLocker creates an empty in-process locker
func NewMemoryClaimLocker() *MemoryClaimLocker {
	return &MemoryClaimLocker{claims: make(map[string]struct{})}
}

// Claim takes the key if nobody holds it.
func (l *MemoryClaimLocker) Claim(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.claims[key]; held {
		return func() {}, false, nil
	}
	l.claims[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.claims, key)
			l.mu.Unlock()
		})
	}, true, nil
}

// ClaimAll claims every key in sorted order. If any key is unavailable, the
// claims already taken are released and acquired is false.
func ClaimAll(ctx context.Context, locker ClaimLocker, keys []string) (release func(), acquired bool, err error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range sorted {
		rel, ok, err := locker.Claim(ctx, key)
		if err != nil || !ok {
			releaseAll()
			return func() {}, false, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, true, nil
}
