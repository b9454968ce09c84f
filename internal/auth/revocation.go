package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired revocations are evicted when
// no interval is configured.
const DefaultSweepInterval = 24 * time.Hour

// ExpiryDecoder extracts the expiry of a token. TokenCodec satisfies it.
type ExpiryDecoder interface {
	Expiry(token string) (time.Time, error)
}

// RevocationStore is the in-process set of tokens invalidated before their
// natural expiry. Entries are keyed on the raw token string.
//
// Once Contains reports true for a token it keeps doing so until a sweep
// observes that the token has expired. Entries that no longer decode are
// evicted by the sweep as well, since they can never authenticate.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Sweep holds the lock only for each individual removal.
type RevocationStore struct {
	mu      sync.RWMutex
	entries map[string]struct{}

	decoder  ExpiryDecoder
	logger   *slog.Logger
	recorder Recorder
}

// NewRevocationStore creates an empty store that uses decoder to find expiries.
func NewRevocationStore(decoder ExpiryDecoder, logger *slog.Logger) *RevocationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevocationStore{
		entries:  make(map[string]struct{}),
		decoder:  decoder,
		logger:   logger,
		recorder: NopRecorder{},
	}
}

// SetRecorder installs a metrics recorder. It must be called before the
// store is shared between goroutines.
func (s *RevocationStore) SetRecorder(r Recorder) {
	if r == nil {
		r = NopRecorder{}
	}
	s.recorder = r
}

// Add revokes token. Adding the same token again has no further effect.
func (s *RevocationStore) Add(token string) {
	s.mu.Lock()
	s.entries[token] = struct{}{}
	n := len(s.entries)
	s.mu.Unlock()

	s.recorder.TokenRevoked(n)
}

// Contains reports whether token has been revoked.
func (s *RevocationStore) Contains(token string) bool {
	s.mu.RLock()
	_, ok := s.entries[token]
	s.mu.RUnlock()
	return ok
}

// Len returns the number of tracked revocations.
func (s *RevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes every entry whose expiry is at or before now, and every
// entry that fails to decode. It returns the number removed.
func (s *RevocationStore) Sweep(now time.Time) int {
	s.mu.RLock()
	snapshot := make([]string, 0, len(s.entries))
	for token := range s.entries {
		snapshot = append(snapshot, token)
	}
	s.mu.RUnlock()

	removed := 0
	for _, token := range snapshot {
		exp, err := s.decoder.Expiry(token)
		if err == nil && now.Before(exp) {
			continue
		}

		s.mu.Lock()
		if _, ok := s.entries[token]; ok {
			delete(s.entries, token)
			removed++
		}
		s.mu.Unlock()
	}

	s.recorder.RevocationsSwept(removed, s.Len())
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *RevocationStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := s.Sweep(now)
			s.logger.Info("revocation sweep complete",
				"removed", removed,
				"remaining", s.Len(),
			)
		}
	}
}
