package state

import (
	"context"
	"sync"
	"time"

	"github.com/darkodi/terabox-bot/internal/logger"
)

// MemoryStore implements UserStateStore in process memory. It is used when no
// Redis address is configured; state is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]*entry
	sets   map[string]map[string]struct{}
	now    func() time.Time
	log    *logger.Logger
}

type entry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithLogger sets the logger used by the cleanup loop
func WithLogger(log *logger.Logger) MemoryOption {
	return func(s *MemoryStore) { s.log = log }
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		values: make(map[string]*entry),
		sets:   make(map[string]map[string]struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ UserStateStore = (*MemoryStore)(nil)

// get returns the live entry for key, dropping it if expired. Caller holds mu.
func (s *MemoryStore) get(key string) (*entry, bool) {
	e, ok := s.values[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.values, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) set(name string) map[string]struct{} {
	set, ok := s.sets[name]
	if !ok {
		set = make(map[string]struct{})
		s.sets[name] = set
	}
	return set
}

func (s *MemoryStore) TryAcquireFloodSlot(_ context.Context, userID int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := FloodKey(userID)
	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.values[key] = &entry{value: 1, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) RefreshFloodSlot(_ context.Context, userID int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[FloodKey(userID)] = &entry{value: 1, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) FloodTTL(_ context.Context, userID int64) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(FloodKey(userID))
	if !ok || e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, userID int64, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := UsageKey(userID)
	e, ok := s.get(key)
	if !ok {
		e = &entry{}
		s.values[key] = e
	}
	e.value++
	e.expiresAt = s.expiry(window)
	return e.value, nil
}

func (s *MemoryStore) Usage(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.get(UsageKey(userID)); ok {
		return e.value, nil
	}
	return 0, nil
}

func (s *MemoryStore) ResetUsage(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := UsageKey(userID)
	_, ok := s.get(key)
	delete(s.values, key)
	return ok, nil
}

func (s *MemoryStore) IsPremium(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sets[KeyPremiumUsers][FloodKey(userID)]
	return ok, nil
}

func (s *MemoryStore) AddPremium(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(KeyPremiumUsers)
	member := FloodKey(userID)
	if _, ok := set[member]; ok {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (s *MemoryStore) RemovePremium(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(KeyPremiumUsers)
	member := FloodKey(userID)
	if _, ok := set[member]; !ok {
		return false, nil
	}
	delete(set, member)
	return true, nil
}

func (s *MemoryStore) PremiumUsers(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.sets[KeyPremiumUsers]))
	for m := range s.sets[KeyPremiumUsers] {
		members = append(members, m)
	}
	return parseIDs(members), nil
}

func (s *MemoryStore) ClearPremium(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.sets[KeyPremiumUsers]))
	delete(s.sets, KeyPremiumUsers)
	return n, nil
}

func (s *MemoryStore) AddGiftCodes(_ context.Context, codes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.set(KeyGiftCodes)
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Redeem(_ context.Context, code string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := s.set(KeyGiftCodes)
	if _, ok := codes[code]; !ok {
		return false, nil
	}
	delete(codes, code)
	s.set(KeyPremiumUsers)[FloodKey(userID)] = struct{}{}
	return true, nil
}

func (s *MemoryStore) CacheMessage(_ context.Context, key string, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[MessageKey(key)] = &entry{value: int64(messageID)}
	return nil
}

func (s *MemoryStore) CachedMessage(_ context.Context, key string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(MessageKey(key))
	if !ok {
		return 0, false, nil
	}
	return int(e.value), true, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// CleanupLoop removes expired entries every interval until ctx is done
func (s *MemoryStore) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, remaining := s.sweep()
			if s.log != nil {
				s.log.Debug().
					Int("removed", removed).
					Int("active_keys", remaining).
					Msg("memory store cleanup")
			}
		}
	}
}

func (s *MemoryStore) sweep() (removed, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.values {
		if e.expired(now) {
			delete(s.values, key)
			removed++
		}
	}
	return removed, len(s.values)
}
