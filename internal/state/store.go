// Package state holds per-user quota markers, premium membership, gift codes
// and the delivery cache behind one store interface.
package state

import (
	"context"
	"strconv"
	"time"
)

const (
	KeyPremiumUsers = "premium_users"
	KeyGiftCodes    = "gift_codes"
)

// FloodKey is the flood marker key for a user
func FloodKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// MessageKey is the key under which a staged message id is cached. The prefix
// keeps user supplied codes and tokens away from the flood, usage and set keys.
func MessageKey(key string) string {
	return "msg:" + key
}

// UsageKey is the rolling usage counter key for a user
func UsageKey(userID int64) string {
	return "check_" + strconv.FormatInt(userID, 10)
}

// UserStateStore is the external key-value state shared by the gate, the
// delivery pipeline and the admin commands.
type UserStateStore interface {
	// TryAcquireFloodSlot sets the flood marker if absent. It returns false
	// when the user is still inside a previous window.
	TryAcquireFloodSlot(ctx context.Context, userID int64, ttl time.Duration) (bool, error)
	// RefreshFloodSlot sets the flood marker unconditionally.
	RefreshFloodSlot(ctx context.Context, userID int64, ttl time.Duration) error
	// FloodTTL returns the time left on the flood marker, zero if none.
	FloodTTL(ctx context.Context, userID int64) (time.Duration, error)

	// IncrementUsage bumps the usage counter and re-arms its expiry.
	IncrementUsage(ctx context.Context, userID int64, window time.Duration) (int64, error)
	Usage(ctx context.Context, userID int64) (int64, error)
	ResetUsage(ctx context.Context, userID int64) (bool, error)

	IsPremium(ctx context.Context, userID int64) (bool, error)
	AddPremium(ctx context.Context, userID int64) (bool, error)
	RemovePremium(ctx context.Context, userID int64) (bool, error)
	PremiumUsers(ctx context.Context) ([]int64, error)
	ClearPremium(ctx context.Context) (int64, error)

	AddGiftCodes(ctx context.Context, codes ...string) error
	// Redeem consumes code and grants premium. It returns false if the code
	// does not exist or was already used.
	Redeem(ctx context.Context, code string, userID int64) (bool, error)

	CacheMessage(ctx context.Context, key string, messageID int) error
	CachedMessage(ctx context.Context, key string) (int, bool, error)

	Ping(ctx context.Context) error
}

func parseIDs(members []string) []int64 {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
