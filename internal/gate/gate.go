package gate

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/state"
)

// Reason explains a gate decision
type Reason string

const (
	ReasonAllowed Reason = "allowed"
	ReasonAdmin   Reason = "admin"
	ReasonFlood   Reason = "flood"
	ReasonQuota   Reason = "quota"
)

// Decision is the outcome of one gate check
type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
	Usage      int64
	Premium    bool
}

// Config holds flood window and usage counter settings
type Config struct {
	PremiumWindow time.Duration
	FreeWindow    time.Duration
	UsageWindow   time.Duration
	RequestLimit  int
	Enforce       bool // deny once RequestLimit is reached inside UsageWindow
	AdminIDs      []int64
}

// Gate decides whether a user may start a new download
type Gate struct {
	store  state.UserStateStore
	cfg    Config
	admins map[int64]bool
	log    *logger.Logger
}

// New creates a gate
func New(store state.UserStateStore, cfg Config, log *logger.Logger) *Gate {
	admins := make(map[int64]bool, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = true
	}
	return &Gate{store: store, cfg: cfg, admins: admins, log: log}
}

// IsAdmin reports whether userID is a configured administrator
func (g *Gate) IsAdmin(userID int64) bool {
	return g.admins[userID]
}

// Allow checks the flood window and counts the request
func (g *Gate) Allow(ctx context.Context, userID int64) (Decision, error) {
	premium, err := g.store.IsPremium(ctx, userID)
	if err != nil {
		return Decision{}, apperrors.Internal(fmt.Errorf("check premium: %w", err))
	}
	d := Decision{Premium: premium}

	// ============ STEP 1: Admin bypass ============
	if g.IsAdmin(userID) {
		d.Allowed = true
		d.Reason = ReasonAdmin
		d.Usage, err = g.store.IncrementUsage(ctx, userID, g.cfg.UsageWindow)
		if err != nil {
			return Decision{}, apperrors.Internal(fmt.Errorf("count usage: %w", err))
		}
		return d, nil
	}

	// ============ STEP 2: Usage cap ============
	if g.cfg.Enforce && g.cfg.RequestLimit > 0 {
		used, err := g.store.Usage(ctx, userID)
		if err != nil {
			return Decision{}, apperrors.Internal(fmt.Errorf("read usage: %w", err))
		}
		if used >= int64(g.cfg.RequestLimit) {
			d.Reason = ReasonQuota
			d.Usage = used
			d.RetryAfter = g.cfg.UsageWindow
			return d, nil
		}
	}

	// ============ STEP 3: Flood window ============
	window := g.window(premium)
	acquired, err := g.store.TryAcquireFloodSlot(ctx, userID, window)
	if err != nil {
		return Decision{}, apperrors.Internal(fmt.Errorf("acquire flood slot: %w", err))
	}
	if !acquired {
		d.Reason = ReasonFlood
		d.RetryAfter, err = g.store.FloodTTL(ctx, userID)
		if err != nil || d.RetryAfter <= 0 {
			d.RetryAfter = window
		}
		return d, nil
	}

	// ============ STEP 4: Count the request ============
	d.Usage, err = g.store.IncrementUsage(ctx, userID, g.cfg.UsageWindow)
	if err != nil {
		return Decision{}, apperrors.Internal(fmt.Errorf("count usage: %w", err))
	}
	if g.cfg.RequestLimit > 0 && d.Usage > int64(g.cfg.RequestLimit) {
		g.log.Info().
			Int64("user_id", userID).
			Int64("usage", d.Usage).
			Int("limit", g.cfg.RequestLimit).
			Msg("usage above request limit")
	}

	d.Allowed = true
	d.Reason = ReasonAllowed
	return d, nil
}

// Refresh re-arms the flood window after a completed delivery
func (g *Gate) Refresh(ctx context.Context, userID int64) error {
	if g.IsAdmin(userID) {
		return nil
	}
	premium, err := g.store.IsPremium(ctx, userID)
	if err != nil {
		return err
	}
	return g.store.RefreshFloodSlot(ctx, userID, g.window(premium))
}

func (g *Gate) window(premium bool) time.Duration {
	if premium {
		return g.cfg.PremiumWindow
	}
	return g.cfg.FreeWindow
}
