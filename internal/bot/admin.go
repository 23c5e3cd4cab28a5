package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
)

// Telegram rejects messages longer than this
const maxMessageLength = 4000

// =============================================================================
// Admin commands
// =============================================================================

func (r *Router) handleGiftCodes(ctx context.Context, msg Message, args string) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 1 || n > r.cfg.MaxGiftCodes {
		r.reply(msg, fmt.Sprintf("Usage: <code>/gc N</code> with N between 1 and %d", r.cfg.MaxGiftCodes))
		return
	}

	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("%s-%s", r.cfg.GiftCodePrefix, uuid.NewString()[:8])
	}
	if err := r.store.AddGiftCodes(ctx, codes...); err != nil {
		r.log.Error().Err(err).Msg("failed to store gift codes")
		r.reply(msg, apperrors.UserMessage(err))
		return
	}
	r.log.Info().Int("count", n).Int64("admin_id", msg.From.ID).Msg("gift codes generated")

	limiter := rate.NewLimiter(rate.Every(r.cfg.GiftCodeInterval), 1)
	err = r.pool.Submit("gift-codes", func(ctx context.Context) {
		for _, code := range codes {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := r.messenger.Send(msg.ChatID, fmt.Sprintf("<code>%s</code>", code)); err != nil {
				r.log.Warn().Err(err).Msg("failed to send gift code")
			}
		}
	})
	if err != nil {
		// codes are stored, send them in one message instead
		r.reply(msg, "<code>"+strings.Join(codes, "</code>\n<code>")+"</code>")
	}
}

func (r *Router) handlePromote(ctx context.Context, msg Message, args string) {
	id, ok := r.parseUserID(msg, args, "pre")
	if !ok {
		return
	}

	added, err := r.store.AddPremium(ctx, id)
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
		return
	}
	if !added {
		r.reply(msg, fmt.Sprintf("<code>%d</code> is already premium.", id))
		return
	}

	r.log.Info().Int64("user_id", id).Int64("admin_id", msg.From.ID).Msg("premium granted")
	r.reply(msg, fmt.Sprintf("✅ <code>%d</code> is now premium.", id))
	if _, err := r.messenger.Send(id, "🎉 You've been upgraded to premium! Send me a TeraBox link."); err != nil {
		r.log.Debug().Err(err).Int64("user_id", id).Msg("could not notify promoted user")
	}
}

func (r *Router) handleDemote(ctx context.Context, msg Message, args string) {
	id, ok := r.parseUserID(msg, args, "de")
	if !ok {
		return
	}

	removed, err := r.store.RemovePremium(ctx, id)
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
		return
	}
	if !removed {
		r.reply(msg, fmt.Sprintf("<code>%d</code> is not premium.", id))
		return
	}

	r.log.Info().Int64("user_id", id).Int64("admin_id", msg.From.ID).Msg("premium revoked")
	r.reply(msg, fmt.Sprintf("<code>%d</code> is no longer premium.", id))
}

func (r *Router) handleResetUsage(ctx context.Context, msg Message, args string) {
	id, ok := r.parseUserID(msg, args, "remove")
	if !ok {
		return
	}

	reset, err := r.store.ResetUsage(ctx, id)
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
		return
	}
	if !reset {
		r.reply(msg, fmt.Sprintf("No usage recorded for <code>%d</code>.", id))
		return
	}
	r.reply(msg, fmt.Sprintf("Usage counter for <code>%d</code> reset.", id))
}

func (r *Router) handlePremiumUsers(ctx context.Context, msg Message, _ string) {
	ids, err := r.store.PremiumUsers(ctx)
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
		return
	}
	if len(ids) == 0 {
		r.reply(msg, "No premium users.")
		return
	}

	lines := make([]string, 0, len(ids)+1)
	lines = append(lines, fmt.Sprintf("<b>Premium users (%d)</b>", len(ids)))
	for i, id := range ids {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, r.describeUser(ctx, id)))
	}

	for _, chunk := range chunkLines(lines, maxMessageLength) {
		if _, err := r.messenger.Send(msg.ChatID, chunk); err != nil {
			r.log.Warn().Err(err).Msg("failed to send premium list")
			return
		}
	}
}

func (r *Router) handleDemoteAll(ctx context.Context, msg Message, _ string) {
	n, err := r.store.ClearPremium(ctx)
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
		return
	}
	r.log.Warn().Int64("count", n).Int64("admin_id", msg.From.ID).Msg("all premium revoked")
	r.reply(msg, fmt.Sprintf("Removed %d premium users.", n))
}

func (r *Router) handleBroadcast(ctx context.Context, msg Message, args string) {
	text := strings.TrimSpace(args)
	if text == "" {
		r.reply(msg, "Usage: <code>/broadcast TEXT</code>")
		return
	}

	ids, err := r.users.IDs(ctx)
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
		return
	}

	r.reply(msg, fmt.Sprintf("📣 Broadcasting to %d users...", len(ids)))
	err = r.pool.Submit("broadcast", func(ctx context.Context) {
		sent, failed := r.broadcast(ctx, ids, text)
		r.log.Info().Int("sent", sent).Int("failed", failed).Msg("broadcast finished")
		r.reply(msg, fmt.Sprintf("📣 Broadcast finished: %d sent, %d failed.", sent, failed))
	})
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
	}
}

// broadcast sends text to every id at BroadcastRate, retrying once on flood wait
func (r *Router) broadcast(ctx context.Context, ids []int64, text string) (sent, failed int) {
	limit := rate.Inf
	if r.cfg.BroadcastRate > 0 {
		limit = rate.Limit(r.cfg.BroadcastRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, id := range ids {
		if err := limiter.Wait(ctx); err != nil {
			return sent, len(ids) - sent
		}

		_, err := r.messenger.Send(id, text)
		if wait, ok := apperrors.RetryAfter(err); ok {
			if r.sleep(ctx, wait) != nil {
				return sent, len(ids) - sent
			}
			_, err = r.messenger.Send(id, text)
		}
		if errors.Is(err, apperrors.ErrBlocked) {
			// the user blocked the bot, stop addressing them
			if delErr := r.users.Delete(ctx, id); delErr != nil {
				r.log.Warn().Err(delErr).Int64("user_id", id).Msg("failed to drop blocked user")
			}
		}
		if err != nil {
			r.log.Debug().Err(err).Int64("user_id", id).Msg("broadcast delivery failed")
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}

// describeUser prefers the local registry, then Telegram, then the bare id
func (r *Router) describeUser(ctx context.Context, id int64) string {
	if u, err := r.users.Get(ctx, id); err == nil {
		return userLine(*u)
	}
	if u, err := r.messenger.LookupUser(id); err == nil {
		return userLine(u)
	}
	return fmt.Sprintf("<code>%d</code>", id)
}

func (r *Router) parseUserID(msg Message, args, command string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id == 0 {
		r.reply(msg, fmt.Sprintf("Usage: <code>/%s USER_ID</code>", html.EscapeString(command)))
		return 0, false
	}
	return id, true
}

func chunkLines(lines []string, limit int) []string {
	var chunks []string
	var b strings.Builder
	for _, line := range lines {
		if b.Len() > 0 && b.Len()+len(line)+1 > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
