package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/format"
)

const planText = `<b>Plans</b>

<b>Free</b>
• Commands only, no link downloads

<b>Premium</b>
• TeraBox links downloaded and sent as video
• 30 second wait between links
• Cached links are served instantly

Ask an admin for a gift code, then send <code>/redeem CODE</code>.`

// =============================================================================
// User commands
// =============================================================================

func (r *Router) handleStart(ctx context.Context, msg Message, args string) {
	if args != "" {
		found, err := r.delivery.ServeToken(ctx, msg.ChatID, args)
		if err != nil {
			r.log.Error().Err(err).Str("token", args).Msg("failed to serve token")
			r.reply(msg, apperrors.UserMessage(err))
			return
		}
		if found {
			return
		}
		r.reply(msg, "That link has expired. Send the TeraBox link again.")
		return
	}

	name := html.EscapeString(msg.From.FirstName)
	if r.canDownload(ctx, msg.From.ID) {
		r.reply(msg, fmt.Sprintf("Hi %s! Send me a TeraBox link and I'll send you the video.", name))
		return
	}
	r.reply(msg, fmt.Sprintf("Hi %s! You're on the free plan. See /plan to unlock link downloads.", name))
}

func (r *Router) handleHelp(_ context.Context, msg Message, _ string) {
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	b.WriteString("/start - welcome message\n")
	b.WriteString("/plan - available plans\n")
	b.WriteString("/redeem CODE - activate premium\n")
	b.WriteString("/info - your account\n")
	b.WriteString("/ping - check the bot\n")

	if r.isAdmin(msg.From.ID) {
		b.WriteString("\n<b>Admin</b>\n")
		b.WriteString("/gc N - generate gift codes\n")
		b.WriteString("/pre ID - grant premium\n")
		b.WriteString("/de ID - revoke premium\n")
		b.WriteString("/remove ID - reset usage counter\n")
		b.WriteString("/premium_users - list premium users\n")
		b.WriteString("/demote_all_premium - revoke all premium\n")
		b.WriteString("/broadcast TEXT - message every user\n")
	}
	r.reply(msg, b.String())
}

func (r *Router) handleInfo(ctx context.Context, msg Message, _ string) {
	plan := "Free"
	switch {
	case r.isAdmin(msg.From.ID):
		plan = "Admin"
	case r.isPremium(ctx, msg.From.ID):
		plan = "Premium"
	}

	usage, err := r.store.Usage(ctx, msg.From.ID)
	if err != nil {
		r.log.Warn().Err(err).Int64("user_id", msg.From.ID).Msg("usage lookup failed")
	}

	username := "-"
	if msg.From.Username != "" {
		username = "@" + html.EscapeString(msg.From.Username)
	}

	text := fmt.Sprintf("<b>Name:</b> %s\n<b>Username:</b> %s\n<b>ID:</b> <code>%d</code>\n<b>Plan:</b> %s\n<b>Links in the last %s:</b> %d",
		html.EscapeString(msg.From.FirstName), username, msg.From.ID, plan, format.Duration(r.cfg.UsageWindow), usage)
	r.reply(msg, text)
}

func (r *Router) handlePing(_ context.Context, msg Message, _ string) {
	start := time.Now()
	id, err := r.messenger.Reply(msg.ChatID, msg.MessageID, "Pinging...")
	if err != nil {
		r.log.Warn().Err(err).Msg("ping reply failed")
		return
	}

	text := fmt.Sprintf("🏓 Pong! %d ms\nUptime: %s", time.Since(start).Milliseconds(), format.Duration(time.Since(r.started)))
	if err := r.messenger.EditText(msg.ChatID, id, text); err != nil {
		r.log.Warn().Err(err).Msg("ping edit failed")
	}
}

func (r *Router) handlePlan(_ context.Context, msg Message, _ string) {
	r.reply(msg, planText)
}

func (r *Router) handleRedeem(ctx context.Context, msg Message, args string) {
	code := strings.TrimSpace(args)
	if code == "" {
		r.reply(msg, "Usage: <code>/redeem CODE</code>")
		return
	}

	if r.isPremium(ctx, msg.From.ID) {
		r.reply(msg, "You already have premium.")
		return
	}

	ok, err := r.store.Redeem(ctx, code, msg.From.ID)
	if err != nil {
		r.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("redeem failed")
		r.reply(msg, apperrors.UserMessage(err))
		return
	}
	if !ok {
		r.reply(msg, "Invalid or already used code.")
		return
	}

	r.log.Info().Int64("user_id", msg.From.ID).Msg("gift code redeemed")
	r.reply(msg, "🎉 Premium activated! Send me a TeraBox link.")
	r.notifyAdmins(fmt.Sprintf("🎁 %s redeemed <code>%s</code>", userLine(msg.From), html.EscapeString(code)))
}

func (r *Router) canDownload(ctx context.Context, userID int64) bool {
	return r.isAdmin(userID) || r.isPremium(ctx, userID)
}

func (r *Router) isPremium(ctx context.Context, userID int64) bool {
	premium, err := r.store.IsPremium(ctx, userID)
	if err != nil {
		r.log.Warn().Err(err).Int64("user_id", userID).Msg("premium lookup failed")
		return false
	}
	return premium
}
