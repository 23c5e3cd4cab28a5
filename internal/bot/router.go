package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/matcher"
	"github.com/darkodi/terabox-bot/internal/model"
	"github.com/darkodi/terabox-bot/internal/service"
	"github.com/darkodi/terabox-bot/internal/state"
	"github.com/darkodi/terabox-bot/internal/worker"
)

// Messenger is the chat surface used by command handlers
type Messenger interface {
	Send(chatID int64, text string) (int, error)
	Reply(chatID int64, replyTo int, text string) (int, error)
	EditText(chatID int64, messageID int, text string) error
	LookupUser(userID int64) (model.User, error)
}

// Users is the registry of everyone who has talked to the bot
type Users interface {
	Upsert(ctx context.Context, u model.User) (bool, error)
	Get(ctx context.Context, id int64) (*model.User, error)
	IDs(ctx context.Context) ([]int64, error)
	Delete(ctx context.Context, id int64) error
}

// Delivery runs link messages and share tokens
type Delivery interface {
	Handle(ctx context.Context, in service.Incoming) error
	ServeToken(ctx context.Context, chatID int64, token string) (bool, error)
}

// Submitter queues background work
type Submitter interface {
	Submit(name string, task worker.Task) error
}

// Config holds router settings
type Config struct {
	AdminIDs         []int64
	GiftCodePrefix   string
	GiftCodeInterval time.Duration // pause between gift code replies
	MaxGiftCodes     int
	BroadcastRate    float64 // messages per second
	UsageWindow      time.Duration
}

// Message is the part of a Telegram message the router needs
type Message struct {
	ChatID    int64
	MessageID int
	From      model.User
	Text      string
	Private   bool
}

// Router dispatches updates to command handlers and the delivery pipeline
type Router struct {
	cfg       Config
	messenger Messenger
	store     state.UserStateStore
	users     Users
	matcher   *matcher.Matcher
	pool      Submitter
	delivery  Delivery
	admins    map[int64]bool
	started   time.Time
	sleep     func(context.Context, time.Duration) error
	log       *logger.Logger
}

// NewRouter creates a router
func NewRouter(cfg Config, messenger Messenger, store state.UserStateStore, users Users, m *matcher.Matcher, pool Submitter, delivery Delivery, log *logger.Logger) *Router {
	if cfg.MaxGiftCodes <= 0 {
		cfg.MaxGiftCodes = 50
	}
	admins := make(map[int64]bool, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = true
	}

	return &Router{
		cfg:       cfg,
		messenger: messenger,
		store:     store,
		users:     users,
		matcher:   m,
		pool:      pool,
		delivery:  delivery,
		admins:    admins,
		started:   time.Now(),
		sleep:     sleepContext,
		log:       log,
	}
}

// Run consumes updates until ctx is done or the channel closes
func (r *Router) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	r.log.Info().Msg("listening for updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if msg, ok := FromUpdate(upd); ok {
				r.Dispatch(ctx, msg)
			}
		}
	}
}

// FromUpdate extracts a text message sent by a user
func FromUpdate(upd tgbotapi.Update) (Message, bool) {
	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return Message{}, false
	}
	return Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		From: model.User{
			ID:        m.From.ID,
			FirstName: m.From.FirstName,
			Username:  m.From.UserName,
		},
		Text:    m.Text,
		Private: m.Chat.IsPrivate(),
	}, true
}

// Dispatch handles one message
func (r *Router) Dispatch(ctx context.Context, msg Message) {
	if msg.Private {
		r.register(ctx, msg.From)
	}

	cmd, args, isCommand := parseCommand(msg.Text)
	if !isCommand {
		if msg.Private {
			r.handleText(ctx, msg)
		}
		return
	}

	log := r.log.With().Int64("user_id", msg.From.ID).Str("command", cmd).Logger()
	log.Debug().Msg("command received")

	if handler, ok := r.userCommands()[cmd]; ok {
		handler(ctx, msg, args)
		return
	}

	if handler, ok := r.adminCommands()[cmd]; ok {
		// non-admins get no answer
		if !r.isAdmin(msg.From.ID) {
			log.Warn().Msg("admin command from non-admin")
			return
		}
		handler(ctx, msg, args)
	}
}

type handlerFunc func(ctx context.Context, msg Message, args string)

func (r *Router) userCommands() map[string]handlerFunc {
	return map[string]handlerFunc{
		"start":  r.handleStart,
		"help":   r.handleHelp,
		"info":   r.handleInfo,
		"id":     r.handleInfo,
		"ping":   r.handlePing,
		"plan":   r.handlePlan,
		"redeem": r.handleRedeem,
	}
}

func (r *Router) adminCommands() map[string]handlerFunc {
	return map[string]handlerFunc{
		"gc":                 r.handleGiftCodes,
		"pre":                r.handlePromote,
		"de":                 r.handleDemote,
		"remove":             r.handleResetUsage,
		"premium_users":      r.handlePremiumUsers,
		"demote_all_premium": r.handleDemoteAll,
		"broadcast":          r.handleBroadcast,
	}
}

// handleText sends the first share link in a private message down the pipeline
func (r *Router) handleText(ctx context.Context, msg Message) {
	link, ok := r.matcher.Match(msg.Text)
	if !ok {
		return
	}

	allowed := r.isAdmin(msg.From.ID)
	if !allowed {
		premium, err := r.store.IsPremium(ctx, msg.From.ID)
		if err != nil {
			r.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("premium check failed")
			r.reply(msg, apperrors.UserMessage(err))
			return
		}
		allowed = premium
	}
	if !allowed {
		r.reply(msg, "Link downloads are available to premium users. See /plan to get access.")
		return
	}

	in := service.Incoming{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		From:      msg.From,
		Link:      link,
	}
	err := r.pool.Submit("deliver:"+link.HostCode, func(ctx context.Context) {
		if err := r.delivery.Handle(ctx, in); err != nil {
			r.log.Warn().Err(err).Int64("user_id", in.From.ID).Msg("link not delivered")
		}
	})
	if err != nil {
		r.reply(msg, apperrors.UserMessage(err))
	}
}

// register records the user and tells admins about newcomers
func (r *Router) register(ctx context.Context, u model.User) {
	created, err := r.users.Upsert(ctx, u)
	if err != nil {
		r.log.Error().Err(err).Int64("user_id", u.ID).Msg("failed to register user")
		return
	}
	if created {
		r.log.Info().Int64("user_id", u.ID).Str("user", u.Mention()).Msg("new user")
		r.notifyAdmins(fmt.Sprintf("👤 New user: %s", userLine(u)))
	}
}

func (r *Router) notifyAdmins(text string) {
	for id := range r.admins {
		if _, err := r.messenger.Send(id, text); err != nil {
			r.log.Warn().Err(err).Int64("admin_id", id).Msg("admin notification failed")
		}
	}
}

func (r *Router) reply(msg Message, text string) {
	if _, err := r.messenger.Reply(msg.ChatID, msg.MessageID, text); err != nil {
		r.log.Warn().Err(err).Int64("chat_id", msg.ChatID).Msg("reply failed")
	}
}

func (r *Router) isAdmin(id int64) bool {
	return r.admins[id]
}

// parseCommand splits "/cmd@bot args" into ("cmd", "args", true)
func parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}

	head, args, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(args), true
}

func userLine(u model.User) string {
	line := fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(u.FirstName))
	if u.Username != "" {
		line += " @" + html.EscapeString(u.Username)
	}
	return line + fmt.Sprintf(" (<code>%d</code>)", u.ID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
