package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/format"
	"github.com/darkodi/terabox-bot/internal/gate"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/model"
	"github.com/darkodi/terabox-bot/internal/state"
	"github.com/darkodi/terabox-bot/internal/transfer"
)

const (
	statusPleaseWait = "Sending you the media, please wait..."
	authAlertEvery   = time.Hour
)

// Messenger is the chat surface the delivery pipeline talks to
type Messenger interface {
	Send(chatID int64, text string) (int, error)
	Reply(chatID int64, replyTo int, text string) (int, error)
	EditText(chatID int64, messageID int, text string) error
	Delete(chatID int64, messageID int) error
	IsMember(channel string, userID int64) (bool, error)
}

// Resolver turns a share link into file metadata
type Resolver interface {
	Resolve(ctx context.Context, shareURL string) (*model.FileMetadata, error)
}

// Transfer moves a resolved file to the requester
type Transfer interface {
	Deliver(ctx context.Context, req transfer.Request) (*transfer.Result, error)
	Forward(ctx context.Context, toChatID int64, stagedID int) (int, error)
}

// Gate decides whether a request may start
type Gate interface {
	Allow(ctx context.Context, userID int64) (gate.Decision, error)
	Refresh(ctx context.Context, userID int64) error
}

// Incoming is a link message ready for processing
type Incoming struct {
	ChatID    int64
	MessageID int
	From      model.User
	Link      model.LinkRecord
}

// Config holds pipeline settings
type Config struct {
	RequiredChannels []string
	AdminIDs         []int64
}

// DeliveryService runs one link message through the whole pipeline
type DeliveryService struct {
	cfg       Config
	messenger Messenger
	gate      Gate
	resolver  Resolver
	transfer  Transfer
	store     state.UserStateStore
	log       *logger.Logger

	mu            sync.Mutex
	lastAuthAlert time.Time
}

// NewDeliveryService creates a new service instance
func NewDeliveryService(cfg Config, messenger Messenger, g Gate, r Resolver, t Transfer, store state.UserStateStore, log *logger.Logger) *DeliveryService {
	return &DeliveryService{
		cfg:       cfg,
		messenger: messenger,
		gate:      g,
		resolver:  r,
		transfer:  t,
		store:     store,
		log:       log,
	}
}

// Handle processes one link message. Every failure is reported to the user
// before it is returned.
func (s *DeliveryService) Handle(ctx context.Context, in Incoming) error {
	log := s.log.With().Int64("user_id", in.From.ID).Str("link", in.Link.RawURL).Logger()

	// ============ STEP 1: Channel membership ============
	for _, channel := range s.cfg.RequiredChannels {
		member, err := s.messenger.IsMember(channel, in.From.ID)
		if err != nil {
			s.reply(in, "Couldn't verify your channel membership, please try again later.")
			return fmt.Errorf("check membership of %s: %w", channel, err)
		}
		if !member {
			s.reply(in, fmt.Sprintf("Please join %s then send me the link again.", html.EscapeString(channel)))
			return nil
		}
	}

	// ============ STEP 2: Share code present? ============
	if !in.Link.HasCode() {
		err := apperrors.NoCode(in.Link.RawURL)
		s.reply(in, apperrors.UserMessage(err))
		return err
	}

	// ============ STEP 3: Rate/quota gate ============
	decision, err := s.gate.Allow(ctx, in.From.ID)
	if err != nil {
		s.reply(in, apperrors.UserMessage(err))
		return fmt.Errorf("gate: %w", err)
	}
	if !decision.Allowed {
		s.reply(in, deniedMessage(decision))
		log.Info().Str("reason", string(decision.Reason)).Dur("retry_after", decision.RetryAfter).Msg("request denied")
		return nil
	}

	statusID, err := s.messenger.Reply(in.ChatID, in.MessageID, statusPleaseWait)
	if err != nil {
		return fmt.Errorf("send status message: %w", err)
	}

	// ============ STEP 4: Already delivered once? ============
	if s.serveCached(ctx, in, statusID) {
		log.Info().Str("short_code", in.Link.HostCode).Msg("served from cache")
		return nil
	}

	// ============ STEP 5: Resolve share ============
	meta, err := s.resolver.Resolve(ctx, in.Link.RawURL)
	if err != nil {
		s.fail(in, statusID, err)
		if errors.Is(err, apperrors.ErrAuthExpired) {
			s.alertAdmins(err)
		}
		return fmt.Errorf("resolve: %w", err)
	}

	// ============ STEP 6: Transfer ============
	result, err := s.transfer.Deliver(ctx, transfer.Request{
		Meta:            meta,
		Requester:       in.From,
		ChatID:          in.ChatID,
		StatusMessageID: statusID,
	})
	if result != nil && result.StagedMessageID != 0 {
		s.cache(ctx, result.StagedMessageID, meta.ShortCode, in.Link.HostCode, result.Token)
	}
	if err != nil {
		s.fail(in, statusID, err)
		return fmt.Errorf("deliver: %w", err)
	}

	// ============ STEP 7: Wrap up ============
	if err := s.messenger.Delete(in.ChatID, statusID); err != nil {
		log.Warn().Err(err).Msg("failed to delete status message")
	}
	if err := s.gate.Refresh(ctx, in.From.ID); err != nil {
		log.Warn().Err(err).Msg("failed to refresh flood window")
	}

	log.Info().
		Str("short_code", meta.ShortCode).
		Str("file", meta.FileName).
		Uint64("size", meta.SizeBytes).
		Dur("elapsed", result.Elapsed).
		Msg("file delivered")

	return nil
}

// ServeToken copies the staged message behind a share token to chatID.
// Anything that is not a uuid is treated as unknown.
func (s *DeliveryService) ServeToken(ctx context.Context, chatID int64, token string) (bool, error) {
	if _, err := uuid.Parse(token); err != nil {
		return false, nil
	}
	stagedID, found, err := s.store.CachedMessage(ctx, token)
	if err != nil || !found {
		return false, err
	}
	if _, err := s.transfer.Forward(ctx, chatID, stagedID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DeliveryService) serveCached(ctx context.Context, in Incoming, statusID int) bool {
	stagedID, found, err := s.store.CachedMessage(ctx, in.Link.HostCode)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache lookup failed")
		return false
	}
	if !found {
		return false
	}

	if _, err := s.transfer.Forward(ctx, in.ChatID, stagedID); err != nil {
		s.log.Warn().Err(err).Int("staged_message_id", stagedID).Msg("cached copy failed, resolving again")
		return false
	}

	if err := s.messenger.Delete(in.ChatID, statusID); err != nil {
		s.log.Warn().Err(err).Msg("failed to delete status message")
	}
	return true
}

func (s *DeliveryService) cache(ctx context.Context, stagedID int, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.store.CacheMessage(ctx, key, stagedID); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to cache staged message")
		}
	}
}

func (s *DeliveryService) fail(in Incoming, statusID int, err error) {
	s.log.Error().Err(err).Int64("user_id", in.From.ID).Msg("delivery failed")

	if editErr := s.messenger.EditText(in.ChatID, statusID, apperrors.UserMessage(err)); editErr != nil {
		s.log.Warn().Err(editErr).Msg("failed to report error to user")
	}
}

func (s *DeliveryService) reply(in Incoming, text string) {
	if _, err := s.messenger.Reply(in.ChatID, in.MessageID, text); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", in.ChatID).Msg("reply failed")
	}
}

// alertAdmins tells admins the session cookie needs replacing, at most once per hour
func (s *DeliveryService) alertAdmins(cause error) {
	s.mu.Lock()
	if !s.lastAuthAlert.IsZero() && time.Since(s.lastAuthAlert) < authAlertEvery {
		s.mu.Unlock()
		return
	}
	s.lastAuthAlert = time.Now()
	s.mu.Unlock()

	text := "⚠️ TeraBox session expired, update TERABOX_COOKIE.\n<code>" + html.EscapeString(cause.Error()) + "</code>"
	for _, id := range s.cfg.AdminIDs {
		if _, err := s.messenger.Send(id, text); err != nil {
			s.log.Warn().Err(err).Int64("admin_id", id).Msg("failed to alert admin")
		}
	}
}

func deniedMessage(d gate.Decision) string {
	switch d.Reason {
	case gate.ReasonQuota:
		return fmt.Sprintf("You've used %d links recently, please try again in %s.", d.Usage, format.Duration(d.RetryAfter))
	default:
		return fmt.Sprintf("Please wait %s before sending another link.", format.Duration(d.RetryAfter))
	}
}
