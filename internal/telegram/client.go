package telegram

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/model"
)

// Media is a file upload to a chat
type Media struct {
	ChatID   int64
	FileName string
	Reader   io.Reader
	Thumb    []byte // optional JPEG preview
	Caption  string // HTML
	Video    bool   // send as streamable video instead of document
}

// Client wraps the Bot API with the calls the bot needs
type Client struct {
	bot *tgbotapi.BotAPI
	log *logger.Logger
}

// New connects to the Bot API. An empty endpoint uses the public API; a local
// Bot API server lifts the 50 MB upload limit.
func New(token, endpoint string, debug bool, log *logger.Logger) (*Client, error) {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if endpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(token)
	}
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", err)
	}
	bot.Debug = debug

	return &Client{bot: bot, log: log}, nil
}

// Username returns the bot's @username without the @
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// Updates starts long polling
func (c *Client) Updates(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return c.bot.GetUpdatesChan(u)
}

// Stop ends long polling and closes the updates channel
func (c *Client) Stop() {
	c.bot.StopReceivingUpdates()
}

// Send posts an HTML message
func (c *Client) Send(chatID int64, text string) (int, error) {
	return c.Reply(chatID, 0, text)
}

// Reply posts an HTML message as a reply to replyTo (0 for none)
func (c *Client) Reply(chatID int64, replyTo int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = replyTo

	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, wrapError(err)
	}
	return sent.MessageID, nil
}

// EditText replaces the text of a sent message. Unchanged text is not an error.
func (c *Client) EditText(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	if _, err := c.bot.Request(edit); err != nil {
		if isNotModified(err) {
			return nil
		}
		return wrapError(err)
	}
	return nil
}

// Delete removes a message
func (c *Client) Delete(chatID int64, messageID int) error {
	if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return wrapError(err)
	}
	return nil
}

// Copy copies a message into another chat and returns the new message id
func (c *Client) Copy(toChatID, fromChatID int64, messageID int) (int, error) {
	id, err := c.bot.CopyMessage(tgbotapi.NewCopyMessage(toChatID, fromChatID, messageID))
	if err != nil {
		return 0, wrapError(err)
	}
	return id.MessageID, nil
}

// SendMedia uploads a file as video or document
func (c *Client) SendMedia(m Media) (int, error) {
	file := tgbotapi.FileReader{Name: m.FileName, Reader: m.Reader}

	var thumb tgbotapi.RequestFileData
	if len(m.Thumb) > 0 {
		thumb = tgbotapi.FileBytes{Name: "thumb.jpg", Bytes: m.Thumb}
	}

	var chattable tgbotapi.Chattable
	if m.Video {
		video := tgbotapi.NewVideo(m.ChatID, file)
		video.Caption = m.Caption
		video.ParseMode = tgbotapi.ModeHTML
		video.SupportsStreaming = true
		video.Thumb = thumb
		chattable = video
	} else {
		doc := tgbotapi.NewDocument(m.ChatID, file)
		doc.Caption = m.Caption
		doc.ParseMode = tgbotapi.ModeHTML
		doc.Thumb = thumb
		chattable = doc
	}

	sent, err := c.bot.Send(chattable)
	if err != nil {
		return 0, wrapError(err)
	}
	return sent.MessageID, nil
}

// IsMember reports whether userID belongs to channel ("@name" or numeric id)
func (c *Client) IsMember(channel string, userID int64) (bool, error) {
	chat := tgbotapi.ChatConfigWithUser{UserID: userID}
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		chat.ChatID = id
	} else {
		chat.SuperGroupUsername = "@" + strings.TrimPrefix(channel, "@")
	}

	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: chat})
	if err != nil {
		if isUserNotFound(err) {
			return false, nil
		}
		return false, wrapError(err)
	}

	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		return member.IsMember, nil
	default:
		return false, nil
	}
}

// LookupUser fetches a user's public profile
func (c *Client) LookupUser(userID int64) (model.User, error) {
	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: userID}})
	if err != nil {
		return model.User{}, wrapError(err)
	}
	return model.User{ID: chat.ID, FirstName: chat.FirstName, Username: chat.UserName}, nil
}

// ============================================================
// ERROR MAPPING
// ============================================================

func apiError(err error) (*tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) {
		return ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return &val, true
	}
	return nil, false
}

// wrapError turns 429 responses into FloodWait and 403 into Blocked errors
func wrapError(err error) error {
	apiErr, ok := apiError(err)
	if !ok {
		return err
	}
	if apiErr.Code == 429 || apiErr.RetryAfter > 0 {
		retry := time.Duration(apiErr.RetryAfter) * time.Second
		if retry <= 0 {
			retry = time.Second
		}
		return apperrors.FloodWait(retry, err)
	}
	if apiErr.Code == 403 {
		return apperrors.Blocked(err)
	}
	return err
}

func isNotModified(err error) bool {
	apiErr, ok := apiError(err)
	return ok && strings.Contains(apiErr.Message, "message is not modified")
}

func isUserNotFound(err error) bool {
	apiErr, ok := apiError(err)
	if !ok || apiErr.Code != 400 {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "user not found") || strings.Contains(msg, "participant_id_invalid")
}
