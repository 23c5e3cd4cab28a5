package transfer

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/format"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/model"
	"github.com/darkodi/terabox-bot/internal/telegram"
)

// Telegram rejects thumbnails above 200 kB
const maxThumbSize = 200 * 1024

// Messenger is the chat surface used during a transfer
type Messenger interface {
	EditText(chatID int64, messageID int, text string) error
	SendMedia(m telegram.Media) (int, error)
	Copy(toChatID, fromChatID int64, messageID int) (int, error)
}

// Config holds transfer settings
type Config struct {
	DownloadDir       string
	MaxFileSize       uint64
	AllowedExtensions []string
	ChunkSize         int
	ProgressInterval  time.Duration
	StagingChatID     int64
	UserAgent         string
	BotUsername       string
}

// Request is one file to deliver
type Request struct {
	Meta            *model.FileMetadata
	Requester       model.User
	ChatID          int64
	StatusMessageID int // progress message to edit, 0 for none
}

// Result describes a completed delivery
type Result struct {
	Token              string // share token, also the cache key for the staged message
	StagedMessageID    int
	DeliveredMessageID int
	Elapsed            time.Duration
}

// Manager downloads, stages and forwards files
type Manager struct {
	cfg       Config
	messenger Messenger
	client    *http.Client
	isAdmin   func(int64) bool
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	log       *logger.Logger
}

// NewManager creates a transfer manager
func NewManager(cfg Config, messenger Messenger, isAdmin func(int64) bool, log *logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		messenger: messenger,
		// no client timeout: large files are bounded by the task context
		client:  &http.Client{},
		isAdmin: isAdmin,
		now:     time.Now,
		sleep:   sleepContext,
		log:     log,
	}
}

// Deliver downloads the file, uploads it to the staging chat and copies it to
// the requester. The temporary file is removed on every path.
func (m *Manager) Deliver(ctx context.Context, req Request) (*Result, error) {
	start := m.now()
	meta := req.Meta

	// ============ STEP 1: Type and size gates ============
	if err := m.Check(meta, req.Requester.ID); err != nil {
		return nil, err
	}

	// ============ STEP 2: Download ============
	if err := os.MkdirAll(m.cfg.DownloadDir, 0o755); err != nil {
		return nil, apperrors.Download(fmt.Errorf("create download dir: %w", err))
	}

	token := uuid.NewString()
	path := filepath.Join(m.cfg.DownloadDir, token+"-"+safeName(meta.FileName))
	defer m.cleanup(path)

	reporter := NewReporter(m.messenger, req.ChatID, req.StatusMessageID, "Downloading", meta.FileName, m.cfg.ProgressInterval, m.now, m.log)
	if _, err := m.Download(ctx, meta.DirectLink, path, meta.SizeBytes, reporter.Report); err != nil {
		return nil, err
	}

	// ============ STEP 3: Upload to staging chat ============
	m.status(req, fmt.Sprintf("<b>Uploading</b> <code>%s</code>...", html.EscapeString(meta.FileName)))

	stagedID, err := m.upload(ctx, req, path, token, m.now().Sub(start))
	if err != nil {
		return nil, err
	}
	m.cleanup(path)

	// ============ STEP 4: Copy to requester ============
	deliveredID, err := m.Forward(ctx, req.ChatID, stagedID)
	if err != nil {
		return &Result{Token: token, StagedMessageID: stagedID, Elapsed: m.now().Sub(start)}, err
	}

	return &Result{
		Token:              token,
		StagedMessageID:    stagedID,
		DeliveredMessageID: deliveredID,
		Elapsed:            m.now().Sub(start),
	}, nil
}

// Forward copies a staged message into toChatID, waiting out one flood wait
func (m *Manager) Forward(ctx context.Context, toChatID int64, stagedID int) (int, error) {
	id, err := m.messenger.Copy(toChatID, m.cfg.StagingChatID, stagedID)
	if err == nil {
		return id, nil
	}

	retry, ok := apperrors.RetryAfter(err)
	if !ok {
		return 0, err
	}

	m.log.Warn().
		Int64("chat_id", toChatID).
		Dur("retry_after", retry).
		Msg("flood wait while copying, retrying once")

	if err := m.sleep(ctx, retry); err != nil {
		return 0, err
	}
	return m.messenger.Copy(toChatID, m.cfg.StagingChatID, stagedID)
}

func (m *Manager) upload(ctx context.Context, req Request, path, token string, elapsed time.Duration) (int, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, apperrors.Download(fmt.Errorf("detect file type: %w", err))
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.Download(err)
	}
	defer f.Close()

	media := telegram.Media{
		ChatID:   m.cfg.StagingChatID,
		FileName: req.Meta.FileName,
		Reader:   f,
		Thumb:    m.fetchThumbnail(ctx, req.Meta.ThumbnailURL),
		Caption:  m.caption(req, token, elapsed),
		Video:    strings.HasPrefix(mtype.String(), "video/"),
	}

	id, err := m.messenger.SendMedia(media)
	if err != nil {
		return 0, fmt.Errorf("upload to staging chat: %w", err)
	}

	m.log.Info().
		Str("file", req.Meta.FileName).
		Str("mime", mtype.String()).
		Int("staged_message_id", id).
		Msg("file staged")

	return id, nil
}

// fetchThumbnail downloads the preview image. Failures return nil.
func (m *Manager) fetchThumbnail(ctx context.Context, thumbURL string) []byte {
	if thumbURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Debug().Err(err).Msg("thumbnail fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxThumbSize+1))
	if err != nil || len(data) == 0 || len(data) > maxThumbSize {
		return nil
	}
	return data
}

func (m *Manager) caption(req Request, token string, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>File:</b> <code>%s</code>\n", html.EscapeString(req.Meta.FileName))
	fmt.Fprintf(&b, "<b>Size:</b> %s\n", format.Size(req.Meta.SizeBytes))
	fmt.Fprintf(&b, "<b>Requested by:</b> <a href=\"tg://user?id=%d\">%s</a>",
		req.Requester.ID, html.EscapeString(req.Requester.FirstName))
	if req.Requester.Username != "" {
		fmt.Fprintf(&b, " (@%s)", html.EscapeString(req.Requester.Username))
	}
	fmt.Fprintf(&b, "\n<b>Time taken:</b> %s", format.Duration(elapsed))
	if m.cfg.BotUsername != "" {
		fmt.Fprintf(&b, "\n<b>Share:</b> https://t.me/%s?start=%s", m.cfg.BotUsername, token)
	}
	return b.String()
}

func (m *Manager) status(req Request, text string) {
	if req.StatusMessageID == 0 {
		return
	}
	if err := m.messenger.EditText(req.ChatID, req.StatusMessageID, text); err != nil {
		m.log.Warn().Err(err).Int64("chat_id", req.ChatID).Msg("status update failed")
	}
}

func (m *Manager) cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Error().Err(err).Str("path", path).Msg("failed to remove temp file")
	}
}

func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
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
