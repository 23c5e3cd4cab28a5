package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/model"
	"github.com/darkodi/terabox-bot/internal/telegram"
)

const (
	stagingChat = int64(-100500)
	adminID     = int64(1)
	userChat    = int64(42)
)

// mp4 header so mimetype reports video/mp4
var mp4Payload = append([]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"), bytes.Repeat([]byte{0x7}, 4096)...)

type sentMedia struct {
	media telegram.Media
	body  []byte
}

type fakeMessenger struct {
	mu       sync.Mutex
	edits    []string
	media    []sentMedia
	copies   int
	copyErrs []error
	mediaErr error
}

func (f *fakeMessenger) EditText(_ int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeMessenger) SendMedia(m telegram.Media) (int, error) {
	body, _ := io.ReadAll(m.Reader)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return 0, f.mediaErr
	}
	f.media = append(f.media, sentMedia{media: m, body: body})
	return 900, nil
}

func (f *fakeMessenger) Copy(_, _ int64, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	if len(f.copyErrs) > 0 {
		err := f.copyErrs[0]
		f.copyErrs = f.copyErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return 1000 + f.copies, nil
}

func newTestManager(t *testing.T, msgr *fakeMessenger) *Manager {
	t.Helper()
	m := NewManager(Config{
		DownloadDir:       t.TempDir(),
		MaxFileSize:       4294967296,
		AllowedExtensions: []string{".mp4", ".mkv", ".Mkv", ".webm"},
		ChunkSize:         1024,
		ProgressInterval:  5 * time.Second,
		StagingChatID:     stagingChat,
		BotUsername:       "tera_bot",
	}, msgr, func(id int64) bool { return id == adminID }, logger.Nop())
	m.sleep = func(context.Context, time.Duration) error { return nil }
	return m
}

func fileServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file":
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.Write(payload)
		case "/thumb":
			w.Write([]byte("jpeg-bytes"))
		default:
			http.Error(w, "gone", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// ============ GATES ============

func TestCheck(t *testing.T) {
	m := newTestManager(t, &fakeMessenger{})
	const maxSize = uint64(4294967296)

	tests := []struct {
		name     string
		file     string
		size     uint64
		userID   int64
		expected error
	}{
		{"mp4", "a.mp4", 10, 5, nil},
		{"capital Mkv", "a.Mkv", 10, 5, nil},
		{"webm", "a.webm", 10, 5, nil},
		{"avi rejected", "a.avi", 10, 5, apperrors.ErrUnsupportedType},
		{"upper MP4 rejected", "a.MP4", 10, 5, apperrors.ErrUnsupportedType},
		{"exactly max", "a.mp4", maxSize, 5, nil},
		{"one byte over", "a.mp4", maxSize + 1, 5, apperrors.ErrFileTooLarge},
		{"admin over limit", "a.mp4", maxSize + 1, adminID, nil},
		{"admin still type gated", "a.avi", 10, adminID, apperrors.ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Check(&model.FileMetadata{FileName: tt.file, SizeBytes: tt.size}, tt.userID)
			if tt.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

// ============ DOWNLOAD ============

func TestDownload_ReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 5000)
	srv := fileServer(t, payload)
	m := newTestManager(t, &fakeMessenger{})
	dst := filepath.Join(m.cfg.DownloadDir, "out.bin")

	var calls [][2]uint64
	n, err := m.Download(context.Background(), srv.URL+"/file", dst, 0, func(done, total uint64) {
		calls = append(calls, [2]uint64{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), n)

	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, [2]uint64{5000, 5000}, last, "total falls back to Content-Length")
	for i := 1; i < len(calls); i++ {
		assert.Greater(t, calls[i][0], calls[i-1][0])
	}

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownload_HTTPError(t *testing.T) {
	srv := fileServer(t, nil)
	m := newTestManager(t, &fakeMessenger{})
	dst := filepath.Join(m.cfg.DownloadDir, "out.bin")

	_, err := m.Download(context.Background(), srv.URL+"/missing", dst, 10, nil)
	assert.ErrorIs(t, err, apperrors.ErrDownload)
	assert.NoFileExists(t, dst)
}

func TestDownload_Cancelled(t *testing.T) {
	srv := fileServer(t, mp4Payload)
	m := newTestManager(t, &fakeMessenger{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Download(ctx, srv.URL+"/file", filepath.Join(m.cfg.DownloadDir, "x"), 0, nil)
	assert.ErrorIs(t, err, apperrors.ErrDownload)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============ DELIVER ============

func TestDeliver_Success(t *testing.T) {
	srv := fileServer(t, mp4Payload)
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr)

	res, err := m.Deliver(context.Background(), Request{
		Meta: &model.FileMetadata{
			FileName:     "holiday <1>.mp4",
			SizeBytes:    uint64(len(mp4Payload)),
			DirectLink:   srv.URL + "/file",
			ThumbnailURL: srv.URL + "/thumb",
			ShortCode:    "abc",
		},
		Requester:       model.User{ID: 7, FirstName: "Ada", Username: "ada"},
		ChatID:          userChat,
		StatusMessageID: 55,
	})
	require.NoError(t, err)

	assert.Equal(t, 900, res.StagedMessageID)
	assert.Equal(t, 1001, res.DeliveredMessageID)
	assert.NotEmpty(t, res.Token)

	require.Len(t, msgr.media, 1)
	sent := msgr.media[0]
	assert.Equal(t, stagingChat, sent.media.ChatID)
	assert.Equal(t, "holiday <1>.mp4", sent.media.FileName)
	assert.True(t, sent.media.Video)
	assert.Equal(t, []byte("jpeg-bytes"), sent.media.Thumb)
	assert.Equal(t, mp4Payload, sent.body)
	assert.Contains(t, sent.media.Caption, "holiday &lt;1&gt;.mp4")
	assert.Contains(t, sent.media.Caption, "@ada")
	assert.Contains(t, sent.media.Caption, "https://t.me/tera_bot?start="+res.Token)

	assert.NotEmpty(t, msgr.edits)
	assertDirEmpty(t, m.cfg.DownloadDir)
}

func TestDeliver_NonVideoGoesAsDocument(t *testing.T) {
	srv := fileServer(t, []byte("plain text pretending to be a video"))
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr)

	_, err := m.Deliver(context.Background(), Request{
		Meta:      &model.FileMetadata{FileName: "odd.mkv", DirectLink: srv.URL + "/file"},
		Requester: model.User{ID: 7, FirstName: "Ada"},
		ChatID:    userChat,
	})
	require.NoError(t, err)
	require.Len(t, msgr.media, 1)
	assert.False(t, msgr.media[0].media.Video)
	assert.Nil(t, msgr.media[0].media.Thumb)
	assert.Empty(t, msgr.edits, "no status message")
}

func TestDeliver_CleansUpOnFailure(t *testing.T) {
	tests := []struct {
		name string
		link string
		msgr *fakeMessenger
	}{
		{"download fails", "/missing", &fakeMessenger{}},
		{"upload fails", "/file", &fakeMessenger{mediaErr: errors.New("too big")}},
		{"copy fails twice", "/file", &fakeMessenger{copyErrs: []error{
			apperrors.FloodWait(time.Second, nil),
			apperrors.FloodWait(time.Second, nil),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fileServer(t, mp4Payload)
			m := newTestManager(t, tt.msgr)

			_, err := m.Deliver(context.Background(), Request{
				Meta:      &model.FileMetadata{FileName: "a.mp4", DirectLink: srv.URL + tt.link},
				Requester: model.User{ID: 7},
				ChatID:    userChat,
			})
			assert.Error(t, err)
			assertDirEmpty(t, m.cfg.DownloadDir)
		})
	}
}

func TestDeliver_GateRejectsBeforeDownload(t *testing.T) {
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr)

	_, err := m.Deliver(context.Background(), Request{
		Meta:      &model.FileMetadata{FileName: "a.avi", DirectLink: "http://127.0.0.1:1/never"},
		Requester: model.User{ID: 7},
	})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedType)
	assert.Empty(t, msgr.media)
}

// ============ FORWARD ============

func TestForward_RetriesOnceOnFloodWait(t *testing.T) {
	msgr := &fakeMessenger{copyErrs: []error{apperrors.FloodWait(3*time.Second, nil)}}
	m := newTestManager(t, msgr)

	var slept time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	id, err := m.Forward(context.Background(), userChat, 900)
	require.NoError(t, err)
	assert.Equal(t, 1002, id)
	assert.Equal(t, 2, msgr.copies)
	assert.Equal(t, 3*time.Second, slept)
}

func TestForward_GivesUpAfterSecondFloodWait(t *testing.T) {
	msgr := &fakeMessenger{copyErrs: []error{
		apperrors.FloodWait(3*time.Second, nil),
		apperrors.FloodWait(5*time.Second, nil),
	}}
	m := newTestManager(t, msgr)

	sleeps := 0
	m.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}

	_, err := m.Forward(context.Background(), userChat, 900)
	assert.ErrorIs(t, err, apperrors.ErrFloodWait)
	assert.Equal(t, 2, msgr.copies)
	assert.Equal(t, 1, sleeps)
}

func TestForward_OtherErrorsAreNotRetried(t *testing.T) {
	msgr := &fakeMessenger{copyErrs: []error{errors.New("chat not found")}}
	m := newTestManager(t, msgr)

	_, err := m.Forward(context.Background(), userChat, 900)
	assert.Error(t, err)
	assert.Equal(t, 1, msgr.copies)
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a.mp4", safeName("../../a.mp4"))
	assert.Equal(t, "b.mkv", safeName(`dir\b.mkv`))
	assert.Equal(t, "file", safeName(""))
}
