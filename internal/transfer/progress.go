package transfer

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/darkodi/terabox-bot/internal/format"
	"github.com/darkodi/terabox-bot/internal/logger"
)

// Editor edits a status message in place
type Editor interface {
	EditText(chatID int64, messageID int, text string) error
}

// Reporter renders throttled progress updates into one chat message
type Reporter struct {
	editor    Editor
	chatID    int64
	messageID int
	label     string
	fileName  string
	interval  time.Duration
	now       func() time.Time
	log       *logger.Logger

	start    time.Time
	lastSent time.Time
	sent     bool
}

// NewReporter creates a reporter. A zero messageID disables edits.
func NewReporter(editor Editor, chatID int64, messageID int, label, fileName string, interval time.Duration, now func() time.Time, log *logger.Logger) *Reporter {
	return &Reporter{
		editor:    editor,
		chatID:    chatID,
		messageID: messageID,
		label:     label,
		fileName:  fileName,
		interval:  interval,
		now:       now,
		log:       log,
		start:     now(),
	}
}

// Report edits the status message at most once per interval
func (r *Reporter) Report(done, total uint64) {
	if r.messageID == 0 {
		return
	}

	now := r.now()
	if r.sent && now.Sub(r.lastSent) < r.interval {
		return
	}
	r.sent = true
	r.lastSent = now

	text := Render(r.label, r.fileName, done, total, now.Sub(r.start))
	if err := r.editor.EditText(r.chatID, r.messageID, text); err != nil {
		r.log.Warn().Err(err).Int64("chat_id", r.chatID).Msg("progress update failed")
	}
}

// Render builds the progress message body
func Render(label, fileName string, done, total uint64, elapsed time.Duration) string {
	var speed float64
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(done) / secs
	}

	var eta time.Duration
	if speed > 0 && total > done {
		eta = time.Duration(float64(total-done) / speed * float64(time.Second))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> <code>%s</code>\n", label, html.EscapeString(fileName))
	b.WriteString(format.Bar(done, total) + "\n")
	fmt.Fprintf(&b, "Speed: %s/s\n", format.Size(uint64(speed)))
	fmt.Fprintf(&b, "Time Remaining: %s\n", format.Duration(eta))
	fmt.Fprintf(&b, "Size: %s / %s", format.Size(done), format.Size(total))
	return b.String()
}
