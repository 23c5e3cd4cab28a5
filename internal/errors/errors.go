package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// AppError represents a failure of the link or delivery pipeline
type AppError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
	Errno      int           `json:"errno,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Err        error         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so sentinels work with errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ============================================================
// ERROR CODES
// ============================================================

const (
	CodeFetch             = "FETCH_ERROR"
	CodeMissingParameters = "MISSING_PARAMETERS"
	CodeInvalidResponse   = "INVALID_RESPONSE"
	CodeAPI               = "API_ERROR"
	CodeNoFiles           = "NO_FILES_FOUND"
	CodeAuthExpired       = "AUTH_EXPIRED"
	CodeNoCode            = "NO_CODE"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeDownload          = "DOWNLOAD_ERROR"
	CodeFloodWait         = "FLOOD_WAIT"
	CodeQueueFull         = "QUEUE_FULL"
	CodeBlocked           = "BLOCKED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Sentinels for errors.Is
var (
	ErrFetch             = &AppError{Code: CodeFetch}
	ErrMissingParameters = &AppError{Code: CodeMissingParameters}
	ErrInvalidResponse   = &AppError{Code: CodeInvalidResponse}
	ErrAPI               = &AppError{Code: CodeAPI}
	ErrNoFiles           = &AppError{Code: CodeNoFiles}
	ErrAuthExpired       = &AppError{Code: CodeAuthExpired}
	ErrNoCode            = &AppError{Code: CodeNoCode}
	ErrUnsupportedType   = &AppError{Code: CodeUnsupportedType}
	ErrFileTooLarge      = &AppError{Code: CodeFileTooLarge}
	ErrDownload          = &AppError{Code: CodeDownload}
	ErrFloodWait         = &AppError{Code: CodeFloodWait}
	ErrQueueFull         = &AppError{Code: CodeQueueFull}
	ErrInternal          = &AppError{Code: CodeInternal}
	ErrBlocked           = &AppError{Code: CodeBlocked}
)

// ============================================================
// ERROR CONSTRUCTORS
// ============================================================

// Resolver errors
func Fetch(url string, status int, err error) *AppError {
	details := url
	if status != 0 {
		details = fmt.Sprintf("%s (status %d)", url, status)
	}
	return &AppError{
		Code:    CodeFetch,
		Message: "Failed to fetch share page",
		Details: details,
		Err:     err,
	}
}

func MissingParameters(names ...string) *AppError {
	return &AppError{
		Code:    CodeMissingParameters,
		Message: "Required parameters missing from share page",
		Details: strings.Join(names, ", "),
	}
}

func InvalidResponse(err error) *AppError {
	return &AppError{
		Code:    CodeInvalidResponse,
		Message: "List API returned an invalid response",
		Err:     err,
	}
}

func API(errno int) *AppError {
	return &AppError{
		Code:    CodeAPI,
		Message: fmt.Sprintf("List API returned errno %d", errno),
		Errno:   errno,
	}
}

func NoFilesFound() *AppError {
	return &AppError{
		Code:    CodeNoFiles,
		Message: "No files found in share",
	}
}

func AuthExpired(details string) *AppError {
	return &AppError{
		Code:    CodeAuthExpired,
		Message: "Session cookie is no longer valid",
		Details: details,
	}
}

func NoCode(url string) *AppError {
	return &AppError{
		Code:    CodeNoCode,
		Message: "No share code found in link",
		Details: url,
	}
}

// Transfer errors
func UnsupportedType(fileName string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedType,
		Message: "File type is not supported",
		Details: fileName,
	}
}

func FileTooLarge(size, limit uint64) *AppError {
	return &AppError{
		Code:    CodeFileTooLarge,
		Message: "File exceeds the size limit",
		Details: fmt.Sprintf("%d > %d bytes", size, limit),
	}
}

func Download(err error) *AppError {
	return &AppError{
		Code:    CodeDownload,
		Message: "Download failed",
		Err:     err,
	}
}

// Chat transport errors
func FloodWait(retryAfter time.Duration, err error) *AppError {
	return &AppError{
		Code:       CodeFloodWait,
		Message:    "Rate limited by Telegram",
		Details:    "retry after " + retryAfter.String(),
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// Blocked means the chat refuses messages from the bot (403)
func Blocked(err error) *AppError {
	return &AppError{
		Code:    CodeBlocked,
		Message: "Chat unreachable",
		Err:     err,
	}
}

func QueueFull() *AppError {
	return &AppError{
		Code:    CodeQueueFull,
		Message: "Task queue is full",
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
		Err:     err,
	}
}

// ============================================================
// HELPERS
// ============================================================

// As returns the first *AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// RetryAfter reports the flood wait carried by err, if any
func RetryAfter(err error) (time.Duration, bool) {
	appErr, ok := As(err)
	if !ok || appErr.Code != CodeFloodWait {
		return 0, false
	}
	return appErr.RetryAfter, true
}

// UserMessage maps err to the text shown to the requester
func UserMessage(err error) string {
	appErr, ok := As(err)
	if !ok {
		return "Something went wrong, please try again later."
	}

	switch appErr.Code {
	case CodeNoCode:
		return "No share code found in that link."
	case CodeFetch, CodeMissingParameters, CodeInvalidResponse:
		return "Couldn't read that share. The link may be invalid or expired."
	case CodeAPI:
		return fmt.Sprintf("TeraBox rejected the request (errno %d).", appErr.Errno)
	case CodeNoFiles:
		return "That share does not contain any files."
	case CodeAuthExpired:
		return "The downloader is temporarily unavailable. Admins have been notified."
	case CodeUnsupportedType:
		return "Unsupported file type. Only video files can be sent."
	case CodeFileTooLarge:
		return "The file is too large to send."
	case CodeDownload:
		return "Download failed, please try again later."
	case CodeFloodWait:
		return fmt.Sprintf("Telegram is rate limiting me, try again in %s.", appErr.RetryAfter)
	case CodeQueueFull:
		return "I'm busy right now, please try again in a minute."
	case CodeInternal:
		return "Something went wrong on my side, please try again later."
	default:
		return "Something went wrong, please try again later."
	}
}
