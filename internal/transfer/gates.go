package transfer

import (
	"strings"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/model"
)

// Check applies the type and size gates. Extensions match case-sensitively.
// Administrators are exempt from the size limit only.
func (m *Manager) Check(meta *model.FileMetadata, userID int64) error {
	if !m.allowedType(meta.FileName) {
		return apperrors.UnsupportedType(meta.FileName)
	}

	if meta.SizeBytes > m.cfg.MaxFileSize && !m.isAdmin(userID) {
		return apperrors.FileTooLarge(meta.SizeBytes, m.cfg.MaxFileSize)
	}

	return nil
}

func (m *Manager) allowedType(fileName string) bool {
	for _, ext := range m.cfg.AllowedExtensions {
		if strings.HasSuffix(fileName, ext) {
			return true
		}
	}
	return false
}
