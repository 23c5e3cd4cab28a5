package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
)

// ProgressFunc receives bytes written so far and the expected total (0 if unknown)
type ProgressFunc func(done, total uint64)

// Download streams link into dst in fixed-size chunks, reporting progress after
// each chunk. A partial file is removed on failure.
func (m *Manager) Download(ctx context.Context, link, dst string, total uint64, onProgress ProgressFunc) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, apperrors.Download(err)
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, apperrors.Download(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, apperrors.Download(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if total == 0 && resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, apperrors.Download(err)
	}

	done, err := copyChunks(f, resp.Body, m.cfg.ChunkSize, total, onProgress)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return done, apperrors.Download(err)
	}

	return done, nil
}

func copyChunks(dst io.Writer, src io.Reader, chunkSize int, total uint64, onProgress ProgressFunc) (uint64, error) {
	if chunkSize <= 0 {
		chunkSize = 256 * 1024
	}
	buf := make([]byte, chunkSize)

	var done uint64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return done, err
			}
			done += uint64(n)
			if onProgress != nil {
				onProgress(done, total)
			}
		}
		if readErr == io.EOF {
			return done, nil
		}
		if readErr != nil {
			return done, readErr
		}
	}
}
