package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/matcher"
	"github.com/darkodi/terabox-bot/internal/model"
)

const (
	appID = "250528"

	// errno the list API returns when the session is not logged in
	errnoNotLoggedIn = -6

	maxPageSize = 8 << 20
)

// Config holds resolver settings
type Config struct {
	Cookie          string
	CookieExpiresAt time.Time
	ListURL         string
	UserAgent       string
	Timeout         time.Duration
}

// Status is the outcome of the most recent session check
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Resolver turns a share link into file metadata and a direct download link
// using one cookie-bearing session.
type Resolver struct {
	cfg        Config
	client     *http.Client
	headClient *http.Client
	now        func() time.Time
	log        *logger.Logger

	mu     sync.RWMutex
	status Status
}

// New creates a resolver
func New(cfg Config, log *logger.Logger) (*Resolver, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	client := &http.Client{Jar: jar, Timeout: cfg.Timeout}
	headClient := &http.Client{
		Jar:     jar,
		Timeout: cfg.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Resolver{
		cfg:        cfg,
		client:     client,
		headClient: headClient,
		now:        time.Now,
		log:        log,
		status:     Status{Healthy: cfg.Cookie != ""},
	}, nil
}

// Resolve runs the full scrape for shareURL
func (r *Resolver) Resolve(ctx context.Context, shareURL string) (*model.FileMetadata, error) {
	meta, err := r.resolve(ctx, shareURL)
	if errors.Is(err, apperrors.ErrAuthExpired) {
		r.setStatus(err)
	}
	return meta, err
}

func (r *Resolver) resolve(ctx context.Context, shareURL string) (*model.FileMetadata, error) {
	// ============ STEP 0: Session still valid? ============
	if !r.cfg.CookieExpiresAt.IsZero() && r.now().After(r.cfg.CookieExpiresAt) {
		return nil, apperrors.AuthExpired("cookie expired at " + r.cfg.CookieExpiresAt.Format(time.RFC3339))
	}

	// ============ STEP 1: Fetch share page ============
	body, finalURL, err := r.fetchPage(ctx, shareURL)
	if err != nil {
		return nil, err
	}

	// ============ STEP 2: Extract page tokens ============
	params, err := extractParams(body, finalURL, shareURL)
	if err != nil {
		return nil, err
	}

	// ============ STEP 3: Query list API ============
	entry, err := r.fetchFirstEntry(ctx, params)
	if err != nil {
		return nil, err
	}

	// ============ STEP 4: Build metadata ============
	meta := &model.FileMetadata{
		FileName:     entry.ServerFilename,
		SizeBytes:    entry.Size,
		DLink:        entry.Dlink,
		ThumbnailURL: entry.Thumbs.URL3,
		ShortCode:    params.shortCode,
	}
	if meta.ThumbnailURL == "" {
		meta.ThumbnailURL = params.ogImage
	}

	// ============ STEP 5: Resolve direct link ============
	meta.DirectLink, err = r.directLink(ctx, entry.Dlink)
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Str("short_code", meta.ShortCode).
		Str("file", meta.FileName).
		Uint64("size", meta.SizeBytes).
		Msg("share resolved")

	return meta, nil
}

// Probe resolves probeURL and records the outcome as the session status
func (r *Resolver) Probe(ctx context.Context, probeURL string) error {
	_, err := r.resolve(ctx, probeURL)
	r.setStatus(err)
	return err
}

// Status returns the last recorded session status
func (r *Resolver) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Resolver) setStatus(err error) {
	st := Status{Healthy: err == nil, CheckedAt: r.now()}
	if err != nil {
		st.Error = err.Error()
	}

	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
}

// ============================================================
// HTTP STEPS
// ============================================================

func (r *Resolver) newRequest(ctx context.Context, method, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}

	// Accept-Encoding is left to the transport so gzip is decoded transparently
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("DNT", "1")
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	if r.cfg.Cookie != "" {
		req.Header.Set("Cookie", r.cfg.Cookie)
	}
	return req, nil
}

func (r *Resolver) fetchPage(ctx context.Context, shareURL string) ([]byte, *url.URL, error) {
	req, err := r.newRequest(ctx, http.MethodGet, shareURL)
	if err != nil {
		return nil, nil, apperrors.Fetch(shareURL, 0, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, apperrors.Fetch(shareURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, apperrors.Fetch(shareURL, resp.StatusCode, nil)
	}

	finalURL := resp.Request.URL
	if strings.Contains(finalURL.Path, "/login") {
		return nil, nil, apperrors.AuthExpired("share page redirected to login")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, nil, apperrors.Fetch(shareURL, resp.StatusCode, err)
	}

	return body, finalURL, nil
}

type listResponse struct {
	Errno int         `json:"errno"`
	List  []listEntry `json:"list"`
}

type listEntry struct {
	ServerFilename string `json:"server_filename"`
	Size           uint64 `json:"size"`
	Dlink          string `json:"dlink"`
	Thumbs         struct {
		URL3 string `json:"url3"`
	} `json:"thumbs"`
}

func (r *Resolver) fetchFirstEntry(ctx context.Context, p pageParams) (*listEntry, error) {
	query := url.Values{}
	query.Set("app_id", appID)
	query.Set("web", "1")
	query.Set("channel", "0")
	query.Set("jsToken", p.jsToken)
	query.Set("dp-logid", p.logID)
	query.Set("page", "1")
	query.Set("num", "20")
	query.Set("by", "name")
	query.Set("order", "asc")
	query.Set("shorturl", p.shortCode)
	query.Set("root", "1")

	listURL := r.cfg.ListURL + "?" + query.Encode()

	req, err := r.newRequest(ctx, http.MethodGet, listURL)
	if err != nil {
		return nil, apperrors.Fetch(r.cfg.ListURL, 0, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperrors.Fetch(r.cfg.ListURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Fetch(r.cfg.ListURL, resp.StatusCode, nil)
	}

	var data listResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, apperrors.InvalidResponse(err)
	}

	switch {
	case data.Errno == errnoNotLoggedIn:
		return nil, apperrors.AuthExpired(fmt.Sprintf("list API errno %d", data.Errno))
	case data.Errno != 0:
		return nil, apperrors.API(data.Errno)
	case len(data.List) == 0:
		return nil, apperrors.NoFilesFound()
	}

	entry := data.List[0]
	if entry.Dlink == "" {
		return nil, apperrors.InvalidResponse(errors.New("first entry has no dlink"))
	}
	return &entry, nil
}

func (r *Resolver) directLink(ctx context.Context, dlink string) (string, error) {
	req, err := r.newRequest(ctx, http.MethodHead, dlink)
	if err != nil {
		return "", apperrors.Fetch(dlink, 0, err)
	}

	resp, err := r.headClient.Do(req)
	if err != nil {
		return "", apperrors.Fetch(dlink, 0, err)
	}
	resp.Body.Close()

	if location := resp.Header.Get("Location"); location != "" {
		return location, nil
	}
	return dlink, nil
}

// ============================================================
// PAGE PARSING
// ============================================================

type pageParams struct {
	shortCode string
	logID     string
	jsToken   string
	ogImage   string
}

func extractParams(body []byte, finalURL *url.URL, shareURL string) (pageParams, error) {
	page := string(body)

	p := pageParams{
		logID:     findBetween(page, "dp-logid=", "&"),
		jsToken:   findBetween(page, "fn%28%22", "%22%29"),
		ogImage:   ogImage(body),
		shortCode: finalURL.Query().Get("surl"),
	}
	if p.shortCode == "" {
		p.shortCode = fallbackShortCode(shareURL)
	}

	var missing []string
	if p.shortCode == "" {
		missing = append(missing, "surl")
	}
	if p.logID == "" {
		missing = append(missing, "dp-logid")
	}
	if p.jsToken == "" {
		missing = append(missing, "jsToken")
	}
	if len(missing) > 0 {
		return p, apperrors.MissingParameters(missing...)
	}

	return p, nil
}

func ogImage(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && content != "" {
			return content
		}
	}
	return findBetween(string(body), `og:image" content="`, `"`)
}

// fallbackShortCode derives surl from the input link. Share paths carry a
// leading "1" that surl omits.
func fallbackShortCode(shareURL string) string {
	parsed, err := url.Parse(shareURL)
	if err != nil {
		return ""
	}
	if surl := parsed.Query().Get("surl"); surl != "" {
		return surl
	}

	code := matcher.ExtractCode(shareURL)
	if len(code) > 1 && code[0] == '1' {
		return code[1:]
	}
	return code
}

// findBetween returns the text between the first start marker and the next end marker
func findBetween(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]

	j := strings.Index(s, end)
	if j < 0 {
		return ""
	}
	return s[:j]
}
