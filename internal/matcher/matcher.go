package matcher

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/darkodi/terabox-bot/internal/config"
	"github.com/darkodi/terabox-bot/internal/model"
)

// DefaultDomains lists the TeraBox family hosts accepted out of the box
var DefaultDomains = []string{
	"mirrobox.com",
	"nephobox.com",
	"freeterabox.com",
	"1024tera.com",
	"1024terabox.com",
	"4funbox.com",
	"4funbox.co",
	"terabox.app",
	"terabox.com",
	"terabox.fun",
	"teraboxapp.com",
	"momerybox.com",
	"tibibox.com",
}

var (
	candidatePattern = regexp.MustCompile(`(?i)https?://\S+`)
	pathCodePattern  = regexp.MustCompile(`/s/([A-Za-z0-9_-]+)`)
	queryCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Matcher finds allow-listed share links in free text
type Matcher struct {
	maxLength      int
	allowedSchemes []string
	domains        []string
}

// FromConfig creates a matcher with the built-in hosts plus extra domains
func FromConfig(cfg config.MatcherConfig) *Matcher {
	m := New().WithDomains(cfg.ExtraDomains...)
	if cfg.MaxURLLength > 0 {
		m.WithMaxLength(cfg.MaxURLLength)
	}
	return m
}

// New creates a matcher with default settings
func New() *Matcher {
	return &Matcher{
		maxLength:      2048,
		allowedSchemes: []string{"http", "https"},
		domains:        append([]string(nil), DefaultDomains...),
	}
}

// Match returns the first allow-listed link in text. Later links are ignored.
func (m *Matcher) Match(text string) (model.LinkRecord, bool) {
	for _, candidate := range candidatePattern.FindAllString(text, -1) {
		candidate = strings.TrimRight(candidate, ".,;:!?)]}>\"'")
		if !m.IsAllowed(candidate) {
			continue
		}
		return model.LinkRecord{
			RawURL:   candidate,
			HostCode: ExtractCode(candidate),
		}, true
	}
	return model.LinkRecord{}, false
}

// IsAllowed reports whether rawURL has a scheme, an authority and an allow-listed host
func (m *Matcher) IsAllowed(rawURL string) bool {
	if rawURL == "" || len(rawURL) > m.maxLength {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if !m.isAllowedScheme(parsed.Scheme) || parsed.Host == "" {
		return false
	}

	return m.isAllowedDomain(parsed.Hostname())
}

// ExtractCode returns the share code from /s/<code> or the surl query parameter
func ExtractCode(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	if match := pathCodePattern.FindStringSubmatch(parsed.Path); match != nil {
		return match[1]
	}

	if surl := parsed.Query().Get("surl"); queryCodePattern.MatchString(surl) {
		return surl
	}

	return ""
}

// ============================================================
// HELPER METHODS
// ============================================================

func (m *Matcher) isAllowedScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, allowed := range m.allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func (m *Matcher) isAllowedDomain(host string) bool {
	host = strings.ToLower(host)
	for _, domain := range m.domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// ============================================================
// CONFIGURATION METHODS
// ============================================================

// WithMaxLength sets maximum URL length
func (m *Matcher) WithMaxLength(length int) *Matcher {
	m.maxLength = length
	return m
}

// WithDomains adds hosts to the allow-list
func (m *Matcher) WithDomains(domains ...string) *Matcher {
	for _, d := range domains {
		m.domains = append(m.domains, strings.ToLower(d))
	}
	return m
}
