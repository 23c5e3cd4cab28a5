package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/logger"
)

const sharePage = `<html><head>
<meta property="og:image" content="https://img.example/og.jpg">
</head><body><script>
var u = "https://log.example/x?dp-logid=889900&t=1";
var f = "fn%28%22JSTOKEN42%22%29";
</script></body></html>`

type fixture struct {
	page       string
	listStatus int
	listBody   string
	location   string
	lastQuery  url.Values
	lastCookie string
}

func newShareServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/s/1abc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/sharing/link?surl=abc", http.StatusFound)
	})
	mux.HandleFunc("/sharing/link", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, f.page)
	})
	mux.HandleFunc("/share/list", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery = r.URL.Query()
		f.lastCookie = r.Header.Get("Cookie")
		if f.listStatus != 0 {
			w.WriteHeader(f.listStatus)
		}
		body := f.listBody
		if body == "" {
			body = fmt.Sprintf(`{"errno":0,"list":[{"server_filename":"clip.mp4","size":2048,"dlink":"%s/dlink/clip","thumbs":{"url3":"https://img.example/t3.jpg"}}]}`, srv.URL)
		}
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/dlink/clip", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if f.location != "" {
			w.Header().Set("Location", f.location)
			w.WriteHeader(http.StatusFound)
		}
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "please log in")
	})

	return srv
}

func newTestResolver(t *testing.T, srv *httptest.Server, cfg Config) *Resolver {
	t.Helper()
	cfg.ListURL = srv.URL + "/share/list"
	if cfg.Cookie == "" {
		cfg.Cookie = "ndus=test-cookie"
	}
	r, err := New(cfg, logger.Nop())
	require.NoError(t, err)
	return r
}

func TestResolve_HappyPath(t *testing.T) {
	f := &fixture{page: sharePage, location: "https://cdn.example/clip.mp4?sign=1"}
	srv := newShareServer(t, f)
	r := newTestResolver(t, srv, Config{})

	meta, err := r.Resolve(context.Background(), srv.URL+"/s/1abc")
	require.NoError(t, err)

	assert.Equal(t, "clip.mp4", meta.FileName)
	assert.Equal(t, uint64(2048), meta.SizeBytes)
	assert.Equal(t, "abc", meta.ShortCode)
	assert.Equal(t, "https://img.example/t3.jpg", meta.ThumbnailURL)
	assert.Equal(t, srv.URL+"/dlink/clip", meta.DLink)
	assert.Equal(t, "https://cdn.example/clip.mp4?sign=1", meta.DirectLink)

	assert.Equal(t, "JSTOKEN42", f.lastQuery.Get("jsToken"))
	assert.Equal(t, "889900", f.lastQuery.Get("dp-logid"))
	assert.Equal(t, "abc", f.lastQuery.Get("shorturl"))
	assert.Equal(t, "250528", f.lastQuery.Get("app_id"))
	assert.Equal(t, "ndus=test-cookie", f.lastCookie)
}

func TestResolve_ThumbnailFallsBackToOGImage(t *testing.T) {
	f := &fixture{page: sharePage}
	srv := newShareServer(t, f)
	f.listBody = fmt.Sprintf(`{"errno":0,"list":[{"server_filename":"a.mp4","size":1,"dlink":"%s/dlink/clip"}]}`, srv.URL)
	r := newTestResolver(t, srv, Config{})

	meta, err := r.Resolve(context.Background(), srv.URL+"/s/1abc")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/og.jpg", meta.ThumbnailURL)
	// no Location header: dlink is used as is
	assert.Equal(t, meta.DLink, meta.DirectLink)
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		status   int
		body     string
		expected error
	}{
		{
			name:     "missing logid",
			page:     `<html>fn%28%22TOKEN%22%29</html>`,
			expected: apperrors.ErrMissingParameters,
		},
		{
			name:     "missing jsToken",
			page:     `<html>dp-logid=1&x</html>`,
			expected: apperrors.ErrMissingParameters,
		},
		{
			name:     "api errno",
			page:     sharePage,
			body:     `{"errno":2,"list":[]}`,
			expected: apperrors.ErrAPI,
		},
		{
			name:     "not logged in",
			page:     sharePage,
			body:     `{"errno":-6}`,
			expected: apperrors.ErrAuthExpired,
		},
		{
			name:     "empty list",
			page:     sharePage,
			body:     `{"errno":0,"list":[]}`,
			expected: apperrors.ErrNoFiles,
		},
		{
			name:     "not json",
			page:     sharePage,
			body:     `<html>oops</html>`,
			expected: apperrors.ErrInvalidResponse,
		},
		{
			name:     "list http error",
			page:     sharePage,
			status:   http.StatusBadGateway,
			body:     `{}`,
			expected: apperrors.ErrFetch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fixture{page: tt.page, listStatus: tt.status, listBody: tt.body}
			srv := newShareServer(t, f)
			r := newTestResolver(t, srv, Config{})

			_, err := r.Resolve(context.Background(), srv.URL+"/s/1abc")
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestResolve_APIErrorCarriesErrno(t *testing.T) {
	f := &fixture{page: sharePage, listBody: `{"errno":105}`}
	srv := newShareServer(t, f)
	r := newTestResolver(t, srv, Config{})

	_, err := r.Resolve(context.Background(), srv.URL+"/s/1abc")

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 105, appErr.Errno)
}

func TestResolve_SharePageNotFound(t *testing.T) {
	srv := newShareServer(t, &fixture{page: sharePage})
	r := newTestResolver(t, srv, Config{})

	_, err := r.Resolve(context.Background(), srv.URL+"/s/unknown")
	assert.ErrorIs(t, err, apperrors.ErrFetch)
}

func TestResolve_LoginRedirect(t *testing.T) {
	srv := newShareServer(t, &fixture{page: sharePage})
	r := newTestResolver(t, srv, Config{})

	_, err := r.Resolve(context.Background(), srv.URL+"/login?from=share")
	assert.ErrorIs(t, err, apperrors.ErrAuthExpired)
	assert.False(t, r.Status().Healthy)
}

func TestResolve_ExpiredCookieSkipsNetwork(t *testing.T) {
	f := &fixture{page: sharePage}
	srv := newShareServer(t, f)
	r := newTestResolver(t, srv, Config{CookieExpiresAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)})

	_, err := r.Resolve(context.Background(), srv.URL+"/s/1abc")
	assert.ErrorIs(t, err, apperrors.ErrAuthExpired)
	assert.Nil(t, f.lastQuery)
}

func TestProbe_RecordsStatus(t *testing.T) {
	f := &fixture{page: sharePage}
	srv := newShareServer(t, f)
	r := newTestResolver(t, srv, Config{})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	require.NoError(t, r.Probe(context.Background(), srv.URL+"/s/1abc"))
	assert.Equal(t, Status{Healthy: true, CheckedAt: now}, r.Status())

	f.listBody = `{"errno":-6}`
	require.Error(t, r.Probe(context.Background(), srv.URL+"/s/1abc"))
	st := r.Status()
	assert.False(t, st.Healthy)
	assert.NotEmpty(t, st.Error)
}

func TestFallbackShortCode(t *testing.T) {
	assert.Equal(t, "abc", fallbackShortCode("https://terabox.com/s/1abc"))
	assert.Equal(t, "xyz", fallbackShortCode("https://terabox.com/sharing/link?surl=xyz"))
	assert.Equal(t, "abc", fallbackShortCode("https://terabox.com/s/abc"))
	assert.Empty(t, fallbackShortCode("https://terabox.com/main"))
}

func TestFindBetween(t *testing.T) {
	assert.Equal(t, "42", findBetween("a=42&b", "a=", "&"))
	assert.Empty(t, findBetween("a=42", "a=", "&"))
	assert.Empty(t, findBetween("nothing", "a=", "&"))
}
