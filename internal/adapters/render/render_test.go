package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyakuten/llmoradar/internal/domain"
)

const page = `<!doctype html><html><head><title>Example</title>
<style>@media (max-width: 600px) { body { font-size: 14px } }</style></head>
<body><h1>Hello</h1></body></html>`

func TestHTTPRendererFetchesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/", http.StatusMovedPermanently)
			return
		}
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(HTTPConfig{AllowPrivateTargets: true})
	sess, err := r.Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	sig, err := sess.Render(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, sig.StatusCode)
	assert.Equal(t, srv.URL+"/", sig.FinalURL)
	assert.Contains(t, sig.HTML, "<h1>Hello</h1>")
	assert.Equal(t, 1, sig.MediaQueryCount)
	assert.False(t, sig.Rendered)
	assert.Positive(t, sig.LoadTime)
	assert.Zero(t, sig.FirstContentfulPaint)
	assert.False(t, sig.HorizontalOverflow())
}

func TestHTTPRendererErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sess, err := NewHTTPRenderer(HTTPConfig{AllowPrivateTargets: true}).Open(context.Background())
	require.NoError(t, err)

	_, err = sess.Render(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrPageStatus)
}

func TestHTTPRendererHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	sess, err := NewHTTPRenderer(HTTPConfig{AllowPrivateTargets: true}).Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sess.Render(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPRendererRefusesPrivateTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("private target was fetched")
	}))
	defer srv.Close()

	sess, err := NewHTTPRenderer(DefaultHTTPConfig()).Open(context.Background())
	require.NoError(t, err)

	_, err = sess.Render(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrPrivateTarget)
}

func TestCheckTarget(t *testing.T) {
	tests := []struct {
		url     string
		blocked bool
	}{
		{"http://127.0.0.1/", true},
		{"http://[::1]:8080/", true},
		{"http://10.1.2.3/", true},
		{"http://172.16.0.9/", true},
		{"http://192.168.1.1/", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://100.64.1.1/", true},
		{"http://0.0.0.0/", true},
		{"http://[fd00::1]/", true},
		{"https://93.184.216.34/", false},
		{"https://[2606:4700::1111]/", false},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			err := CheckTarget(context.Background(), nil, tc.url)
			if tc.blocked {
				assert.ErrorIs(t, err, ErrPrivateTarget)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDialControl(t *testing.T) {
	assert.ErrorIs(t, dialControl("tcp", "127.0.0.1:80", nil), ErrPrivateTarget)
	assert.ErrorIs(t, dialControl("tcp6", "[fe80::1]:443", nil), ErrPrivateTarget)
	assert.NoError(t, dialControl("tcp", "93.184.216.34:443", nil))
}

func TestPageTimingApply(t *testing.T) {
	sig := &domain.PageSignals{}
	pageTiming{Load: 1234.5, DOMContent: 800, FCP: 950, LCP: 0, CLS: 0.12, MediaRules: 7}.apply(sig)

	assert.Equal(t, 1234500*time.Microsecond, sig.LoadTime)
	assert.Equal(t, 800*time.Millisecond, sig.DOMContentLoaded)
	assert.Equal(t, 950*time.Millisecond, sig.FirstContentfulPaint)
	assert.Zero(t, sig.LargestContentfulPaint, "unmeasured stays zero")
	assert.InDelta(t, 0.12, sig.CumulativeLayoutShift, 1e-9)
	assert.Equal(t, 7, sig.MediaQueryCount)
}

func TestChromeRendererOptions(t *testing.T) {
	r := NewChromeRenderer(ChromeConfig{LaunchesPerSecond: 0.5, ExecPath: "/opt/chrome", UserAgent: "llmoradar-test"})
	require.NotNil(t, r.limiter)
	assert.Equal(t, 1, r.limiter.Burst())
	assert.Equal(t, 500*time.Millisecond, r.cfg.SettleDelay)
	assert.Len(t, r.allocatorOptions(), len(chromedp.DefaultExecAllocatorOptions)+7)

	assert.Nil(t, NewChromeRenderer(ChromeConfig{}).limiter)
}

func TestChromeOpenRespectsCancelledLaunchSlot(t *testing.T) {
	r := NewChromeRenderer(ChromeConfig{LaunchesPerSecond: 0.001})
	r.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Open(ctx)
	assert.Error(t, err)
}
