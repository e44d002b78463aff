package detection_test

import (
	"context"
	"strings"
	"testing"

	"github.com/gyakuten/llmoradar/internal/adapters/detection"
	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

func detectors() []ports.RiskDetector {
	p := domain.StaticPolicy(domain.DefaultAdmissionPolicy())
	return []ports.RiskDetector{
		detection.NewClientDetector(p),
		detection.NewContentDetector(p),
		detection.NewGeoDetector(p),
		detection.NewPayloadDetector(p, detection.NewDisposableDomains()),
	}
}

func FuzzDetectorsUserAgent(f *testing.F) {
	seeds := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/122.0 Safari/537.36",
		"curl/8.4.0",
		"python-requests/2.31",
		"Mozilla/5.0 HeadlessChrome/120.0",
		"",
		" ",
		"\x00\xff\xfe",
		"ＣＵＲＬ／８",
		strings.Repeat("Mozilla ", 5000),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	ds := detectors()
	f.Fuzz(func(t *testing.T, ua string) {
		req := &domain.AdmissionRequest{
			Origin:    "203.0.113.10",
			UserAgent: ua,
			Headers:   map[string]string{"user-agent": ua},
		}
		for _, d := range ds {
			a := d.Assess(context.Background(), req)
			if a.Score < 0 {
				t.Fatalf("%s: negative score %d for %q", d.Name(), a.Score, truncate(ua, 80))
			}
			if len(a.Tags) > 0 && a.Score == 0 {
				t.Fatalf("%s: tags %v without weight", d.Name(), a.Tags)
			}
		}
	})
}

func FuzzDetectorsPayload(f *testing.F) {
	seeds := [][3]string{
		{"https://www.bluesky-trading.co.jp/", "hanako@bluesky-trading.co.jp", "Please review our site."},
		{"http://cheap-pills.tk", "x@mailinator.com", "viagra casino backlinks"},
		{"javascript:alert(1)", "not-an-email", "<script>alert(1)</script>"},
		{"https://[::1]:99999/", "@", strings.Repeat("SEO ", 2000)},
		{"", "", ""},
		{"\x00", "\xff@\xfe", "ＳＥＯ対策"},
	}
	for _, s := range seeds {
		f.Add(s[0], s[1], s[2])
	}

	ds := detectors()
	f.Fuzz(func(t *testing.T, rawURL, email, message string) {
		req := &domain.AdmissionRequest{
			Origin:    "203.0.113.10",
			UserAgent: "Mozilla/5.0",
			Headers: map[string]string{
				"accept":          "*/*",
				"accept-language": "ja",
				"cf-ipcountry":    message,
			},
			Payload: map[string]any{
				"url":     rawURL,
				"email":   email,
				"name":    message,
				"company": rawURL,
				"message": message,
				"website": email,
			},
		}
		var total domain.RiskAssessment
		for _, d := range ds {
			total.Merge(d.Assess(context.Background(), req))
		}
		if got := total.Total(); got < 0 || got > domain.MaxRiskScore {
			t.Fatalf("total risk %d out of range", got)
		}
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
