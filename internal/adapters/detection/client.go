// Package detection implements the admission risk detectors. Each detector
// adds weighted, tagged signals for one request; the admission controller sums
// them with the origin's burst signals.
package detection

import (
	"context"
	"strings"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/pkg/ahocorasick"
)

var nonBrowserAgents = []string{
	"curl/", "wget/", "python-requests", "python-urllib", "aiohttp", "httpx",
	"go-http-client", "okhttp", "java/", "libwww-perl", "scrapy", "httpclient",
	"node-fetch", "axios/", "undici", "postmanruntime", "insomnia", "php/",
	"ruby", "powershell", "bot/", "bot;", "spider", "crawler", "slurp",
}

var headlessAgents = []string{
	"headlesschrome", "phantomjs", "puppeteer", "playwright", "selenium",
	"webdriver", "electron", "slimerjs", "nightmare",
}

// ClientDetector flags automated clients from the user agent and the
// presence of headers every mainstream browser sends.
type ClientDetector struct {
	policy   domain.PolicySource
	bots     *ahocorasick.Matcher
	headless *ahocorasick.Matcher
}

func NewClientDetector(policy domain.PolicySource) *ClientDetector {
	return &ClientDetector{
		policy:   policy,
		bots:     ahocorasick.FromTerms(domain.TagBotUserAgent, nonBrowserAgents...),
		headless: ahocorasick.FromTerms(domain.TagHeadlessBrowser, headlessAgents...),
	}
}

func (d *ClientDetector) Assess(_ context.Context, req *domain.AdmissionRequest) domain.RiskAssessment {
	w := d.policy.Policy().Weights
	var risk domain.RiskAssessment

	ua := strings.TrimSpace(req.UserAgent)
	switch {
	case ua == "":
		risk.Add(w.MissingUserAgent, domain.TagMissingUserAgent)
	case d.headless.Contains(ua) || d.headless.Contains(req.Header("sec-ch-ua")):
		risk.Add(w.HeadlessBrowser, domain.TagHeadlessBrowser)
	case d.bots.Contains(ua):
		risk.Add(w.BotUserAgent, domain.TagBotUserAgent)
	}

	if strings.TrimSpace(req.Header("accept-language")) == "" {
		risk.Add(w.MissingAcceptLanguage, domain.TagMissingAcceptLanguage)
	}
	if strings.TrimSpace(req.Header("accept")) == "" {
		risk.Add(w.MissingAccept, domain.TagMissingAccept)
	}
	return risk
}

func (d *ClientDetector) Name() string {
	return "client"
}
