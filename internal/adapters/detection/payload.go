package detection

import (
	"context"
	"net"
	"net/url"
	"strings"

	emailnormalizer "github.com/dimuska139/go-email-normalizer/v2"

	"github.com/gyakuten/llmoradar/internal/domain"
)

type emailNormalizer interface {
	Normalize(email string) string
}

// PayloadDetector scores the submitted email and URL values.
type PayloadDetector struct {
	policy     domain.PolicySource
	disposable *DisposableDomains
	normalizer emailNormalizer
}

func NewPayloadDetector(policy domain.PolicySource, disposable *DisposableDomains) *PayloadDetector {
	if disposable == nil {
		disposable = NewDisposableDomains()
	}
	return &PayloadDetector{
		policy:     policy,
		disposable: disposable,
		normalizer: emailnormalizer.NewNormalizer(),
	}
}

func (d *PayloadDetector) Assess(_ context.Context, req *domain.AdmissionRequest) domain.RiskAssessment {
	p := d.policy.Policy()
	var risk domain.RiskAssessment

	if host, ok := d.emailDomain(req); !ok {
		risk.Add(p.Weights.MalformedEmail, domain.TagMalformedEmail)
	} else if d.disposable.Contains(host) {
		risk.Add(p.Weights.DisposableEmail, domain.TagDisposableEmail)
	}

	host, ok := urlHost(req)
	switch {
	case !ok:
		risk.Add(p.Weights.MalformedURL, domain.TagMalformedURL)
	case hasSuspiciousTLD(host, p.SuspiciousTLDs):
		risk.Add(p.Weights.SuspiciousTLD, domain.TagSuspiciousTLD)
	}
	return risk
}

func (d *PayloadDetector) Name() string {
	return "payload"
}

func (d *PayloadDetector) emailDomain(req *domain.AdmissionRequest) (string, bool) {
	raw, ok := req.Field("email")
	if !ok {
		return "", false
	}
	normalized := d.normalizer.Normalize(strings.TrimSpace(raw))
	at := strings.LastIndexByte(normalized, '@')
	if at <= 0 || at == len(normalized)-1 {
		return "", false
	}
	host := normalized[at+1:]
	if !strings.Contains(host, ".") {
		return "", false
	}
	return host, true
}

func urlHost(req *domain.AdmissionRequest) (string, bool) {
	raw, ok := req.Field("url")
	if !ok {
		return "", false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if net.ParseIP(host) == nil && !strings.Contains(host, ".") {
		return "", false
	}
	return host, true
}

func hasSuspiciousTLD(host string, tlds []string) bool {
	if net.ParseIP(host) != nil {
		return false
	}
	tld := host[strings.LastIndexByte(host, '.')+1:]
	for _, t := range tlds {
		if strings.EqualFold(strings.TrimPrefix(t, "."), tld) {
			return true
		}
	}
	return false
}
