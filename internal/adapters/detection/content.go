package detection

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/pkg/ahocorasick"
)

var spamKeywords = []ahocorasick.Keyword{
	{Term: "viagra", Tag: "pharma"},
	{Term: "cialis", Tag: "pharma"},
	{Term: "casino", Tag: "gambling"},
	{Term: "poker", Tag: "gambling"},
	{Term: "betting", Tag: "gambling"},
	{Term: "crypto", Tag: "finance"},
	{Term: "bitcoin", Tag: "finance"},
	{Term: "forex", Tag: "finance"},
	{Term: "payday loan", Tag: "finance"},
	{Term: "backlinks", Tag: "seo_spam"},
	{Term: "seo services", Tag: "seo_spam"},
	{Term: "guest post", Tag: "seo_spam"},
	{Term: "rank your website", Tag: "seo_spam"},
	{Term: "porn", Tag: "adult"},
	{Term: "xxx", Tag: "adult"},
	{Term: "click here", Tag: "generic"},
	{Term: "free money", Tag: "generic"},
	{Term: "http://", Tag: "link"},
	{Term: "https://", Tag: "link"},
	{Term: "副業", Tag: "finance"},
	{Term: "稼げる", Tag: "finance"},
	{Term: "出会い", Tag: "adult"},
	{Term: "カジノ", Tag: "gambling"},
}

var placeholders = map[string]struct{}{
	"test": {}, "testing": {}, "asdf": {}, "qwerty": {}, "sample": {},
	"example": {}, "dummy": {}, "foo": {}, "bar": {}, "hoge": {}, "fuga": {},
	"piyo": {}, "n/a": {}, "na": {}, "none": {}, "null": {}, "xxx": {},
	"123": {}, "1234": {}, "12345": {}, "テスト": {}, "てすと": {}, "あああ": {},
}

// ContentDetector inspects the free-text form fields.
type ContentDetector struct {
	policy domain.PolicySource
	spam   *ahocorasick.Matcher
}

func NewContentDetector(policy domain.PolicySource) *ContentDetector {
	return &ContentDetector{
		policy: policy,
		spam:   ahocorasick.New(spamKeywords...),
	}
}

func (d *ContentDetector) Assess(_ context.Context, req *domain.AdmissionRequest) domain.RiskAssessment {
	w := d.policy.Policy().Weights
	var risk domain.RiskAssessment

	var values []string
	placeholder := false
	for _, key := range []string{"name", "company", "message"} {
		raw, present := req.Payload[key]
		if !present || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			placeholder = true
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		values = append(values, s)
		if isPlaceholder(s) {
			placeholder = true
		}
	}

	if d.spam.Contains(strings.Join(values, "\n")) {
		risk.Add(w.SpamKeywords, domain.TagSpamKeywords)
	}

	if hasDuplicates(values) {
		risk.Add(w.DuplicateFields, domain.TagDuplicateFields)
	}
	if placeholder {
		risk.Add(w.PlaceholderValues, domain.TagPlaceholderValues)
	}
	if honeypotFilled(req.Payload["website"]) {
		risk.Add(w.HoneypotFilled, domain.TagHoneypotFilled)
	}
	return risk
}

func (d *ContentDetector) Name() string {
	return "content"
}

func hasDuplicates(values []string) bool {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}

// isPlaceholder matches well-known filler words and single repeated
// characters such as "aaaa".
func isPlaceholder(s string) bool {
	lower := strings.ToLower(s)
	if _, ok := placeholders[lower]; ok {
		return true
	}
	if utf8.RuneCountInString(lower) < 3 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(lower)
	for _, r := range lower {
		if r != first {
			return false
		}
	}
	return true
}

func honeypotFilled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}
