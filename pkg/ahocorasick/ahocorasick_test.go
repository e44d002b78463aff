package ahocorasick

import (
	"testing"
)

func TestMatcher_Contains(t *testing.T) {
	m := FromTerms("bot", "curl", "wget", "python-requests")

	tests := []struct {
		input    string
		expected bool
	}{
		{"curl/8.4.0", true},
		{"Wget/1.21", true},
		{"python-requests/2.31", true},
		{"Mozilla/5.0 (Windows NT 10.0)", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := m.Contains(tc.input); got != tc.expected {
			t.Errorf("Contains(%q) = %v, expected %v", tc.input, got, tc.expected)
		}
	}
}

func TestMatcher_Tags(t *testing.T) {
	m := New(
		Keyword{Term: "casino", Tag: "gambling"},
		Keyword{Term: "poker", Tag: "gambling"},
		Keyword{Term: "viagra", Tag: "pharma"},
	)

	tags := m.Tags("Best CASINO and poker, cheap Viagra")
	if len(tags) != 2 || tags[0] != "gambling" || tags[1] != "pharma" {
		t.Errorf("unexpected tags %v", tags)
	}
}

func TestMatcher_OverlappingTerms(t *testing.T) {
	m := New(
		Keyword{Term: "he", Tag: "a"},
		Keyword{Term: "she", Tag: "b"},
		Keyword{Term: "hers", Tag: "c"},
		Keyword{Term: "his", Tag: "d"},
	)

	terms := m.Terms("ushers")
	found := make(map[string]bool)
	for _, term := range terms {
		found[term] = true
	}
	for _, want := range []string{"he", "she", "hers"} {
		if !found[want] {
			t.Errorf("expected %q in %v", want, terms)
		}
	}
	if found["his"] {
		t.Errorf("unexpected match for his in %v", terms)
	}
}

func TestMatcher_HitOffsets(t *testing.T) {
	m := FromTerms("x", "bot")

	var ends []int
	m.Scan("robot bot", func(h Hit) bool {
		ends = append(ends, h.End)
		return true
	})
	if len(ends) != 2 || ends[0] != 5 || ends[1] != 9 {
		t.Errorf("unexpected ends %v", ends)
	}
}

func TestMatcher_ScanStopsEarly(t *testing.T) {
	m := FromTerms("x", "a")

	calls := 0
	m.Scan("aaaa", func(Hit) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestMatcher_Unicode(t *testing.T) {
	m := FromTerms("spam", "副業", "稼げる")

	if !m.Contains("簡単に稼げる副業をご紹介") {
		t.Error("expected match in Japanese text")
	}
	if m.Contains("ホームページの診断をお願いします") {
		t.Error("unexpected match")
	}
}

func TestMatcher_Empty(t *testing.T) {
	m := New()
	if m.Contains("anything") {
		t.Error("empty matcher should not match")
	}
	if m.Len() != 0 {
		t.Errorf("expected 0 keywords, got %d", m.Len())
	}

	m = FromTerms("x", "", "ok")
	if m.Len() != 1 {
		t.Errorf("expected empty term to be skipped, got %d", m.Len())
	}
}
