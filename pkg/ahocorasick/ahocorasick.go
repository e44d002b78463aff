// Package ahocorasick implements case-insensitive multi-keyword search where
// every keyword carries a tag. It is used to scan user agents and free-text
// form fields against keyword lists in one pass.
package ahocorasick

import "unicode"

// Keyword is a search term and the tag reported when it matches.
type Keyword struct {
	Term string
	Tag  string
}

// Hit is one keyword occurrence. End is the byte offset just past the match.
type Hit struct {
	Keyword Keyword
	End     int
}

// Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	states   []state
	keywords []Keyword
}

type state struct {
	next map[rune]int32
	fail int32
	// dict points to the nearest state on the failure chain that ends a
	// keyword, or -1.
	dict  int32
	terms []int32
}

// New builds a matcher. Empty terms are ignored.
func New(keywords ...Keyword) *Matcher {
	m := &Matcher{states: []state{newState()}}
	for _, kw := range keywords {
		if kw.Term == "" {
			continue
		}
		m.insert(kw)
	}
	m.link()
	return m
}

// FromTerms builds a matcher whose keywords are all tagged with tag.
func FromTerms(tag string, terms ...string) *Matcher {
	kws := make([]Keyword, 0, len(terms))
	for _, t := range terms {
		kws = append(kws, Keyword{Term: t, Tag: tag})
	}
	return New(kws...)
}

func newState() state {
	return state{next: make(map[rune]int32), dict: -1}
}

func (m *Matcher) insert(kw Keyword) {
	cur := int32(0)
	for _, r := range kw.Term {
		r = unicode.ToLower(r)
		nxt, ok := m.states[cur].next[r]
		if !ok {
			m.states = append(m.states, newState())
			nxt = int32(len(m.states) - 1)
			m.states[cur].next[r] = nxt
		}
		cur = nxt
	}
	m.keywords = append(m.keywords, kw)
	m.states[cur].terms = append(m.states[cur].terms, int32(len(m.keywords)-1))
}

// link computes failure and dictionary links breadth first.
func (m *Matcher) link() {
	queue := make([]int32, 0, len(m.states))
	for _, child := range m.states[0].next {
		m.states[child].fail = 0
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for r, child := range m.states[cur].next {
			queue = append(queue, child)
			f := m.states[cur].fail
			for f != 0 {
				if _, ok := m.states[f].next[r]; ok {
					break
				}
				f = m.states[f].fail
			}
			target, ok := m.states[f].next[r]
			if !ok || target == child {
				target = 0
			}
			m.states[child].fail = target
			if len(m.states[target].terms) > 0 {
				m.states[child].dict = target
			} else {
				m.states[child].dict = m.states[target].dict
			}
		}
	}
}

func (m *Matcher) step(cur int32, r rune) int32 {
	for {
		if nxt, ok := m.states[cur].next[r]; ok {
			return nxt
		}
		if cur == 0 {
			return 0
		}
		cur = m.states[cur].fail
	}
}

// Scan calls fn for every keyword occurrence in text, stopping early when fn
// returns false.
func (m *Matcher) Scan(text string, fn func(Hit) bool) {
	if len(m.keywords) == 0 {
		return
	}
	cur := int32(0)
	for i, r := range text {
		cur = m.step(cur, unicode.ToLower(r))
		end := i + len(string(r))
		for s := cur; s > 0; s = m.states[s].dict {
			for _, idx := range m.states[s].terms {
				if !fn(Hit{Keyword: m.keywords[idx], End: end}) {
					return
				}
			}
		}
	}
}

// Contains reports whether any keyword occurs in text.
func (m *Matcher) Contains(text string) bool {
	found := false
	m.Scan(text, func(Hit) bool {
		found = true
		return false
	})
	return found
}

// Tags returns the distinct tags matched in text, in first-seen order.
func (m *Matcher) Tags(text string) []string {
	var tags []string
	seen := make(map[string]struct{})
	m.Scan(text, func(h Hit) bool {
		if _, ok := seen[h.Keyword.Tag]; !ok {
			seen[h.Keyword.Tag] = struct{}{}
			tags = append(tags, h.Keyword.Tag)
		}
		return true
	})
	return tags
}

// Terms returns the distinct keyword terms matched in text.
func (m *Matcher) Terms(text string) []string {
	var terms []string
	seen := make(map[string]struct{})
	m.Scan(text, func(h Hit) bool {
		if _, ok := seen[h.Keyword.Term]; !ok {
			seen[h.Keyword.Term] = struct{}{}
			terms = append(terms, h.Keyword.Term)
		}
		return true
	})
	return terms
}

func (m *Matcher) Len() int {
	return len(m.keywords)
}
