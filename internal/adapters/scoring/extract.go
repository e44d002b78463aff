// Package scoring turns rendered page signals into a scored site analysis.
package scoring

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// PageFacts is everything the category scorers need, extracted once per page.
type PageFacts struct {
	Signals *domain.PageSignals

	H1Count  int
	Headings []int // levels in document order

	Title           string
	MetaDescription string
	Canonical       bool
	OpenGraph       int
	InternalLinks   int
	ExternalLinks   int

	WordCount     int
	Sentences     int
	Images        int
	ImagesWithAlt int

	Viewport   string
	FixedWidth bool

	SchemaTypes []string
	HasJSONLD   bool
}

var openGraphProps = []string{"og:title", "og:description", "og:image", "og:type"}

// Extract parses the rendered HTML.
//
// Parameters:
//   - sig: signals from a renderer; HTML may be empty
//
// Returns:
//   - facts with every count populated, or an error if the document cannot be parsed
func Extract(sig *domain.PageSignals) (*PageFacts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sig.HTML))
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	f := &PageFacts{Signals: sig}
	base := pageBase(sig)

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		level := int(goquery.NodeName(s)[1] - '0')
		if level == 1 {
			f.H1Count++
		}
		f.Headings = append(f.Headings, level)
	})

	f.Title = collapse(doc.Find("head title").First().Text())
	if f.Title == "" {
		f.Title = collapse(doc.Find("title").First().Text())
	}
	f.MetaDescription = collapse(metaContent(doc, "name", "description"))
	f.Canonical = doc.Find(`link[rel~="canonical"][href]`).Length() > 0
	for _, prop := range openGraphProps {
		if metaContent(doc, "property", prop) != "" {
			f.OpenGraph++
		}
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		switch classifyLink(base, href) {
		case linkInternal:
			f.InternalLinks++
		case linkExternal:
			f.ExternalLinks++
		}
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		f.Images++
		if alt, ok := s.Attr("alt"); ok && descriptiveAlt(alt) {
			f.ImagesWithAlt++
		}
	})

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template, svg").Remove()
	text := body.Text()
	f.WordCount = countWords(text)
	f.Sentences = countSentences(text)

	f.Viewport = strings.ToLower(strings.TrimSpace(metaContent(doc, "name", "viewport")))
	f.FixedWidth = hasFixedWidth(doc, f.Viewport)

	f.SchemaTypes, f.HasJSONLD = schemaTypes(doc)
	return f, nil
}

func metaContent(doc *goquery.Document, attr, name string) string {
	var out string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr(attr); strings.EqualFold(strings.TrimSpace(v), name) {
			out, _ = s.Attr("content")
			return false
		}
		return true
	})
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pageBase(sig *domain.PageSignals) *url.URL {
	for _, raw := range []string{sig.FinalURL, sig.RequestedURL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u
		}
	}
	return nil
}

type linkKind int

const (
	linkIgnored linkKind = iota
	linkInternal
	linkExternal
)

func classifyLink(base *url.URL, href string) linkKind {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return linkIgnored
	}
	u, err := url.Parse(href)
	if err != nil {
		return linkIgnored
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return linkIgnored
	}
	if u.Host == "" {
		return linkInternal
	}
	if base != nil && sameSite(base.Hostname(), u.Hostname()) {
		return linkInternal
	}
	return linkExternal
}

func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b
}

var filenameAlt = regexp.MustCompile(`(?i)^[\w\-]+\.(jpe?g|png|gif|webp|svg|avif)$`)

var genericAlts = map[string]bool{
	"image": true, "img": true, "photo": true, "picture": true, "logo": true, "icon": true, "画像": true,
}

func descriptiveAlt(alt string) bool {
	alt = strings.TrimSpace(alt)
	if alt == "" || filenameAlt.MatchString(alt) {
		return false
	}
	return !genericAlts[strings.ToLower(alt)]
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// countWords counts whitespace-separated tokens. Runs of CJK script carry no
// spaces, so each two CJK characters count as one word.
func countWords(text string) int {
	n := 0
	for _, tok := range strings.Fields(text) {
		cjk, other := 0, false
		for _, r := range tok {
			switch {
			case isCJK(r):
				cjk++
			case unicode.IsLetter(r) || unicode.IsDigit(r):
				other = true
			}
		}
		switch {
		case cjk > 0:
			n += (cjk + 1) / 2
			if other {
				n++
			}
		case other:
			n++
		}
	}
	return n
}

func countSentences(text string) int {
	n := 0
	inSentence := false
	for _, r := range text {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			if inSentence {
				n++
				inSentence = false
			}
		default:
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				inSentence = true
			}
		}
	}
	if inSentence {
		n++
	}
	return n
}

var (
	fixedViewportWidth = regexp.MustCompile(`width\s*=\s*\d+`)
	fixedStyleWidth    = regexp.MustCompile(`(?i)(?:^|[;\s])(?:min-)?width\s*:\s*(\d+)px`)
)

const fixedWidthPx = 600

// hasFixedWidth looks for layout widths that cannot shrink to a phone screen.
func hasFixedWidth(doc *goquery.Document, viewport string) bool {
	if fixedViewportWidth.MatchString(viewport) {
		return true
	}
	fixed := false
	doc.Find("body, main, div, section, table, header, footer").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if w, ok := s.Attr("width"); ok {
			if px, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(w), "px")); err == nil && px >= fixedWidthPx {
				fixed = true
				return false
			}
		}
		style, _ := s.Attr("style")
		for _, m := range fixedStyleWidth.FindAllStringSubmatch(style, -1) {
			if px, err := strconv.Atoi(m[1]); err == nil && px >= fixedWidthPx {
				fixed = true
				return false
			}
		}
		return true
	})
	return fixed
}

// schemaFamilies maps schema.org types onto the families the report credits.
var schemaFamilies = map[string]string{
	"faqpage":      "FAQ",
	"howto":        "HowTo",
	"organization": "Organization",
	"corporation":  "Organization",
	"article":      "Article",
	"newsarticle":  "Article",
	"blogposting":  "Article",
}

func schemaTypes(doc *goquery.Document) ([]string, bool) {
	seen := make(map[string]bool)
	var families []string
	add := func(t string) {
		t = t[strings.LastIndexAny(t, "/#")+1:]
		if fam, ok := schemaFamilies[strings.ToLower(strings.TrimSpace(t))]; ok && !seen[fam] {
			seen[fam] = true
			families = append(families, fam)
		}
	}

	hasJSONLD := false
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		hasJSONLD = true
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		walkTypes(v, add)
	})
	doc.Find("[itemtype]").Each(func(_ int, s *goquery.Selection) {
		itemtype, _ := s.Attr("itemtype")
		for _, t := range strings.Fields(itemtype) {
			add(t)
		}
	})
	sort.Strings(families)
	return families, hasJSONLD
}

func walkTypes(v any, add func(string)) {
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			walkTypes(item, add)
		}
	case map[string]any:
		switch t := x["@type"].(type) {
		case string:
			add(t)
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
		for k, child := range x {
			if k != "@type" {
				walkTypes(child, add)
			}
		}
	}
}
