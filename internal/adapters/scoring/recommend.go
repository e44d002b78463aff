package scoring

import (
	"sort"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// RecommendationThreshold is the score ratio below which a sub-check
// produces a recommendation.
const RecommendationThreshold = 0.6

var recommendationText = map[string]string{
	"single_h1":         "Use exactly one <h1> per page that states the page's main topic.",
	"heading_hierarchy": "Structure headings in order (h1, then h2, then h3) without skipping levels so AI crawlers can follow the outline.",
	"title":             "Write a unique <title> of roughly 30 to 60 characters that names the page's subject.",
	"meta_description":  "Add a meta description of 70 to 160 characters summarising what the page answers.",
	"canonical":         "Declare a canonical URL with <link rel=\"canonical\"> to consolidate duplicate pages.",
	"open_graph":        "Add Open Graph tags (og:title, og:description, og:image, og:type) so shared and cited links render with context.",
	"links":             "Link to related pages on your site and cite authoritative external sources.",
	"load_time":         "Reduce page load time: compress images, defer non-critical scripts and enable caching.",
	"performance_score": "Improve Core Web Vitals: paint main content sooner and reserve space for late-loading elements to avoid layout shifts.",
	"word_count":        "Expand the page with substantive, original text; pages under 300 words are rarely cited by generative engines.",
	"alt_coverage":      "Give every meaningful image descriptive alt text.",
	"text_image_ratio":  "Balance text and imagery so each image is supported by explanatory copy.",
	"readability":       "Keep sentences short and direct, ideally 8 to 25 words each.",
	"viewport":          "Add <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">.",
	"responsive":        "Make the layout responsive: avoid fixed pixel widths, prevent horizontal scrolling and use media queries.",
	"schema_types":      "Add JSON-LD structured data such as Organization, Article, FAQPage or HowTo.",
}

type candidate struct {
	check domain.SubCheck
	ratio float64
}

// Recommend lists fixed suggestions for weak sub-checks, weakest first. Ties
// go to the sub-check with the larger maximum.
func Recommend(categories []domain.CategoryResult) []string {
	var weak []candidate
	for _, c := range categories {
		for _, chk := range c.Checks {
			if _, ok := recommendationText[chk.ID]; !ok {
				continue
			}
			if r := chk.Ratio(); r < RecommendationThreshold {
				weak = append(weak, candidate{chk, r})
			}
		}
	}

	sort.SliceStable(weak, func(i, j int) bool {
		if weak[i].ratio != weak[j].ratio {
			return weak[i].ratio < weak[j].ratio
		}
		return weak[i].check.MaxScore > weak[j].check.MaxScore
	})

	out := make([]string, 0, len(weak))
	for _, w := range weak {
		out = append(out, recommendationText[w.check.ID])
	}
	return out
}
