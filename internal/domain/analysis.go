package domain

import "time"

type Category string

const (
	CategoryHeading        Category = "heading_structure"
	CategoryTechnicalSEO   Category = "technical_seo"
	CategoryPerformance    Category = "performance"
	CategoryContent        Category = "content_quality"
	CategoryMobile         Category = "mobile_optimization"
	CategoryStructuredData Category = "structured_data"
)

// Categories lists every scoring category in report order. Their maxima sum
// to 100.
var Categories = []Category{
	CategoryHeading,
	CategoryTechnicalSEO,
	CategoryPerformance,
	CategoryContent,
	CategoryMobile,
	CategoryStructuredData,
}

func (c Category) MaxScore() int {
	switch c {
	case CategoryHeading:
		return 20
	case CategoryTechnicalSEO:
		return 25
	case CategoryPerformance:
		return 20
	case CategoryContent:
		return 20
	case CategoryMobile:
		return 10
	case CategoryStructuredData:
		return 5
	default:
		return 0
	}
}

func (c Category) Label() string {
	switch c {
	case CategoryHeading:
		return "Heading structure"
	case CategoryTechnicalSEO:
		return "Technical SEO"
	case CategoryPerformance:
		return "Performance"
	case CategoryContent:
		return "Content quality"
	case CategoryMobile:
		return "Mobile optimization"
	case CategoryStructuredData:
		return "Structured data"
	default:
		return string(c)
	}
}

type SubCheck struct {
	ID       string `json:"id"`
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Detail   string `json:"detail,omitempty"`
}

func (s SubCheck) Ratio() float64 {
	if s.MaxScore <= 0 {
		return 1
	}
	return float64(s.Score) / float64(s.MaxScore)
}

type CategoryResult struct {
	Category Category   `json:"category"`
	Score    int        `json:"score"`
	MaxScore int        `json:"max_score"`
	Checks   []SubCheck `json:"checks"`
}

// NewCategoryResult clamps every sub-check into 0..max and sums them, capped
// at the category maximum.
func NewCategoryResult(c Category, checks ...SubCheck) CategoryResult {
	res := CategoryResult{Category: c, MaxScore: c.MaxScore(), Checks: make([]SubCheck, 0, len(checks))}
	for _, chk := range checks {
		chk.Score = clamp(chk.Score, 0, chk.MaxScore)
		res.Score += chk.Score
		res.Checks = append(res.Checks, chk)
	}
	res.Score = clamp(res.Score, 0, res.MaxScore)
	return res
}

type SiteAnalysisResult struct {
	URL             string           `json:"url"`
	AnalyzedAt      time.Time        `json:"analyzed_at"`
	OverallScore    int              `json:"overall_score"`
	Categories      []CategoryResult `json:"categories"`
	Recommendations []string         `json:"recommendations"`
	Fallback        bool             `json:"fallback"`
	FailureReason   string           `json:"failure_reason,omitempty"`
}

func NewSiteAnalysisResult(url string, at time.Time, categories []CategoryResult, recommendations []string) *SiteAnalysisResult {
	res := &SiteAnalysisResult{
		URL:             url,
		AnalyzedAt:      at,
		Categories:      categories,
		Recommendations: recommendations,
	}
	for _, c := range categories {
		res.OverallScore += c.Score
	}
	if res.Recommendations == nil {
		res.Recommendations = []string{}
	}
	return res
}

// Category returns the result for c, if present.
func (r *SiteAnalysisResult) Category(c Category) (CategoryResult, bool) {
	for _, cr := range r.Categories {
		if cr.Category == c {
			return cr, true
		}
	}
	return CategoryResult{}, false
}

func (r *SiteAnalysisResult) Grade() string {
	switch {
	case r.OverallScore >= 80:
		return "A"
	case r.OverallScore >= 60:
		return "B"
	case r.OverallScore >= 40:
		return "C"
	default:
		return "D"
	}
}

var fallbackRecommendations = []string{
	"The full analysis could not be completed in time, so the scores in this report are provisional.",
	"Make sure the page is publicly reachable without login and responds within a few seconds.",
	"Our consultants will review the site manually and follow up with a detailed assessment.",
}

// FallbackResult builds the neutral placeholder delivered when analysis
// fails or times out. Each category gets half its maximum, rounded down,
// except structured data which rounds up so the overall score is 50.
func FallbackResult(url string, at time.Time, reason string) *SiteAnalysisResult {
	categories := make([]CategoryResult, 0, len(Categories))
	for _, c := range Categories {
		max := c.MaxScore()
		half := max / 2
		if c == CategoryStructuredData {
			half = (max + 1) / 2
		}
		categories = append(categories, NewCategoryResult(c, SubCheck{ID: "provisional", Score: half, MaxScore: max}))
	}
	res := NewSiteAnalysisResult(url, at, categories, append([]string(nil), fallbackRecommendations...))
	res.Fallback = true
	res.FailureReason = reason
	return res
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
