package domain

import "time"

// PageSignals is what a renderer hands to the scoring engine. Zero timing
// values mean the signal was not measured.
type PageSignals struct {
	RequestedURL           string        `json:"requested_url"`
	FinalURL               string        `json:"final_url"`
	StatusCode             int           `json:"status_code"`
	HTML                   string        `json:"-"`
	LoadTime               time.Duration `json:"load_time"`
	DOMContentLoaded       time.Duration `json:"dom_content_loaded"`
	FirstContentfulPaint   time.Duration `json:"first_contentful_paint"`
	LargestContentfulPaint time.Duration `json:"largest_contentful_paint"`
	CumulativeLayoutShift  float64       `json:"cumulative_layout_shift"`
	ScrollWidth            int           `json:"scroll_width"`
	ViewportWidth          int           `json:"viewport_width"`
	MediaQueryCount        int           `json:"media_query_count"`
	Rendered               bool          `json:"rendered"`
}

func (s *PageSignals) HorizontalOverflow() bool {
	return s.ViewportWidth > 0 && s.ScrollWidth > s.ViewportWidth
}
