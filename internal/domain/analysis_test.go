package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryMaximaSumTo100(t *testing.T) {
	total := 0
	for _, c := range Categories {
		total += c.MaxScore()
	}
	assert.Equal(t, 100, total)
}

func TestNewCategoryResultClampsChecks(t *testing.T) {
	res := NewCategoryResult(CategoryMobile,
		SubCheck{ID: "viewport", Score: 9, MaxScore: 6},
		SubCheck{ID: "responsive", Score: -2, MaxScore: 4},
	)

	assert.Equal(t, 6, res.Score)
	assert.Equal(t, 10, res.MaxScore)
	assert.Equal(t, 6, res.Checks[0].Score)
	assert.Equal(t, 0, res.Checks[1].Score)
}

func TestNewSiteAnalysisResultSumsCategories(t *testing.T) {
	cats := []CategoryResult{
		NewCategoryResult(CategoryHeading, SubCheck{ID: "single_h1", Score: 10, MaxScore: 10}),
		NewCategoryResult(CategoryStructuredData, SubCheck{ID: "schema_types", Score: 3, MaxScore: 5}),
	}
	res := NewSiteAnalysisResult("https://example.com", epoch, cats, nil)

	assert.Equal(t, 13, res.OverallScore)
	assert.NotNil(t, res.Recommendations)
	assert.Equal(t, "D", res.Grade())

	c, ok := res.Category(CategoryStructuredData)
	assert.True(t, ok)
	assert.Equal(t, 3, c.Score)
	_, ok = res.Category(CategoryMobile)
	assert.False(t, ok)
}

func TestFallbackResultIsWellFormed(t *testing.T) {
	res := FallbackResult("https://example.com", epoch, "timeout")

	assert.True(t, res.Fallback)
	assert.Equal(t, "timeout", res.FailureReason)
	assert.Equal(t, 50, res.OverallScore)
	assert.Len(t, res.Categories, len(Categories))
	assert.NotEmpty(t, res.Recommendations)

	sum := 0
	for _, c := range res.Categories {
		half := c.MaxScore / 2
		if c.Category == CategoryStructuredData {
			half = (c.MaxScore + 1) / 2
		}
		assert.Equal(t, half, c.Score, "%s", c.Category)
		assert.GreaterOrEqual(t, c.Score, 0)
		assert.LessOrEqual(t, c.Score, c.MaxScore)
		sum += c.Score
	}
	assert.Equal(t, res.OverallScore, sum)
}
