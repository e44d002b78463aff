package detection

import (
	"context"
	"strings"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// countryHeaders are checked in order; the first non-empty one wins.
var countryHeaders = []string{"cf-ipcountry", "x-vercel-ip-country", "x-country-code"}

// GeoDetector applies coarse country risk from edge-provided headers.
type GeoDetector struct {
	policy domain.PolicySource
}

func NewGeoDetector(policy domain.PolicySource) *GeoDetector {
	return &GeoDetector{policy: policy}
}

func (d *GeoDetector) Assess(_ context.Context, req *domain.AdmissionRequest) domain.RiskAssessment {
	var risk domain.RiskAssessment
	country := Country(req)
	if country == "" {
		return risk
	}
	p := d.policy.Policy()
	for _, c := range p.HighRiskCountries {
		if strings.EqualFold(c, country) {
			risk.Add(p.Weights.HighRiskCountry, domain.TagHighRiskCountry)
			break
		}
	}
	return risk
}

func (d *GeoDetector) Name() string {
	return "geo"
}

// Country returns the upper-cased country code reported by the edge.
func Country(req *domain.AdmissionRequest) string {
	for _, h := range countryHeaders {
		if v := strings.TrimSpace(req.Header(h)); v != "" {
			return strings.ToUpper(v)
		}
	}
	return ""
}
