package domain

import "time"

// BlacklistEntry is the persisted form of a blacklist decision.
type BlacklistEntry struct {
	Reason    string    `json:"reason"`
	Automatic bool      `json:"automatic"`
	CreatedAt time.Time `json:"created_at"`
}

type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report is what the notifier delivers: the result plus who asked for it.
type Report struct {
	JobID     string              `json:"job_id"`
	Recipient string              `json:"recipient"`
	Internal  bool                `json:"internal"`
	Contact   Contact             `json:"contact"`
	Result    *SiteAnalysisResult `json:"result"`
}

func (r *DiagnosisRequest) Contact() Contact {
	return Contact{
		Name:    r.Name,
		Email:   r.Email,
		Company: r.Company,
		Phone:   r.Phone,
		Message: r.Message,
	}
}
