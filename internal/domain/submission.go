package domain

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const DefaultMinFormFillTime = 5 * time.Second

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^[0-9+\-() ]{10,20}$`)
)

// DiagnosisRequest is the body of an LLMO diagnosis submission. Website is a
// honeypot that real visitors never see.
type DiagnosisRequest struct {
	URL          string `json:"url" validate:"required,max=2048,web_url"`
	Name         string `json:"name" validate:"required,max=100"`
	Email        string `json:"email" validate:"required,max=254,contact_email"`
	Company      string `json:"company" validate:"max=200"`
	Phone        string `json:"phone" validate:"omitempty,contact_phone"`
	Message      string `json:"message" validate:"max=2000"`
	FormFillTime int64  `json:"form_fill_time"`
	Website      string `json:"website,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Has(field, code string) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Code == code {
			return true
		}
	}
	return false
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("contact_email", func(fl validator.FieldLevel) bool {
			return emailPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("contact_phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("web_url", func(fl validator.FieldLevel) bool {
			return IsWebURL(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// IsWebURL reports whether raw is an absolute http(s) URL with a host.
func IsWebURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Hostname() != ""
}

// Validate checks required fields, formats and the minimum time the form was
// on screen. Fill-time is checked even when other fields fail.
func (r *DiagnosisRequest) Validate(minFill time.Duration) error {
	var out ValidationError

	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate request: %w", err)
		}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, FieldError{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: fieldMessage(fe),
			})
		}
	}

	if time.Duration(r.FormFillTime)*time.Millisecond < minFill {
		out.Fields = append(out.Fields, FieldError{
			Field:   "form_fill_time",
			Code:    "too_fast",
			Message: "form was submitted too fast",
		})
	}

	if len(out.Fields) > 0 {
		return &out
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "contact_email":
		return "is not a valid email address"
	case "contact_phone":
		return "is not a valid phone number"
	case "web_url":
		return "must be an absolute http or https URL"
	default:
		return "is invalid"
	}
}

// Payload renders the request as the untyped map used by risk scoring.
func (r *DiagnosisRequest) Payload() map[string]any {
	return map[string]any{
		"url":            r.URL,
		"name":           r.Name,
		"email":          r.Email,
		"company":        r.Company,
		"phone":          r.Phone,
		"message":        r.Message,
		"form_fill_time": r.FormFillTime,
		"website":        r.Website,
	}
}

// DiagnosisJob is one unit of background work: analyse and report.
type DiagnosisJob struct {
	ID          string           `json:"id"`
	Request     DiagnosisRequest `json:"request"`
	Origin      string           `json:"origin"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

func NewDiagnosisJob(req DiagnosisRequest, origin string, at time.Time) *DiagnosisJob {
	return &DiagnosisJob{
		ID:          uuid.NewString(),
		Request:     req,
		Origin:      origin,
		SubmittedAt: at,
	}
}
