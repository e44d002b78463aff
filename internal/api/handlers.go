package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/app"
	"github.com/gyakuten/llmoradar/internal/domain"
)

const originKey = "llmoradar.origin"

// StatusFor maps a refusal reason onto its HTTP status.
func StatusFor(reason domain.DecisionReason) int {
	switch reason {
	case domain.ReasonEmergencyStop, domain.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.ReasonDailyCap, domain.ReasonHourlyLimit, domain.ReasonOriginDailyLimit:
		return http.StatusTooManyRequests
	case domain.ReasonBlacklisted, domain.ReasonHighRisk:
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}

var refusalMessages = map[domain.DecisionReason]string{
	domain.ReasonEmergencyStop:    "The diagnosis service is temporarily unavailable.",
	domain.ReasonStoreUnavailable: "The diagnosis service is temporarily unavailable.",
	domain.ReasonDailyCap:         "Today's diagnosis capacity has been reached. Please try again tomorrow.",
	domain.ReasonHourlyLimit:      "Too many requests. Please try again later.",
	domain.ReasonOriginDailyLimit: "Daily request limit reached. Please try again tomorrow.",
	domain.ReasonBlacklisted:      "Access denied.",
	domain.ReasonHighRisk:         "This request could not be accepted.",
}

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func bodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func (s *Server) handleDiagnosis(c *gin.Context) {
	origin := ClientOrigin(c.Request, s.trust)
	c.Set(originKey, origin)

	var payload map[string]any
	if err := c.ShouldBindBodyWith(&payload, binding.JSON); err != nil {
		if bodyTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": "Request body must be a JSON object."})
		return
	}
	var req domain.DiagnosisRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": "One or more fields have the wrong type."})
		return
	}

	meta := &domain.AdmissionRequest{
		Origin:     origin,
		UserAgent:  c.Request.UserAgent(),
		Headers:    headerMap(c.Request.Header),
		Payload:    payload,
		ReceivedAt: s.now(),
	}

	sub, err := s.diagnosis.Submit(c.Request.Context(), req, meta)
	if err != nil {
		s.writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"job_id":          sub.Job.ID,
		"remaining_daily": sub.Decision.RemainingDaily,
		"message":         "Your diagnosis has started. The report will be sent to your email address.",
	})
}

func (s *Server) writeSubmitError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": ve.Fields})
		return
	}

	if ae, ok := app.AsAdmissionError(err); ok {
		d := ae.Decision
		body := gin.H{"error": string(d.Reason), "message": refusalMessages[d.Reason]}
		if secs := d.RetryAfterSeconds(); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
			body["retry_after"] = secs
		}
		c.JSON(StatusFor(d.Reason), body)
		return
	}

	if errors.Is(err, app.ErrQueueUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_unavailable", "message": "Please try again shortly."})
		return
	}

	log.Error().Err(err).Msg("Unhandled diagnosis submission error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

// requireAdminKey rejects requests whose header does not match key. An empty
// key disables the admin endpoints.
func requireAdminKey(header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_disabled"})
			return
		}
		got := c.GetHeader(header)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			log.Warn().Str("origin", ClientOrigin(c.Request, nil)).Str("path", c.FullPath()).Msg("Rejected admin request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleSecurityMetrics(c *gin.Context) {
	snap, err := s.admin.Snapshot(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Security snapshot failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	var recent []*domain.Alert
	if s.alerts != nil {
		recent = s.alerts.Latest(s.cfg.RecentAlerts)
	}
	if recent == nil {
		recent = []*domain.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"security": snap, "recent_alerts": recent})
}

type manageRequest struct {
	Action string `json:"action" binding:"required,oneof=blacklist unblacklist"`
	IP     string `json:"ip" binding:"required,ip"`
}

func (s *Server) handleManage(c *gin.Context) {
	var req manageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "action must be blacklist or unblacklist and ip a valid address"})
		return
	}

	err := s.admin.SetBlacklist(c.Request.Context(), req.IP, req.Action == "blacklist")
	switch {
	case errors.Is(err, app.ErrInvalidOrigin):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ip"})
		return
	case err != nil:
		log.Error().Err(err).Str("action", req.Action).Msg("Blacklist update failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "action": req.Action, "ip": req.IP})
}

func (s *Server) handleOrigin(c *gin.Context) {
	o, err := s.admin.Origin(c.Request.Context(), c.Param("ip"))
	switch {
	case errors.Is(err, domain.ErrOriginNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.JSON(http.StatusOK, o)
}
