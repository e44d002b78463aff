package output

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// QueueStatus is the view of the job queue the health check needs.
type QueueStatus interface {
	Depth() int
	Capacity() int
	Running() bool
}

// StoreProbe is any call that proves the counter store is reachable.
type StoreProbe func(ctx context.Context) error

type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Status        string        `json:"status"`
	StoreLatency  time.Duration `json:"store_latency_ns"`
	QueueDepth    int           `json:"queue_depth"`
	QueueCapacity int           `json:"queue_capacity"`
	Utilization   float64       `json:"utilization_percent"`
	Uptime        time.Duration `json:"uptime_ns"`
	Reason        string        `json:"reason,omitempty"`
}

// HealthChecker reports liveness of the store and the job queue. Results are
// cached for CheckInterval.
type HealthChecker struct {
	queue      QueueStatus
	probe      StoreProbe
	maxLatency time.Duration
	startTime  time.Time

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastCheckMu   sync.RWMutex
	checkInterval time.Duration
}

type HealthCheckerConfig struct {
	MaxLatency    time.Duration
	CheckInterval time.Duration
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		MaxLatency:    500 * time.Millisecond,
		CheckInterval: 5 * time.Second,
	}
}

func NewHealthChecker(queue QueueStatus, probe StoreProbe, config HealthCheckerConfig) *HealthChecker {
	return &HealthChecker{
		queue:         queue,
		probe:         probe,
		maxLatency:    config.MaxLatency,
		checkInterval: config.CheckInterval,
		startTime:     time.Now(),
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.lastCheckMu.RLock()
	if !h.lastCheckTime.IsZero() && time.Since(h.lastCheckTime) < h.checkInterval {
		cached := h.lastCheck
		h.lastCheckMu.RUnlock()
		return cached
	}
	h.lastCheckMu.RUnlock()

	status := h.performCheck(ctx)

	h.lastCheckMu.Lock()
	h.lastCheck = status
	h.lastCheckTime = time.Now()
	h.lastCheckMu.Unlock()

	return status
}

func (h *HealthChecker) performCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Uptime: time.Since(h.startTime)}

	if h.queue != nil {
		if !h.queue.Running() {
			status.Status = "OFFLINE"
			status.Reason = "job queue not running"
			return status
		}
		status.QueueDepth = h.queue.Depth()
		status.QueueCapacity = h.queue.Capacity()
		if status.QueueCapacity > 0 && status.QueueDepth >= 0 {
			status.Utilization = float64(status.QueueDepth) / float64(status.QueueCapacity) * 100
		}
	}

	if h.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, h.maxLatency)
		defer cancel()
		start := time.Now()
		err := h.probe(probeCtx)
		status.StoreLatency = time.Since(start)
		if err != nil {
			status.Status = "STORE_UNAVAILABLE"
			status.Reason = err.Error()
			return status
		}
	}

	switch {
	case status.Utilization >= 95:
		status.Status = "SATURATED"
		status.Reason = fmt.Sprintf("queue utilization at %.1f%%", status.Utilization)
	case status.StoreLatency > h.maxLatency:
		status.Status = "SLOW"
		status.Reason = fmt.Sprintf("store latency %v exceeds threshold %v", status.StoreLatency, h.maxLatency)
	case status.Utilization >= 80:
		status.Healthy = true
		status.Status = "DEGRADED"
		status.Reason = fmt.Sprintf("queue utilization elevated at %.1f%%", status.Utilization)
	default:
		status.Healthy = true
		status.Status = "HEALTHY"
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
