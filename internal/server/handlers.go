package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/ratelimit"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/tracing"
)

type handlers struct {
	tracer  *tracing.Tracer
	limiter *ratelimit.Manager
	logger  *zap.Logger
}

func newHandlers(tracer *tracing.Tracer, limiter *ratelimit.Manager, logger *zap.Logger) *handlers {
	return &handlers{tracer: tracer, limiter: limiter, logger: logger}
}

// Health reports liveness.
func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetTrace returns one trace by ID, possibly partial for traces still
// in flight.
func (h *handlers) GetTrace(c *gin.Context) {
	trace, err := h.tracer.GetTrace(c.Request.Context(), c.Param("id"))
	if errors.Is(err, tracing.ErrTraceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trace store unavailable"})
		return
	}
	c.JSON(http.StatusOK, trace)
}

// SearchTraces queries the completed-trace cache with optional filters.
func (h *handlers) SearchTraces(c *gin.Context) {
	filter := tracing.SearchFilter{
		Service:   c.Query("service"),
		Operation: c.Query("operation"),
	}

	if raw := c.Query("min_duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_duration"})
			return
		}
		filter.MinDuration = d
	}
	if raw := c.Query("max_duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_duration"})
			return
		}
		filter.MaxDuration = d
	}
	if raw := c.Query("has_errors"); raw != "" {
		hasErrors, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid has_errors"})
			return
		}
		filter.HasErrors = &hasErrors
	}
	if raw := c.Query("start"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start"})
			return
		}
		filter.Start = ts
	}
	if raw := c.Query("end"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end"})
			return
		}
		filter.End = ts
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	traces := h.tracer.SearchTraces(filter, limit)
	c.JSON(http.StatusOK, gin.H{"traces": traces, "count": len(traces)})
}

// TracingStats returns the tracer's aggregate counters.
func (h *handlers) TracingStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracer.Metrics())
}

// RateLimitStats returns the limiter's aggregate counters.
func (h *handlers) RateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.Metrics())
}

// AddPolicy registers a rate limit policy at runtime.
func (h *handlers) AddPolicy(c *gin.Context) {
	var cfg ratelimit.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy name is required"})
		return
	}

	h.limiter.AddConfig(cfg)
	h.logger.Info("rate limit policy registered", zap.String("policy", cfg.Name))
	c.JSON(http.StatusCreated, cfg)
}

// CheckPolicy evaluates a policy for an identifier. Used by sibling
// services that enforce limits without their own store connection.
func (h *handlers) CheckPolicy(c *gin.Context) {
	var req struct {
		Policy     string `json:"policy" binding:"required"`
		Identifier string `json:"identifier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	check := h.limiter.Check(c.Request.Context(), req.Policy, req.Identifier)
	for key, value := range ratelimit.Headers(check) {
		c.Header(key, value)
	}
	status := http.StatusOK
	if check.Result == ratelimit.ResultDenied {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, check)
}

// ResetPolicy clears stored counters for a (policy, identifier) pair.
func (h *handlers) ResetPolicy(c *gin.Context) {
	policy := c.Param("policy")
	identifier := c.Param("identifier")

	if err := h.limiter.Reset(c.Request.Context(), policy, identifier); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	h.logger.Info("rate limit reset",
		zap.String("policy", policy),
		zap.String("identifier", identifier),
	)
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
