package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tgrelay/internal/health"
	"tgrelay/internal/storage"
)

func (s *Server) healthStatus() health.Status {
	if s.deps.Health == nil {
		return health.Status{Ready: true}
	}
	return s.deps.Health.Status()
}

// GET /health
func (s *Server) handleHealth(c *gin.Context) {
	st := s.healthStatus()
	status := "ok"
	if !st.Ready {
		status = "degraded"
	}
	body := gin.H{
		"status":         status,
		"service":        serviceName,
		"version":        s.deps.Version,
		"telegram_ready": st.Ready,
	}
	if s.deps.Bot != "" {
		body["bot"] = "@" + s.deps.Bot
	}
	if !st.LastProbe.IsZero() {
		body["last_probe"] = st.LastProbe
	}
	if st.LastError != "" {
		body["last_error"] = st.LastError
	}
	c.JSON(http.StatusOK, body)
}

// GET /ping
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// GET /api/v1/deliveries?limit=N
func (s *Server) handleDeliveries(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			failMsg(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if s.deps.Store == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "enabled": false, "deliveries": []storage.DeliveryRecord{}})
		return
	}
	recs, err := s.deps.Store.RecentDeliveries(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []storage.DeliveryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "enabled": true, "deliveries": recs})
}

// GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	p := s.deps.Engine.Policy()
	cfg := s.config()
	body := gin.H{
		"success": true,
		"version": s.deps.Version,
		"health":  s.healthStatus(),
		"stats":   s.deps.Engine.Stats(),
		"policy": gin.H{
			"max_attempts":     p.MaxAttempts,
			"base_delay":       p.BaseDelay.String(),
			"attempt_timeout":  p.AttemptTimeout.String(),
			"inter_send_delay": p.InterSendDelay.String(),
			"parse_mode":       cfg.ParseMode,
			"disable_preview":  cfg.DisablePreview,
		},
		"destinations": s.deps.Resolver.Config(),
	}
	if s.deps.Runtime != nil {
		body["runtime"] = s.deps.Runtime()
	}
	c.JSON(http.StatusOK, body)
}
