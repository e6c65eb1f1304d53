package httpapi

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gin-gonic/gin"
)

// authMiddleware accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty api.token leaves the group open.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := s.currentToken()
		if want == "" {
			c.Next()
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if got == "" {
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func handlePprof(c *gin.Context) {
	w, r := c.Writer, c.Request
	switch strings.TrimPrefix(c.Param("name"), "/") {
	case "cmdline":
		hpprof.Cmdline(w, r)
	case "profile":
		hpprof.Profile(w, r)
	case "symbol":
		hpprof.Symbol(w, r)
	case "trace":
		hpprof.Trace(w, r)
	default:
		// Index also serves named profiles (heap, goroutine, ...).
		hpprof.Index(w, r)
	}
}
