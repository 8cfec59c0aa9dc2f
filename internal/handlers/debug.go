package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"booking-chat/internal/telemetry"
)

// ConnectionCounter reports live websocket bindings.
type ConnectionCounter interface {
	Count() int
}

// DebugDeps are the collaborators exposed by debug routes.
type DebugDeps struct {
	Audit       *telemetry.AuditEmitter
	Connections ConnectionCounter
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if deps.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		deps.Audit.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/connections", func(c *gin.Context) {
		online := 0
		if deps.Connections != nil {
			online = deps.Connections.Count()
		}
		c.JSON(http.StatusOK, gin.H{"online_principals": online})
	})
}
