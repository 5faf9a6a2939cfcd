package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StopAllHandler stops every running bot and reports how many there were.
// POST /admin/stop-all
func (s *Server) StopAllHandler(c *gin.Context) {
	n := s.botService.StopAll(c.Request.Context())
	s.log.WithField("stopped", n).Info("stopped all bots")
	c.JSON(http.StatusOK, gin.H{"success": true, "stopped": n})
}
