package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func listLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// ListDeploymentsHandler GET /bots/:id/deployments?limit=N
func (s *Server) ListDeploymentsHandler(c *gin.Context) {
	list, err := s.historyService.ListDeployments(c.Request.Context(), c.Param("id"), listLimit(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deployments": list})
}

// ListRunsHandler GET /bots/:id/runs?limit=N
func (s *Server) ListRunsHandler(c *gin.Context) {
	list, err := s.historyService.ListRuns(c.Request.Context(), c.Param("id"), listLimit(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": list})
}
