package api

import (
	"errors"
	"net/http"

	"bothost/internal/https"

	"github.com/gin-gonic/gin"
)

// CertInfoHandler GET /admin/certs/info
func (s *Server) CertInfoHandler(c *gin.Context) {
	info, err := s.opts.Certs.CertInfo()
	if errors.Is(err, https.ErrNoCert) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// CertRenewHandler archives the current certificate and obtains a new one.
// POST /admin/certs/renew
func (s *Server) CertRenewHandler(c *gin.Context) {
	archiveDir, err := s.opts.Certs.ForceRenew()
	if errors.Is(err, https.ErrACMEDisabled) || errors.Is(err, https.ErrAutoRenewed) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	response := gin.H{
		"success": true,
		"message": "Certificate renewed successfully",
	}
	if archiveDir != "" {
		response["archivedTo"] = archiveDir
	}
	c.JSON(http.StatusOK, response)
}
