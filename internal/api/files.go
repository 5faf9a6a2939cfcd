package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UploadFileHandler POST /bots/:id/files
func (s *Server) UploadFileHandler(c *gin.Context) {
	var opt UploadFileOption
	if err := bindJSON(c, &opt, false); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.fileService.WriteFile(c.Param("id"), opt.FileName, []byte(opt.Content)); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListFilesHandler lists bot files without dependency dirs and metadata.
// GET /bots/:id/files
func (s *Server) ListFilesHandler(c *gin.Context) {
	files, err := s.fileService.ListFiles(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// DeleteFileHandler DELETE /bots/:id/files/*name
func (s *Server) DeleteFileHandler(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if err := s.fileService.DeleteFile(c.Param("id"), name); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
