package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"bothost/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, models.ErrBundleTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrBotNotFound), errors.Is(err, models.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidBotID),
		errors.Is(err, models.ErrInvalidPath),
		errors.Is(err, models.ErrInvalidParam),
		errors.Is(err, models.ErrCommandRequired),
		errors.Is(err, models.ErrCommandNotAllowed),
		errors.Is(err, models.ErrUnsupportedLanguage),
		errors.Is(err, models.ErrNotDeployed),
		errors.Is(err, models.ErrNotRunning):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"path":   c.FullPath(),
			"bot_id": c.Param("id"),
		}).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindJSON decodes the request body. With optional set an empty body is
// accepted and leaves v untouched.
func bindJSON(c *gin.Context, v interface{}, optional bool) error {
	err := c.ShouldBindJSON(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrInvalidParam, err)
}
