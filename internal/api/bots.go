package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"bothost/internal/auth"
	"bothost/internal/deploy"
	"bothost/internal/models"

	"github.com/gin-gonic/gin"
)

// DeployHandler writes a file set, installs dependencies and (re)starts the bot.
// POST /bots/:id/deploy
func (s *Server) DeployHandler(c *gin.Context) {
	var opt DeployOption
	if err := bindJSON(c, &opt, false); err != nil {
		s.respondError(c, err)
		return
	}
	files := make([]models.File, 0, len(opt.Files))
	for _, f := range opt.Files {
		files = append(files, models.File{Name: f.Name, Content: []byte(f.Content)})
	}
	s.deploy(c, deploy.Request{
		BotID:       c.Param("id"),
		Files:       files,
		EnvVars:     opt.EnvVars,
		Language:    opt.Language,
		StartupFile: opt.StartupFile,
		AutoStart:   opt.AutoStart,
	})
}

// BundleHandler deploys the contents of an uploaded .zip or .7z archive.
// POST /bots/:id/bundle (multipart: bundle, language, startupFile, autoStart, envVars)
func (s *Server) BundleHandler(c *gin.Context) {
	fh, err := c.FormFile("bundle")
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: bundle file is required: %v", models.ErrInvalidParam, err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", models.ErrInternal, err))
		return
	}
	defer f.Close()

	files, err := deploy.ReadBundle(fh.Filename, f, fh.Size, s.opts.Bundle)
	if err != nil {
		s.respondError(c, err)
		return
	}

	req := deploy.Request{
		BotID:       c.Param("id"),
		Files:       files,
		Language:    c.PostForm("language"),
		StartupFile: c.PostForm("startupFile"),
	}
	if v := c.PostForm("autoStart"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(c, fmt.Errorf("%w: autoStart must be a boolean", models.ErrInvalidParam))
			return
		}
		req.AutoStart = &b
	}
	if v := c.PostForm("envVars"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.EnvVars); err != nil {
			s.respondError(c, fmt.Errorf("%w: envVars must be a JSON object of strings", models.ErrInvalidParam))
			return
		}
	}
	s.deploy(c, req)
}

func (s *Server) deploy(c *gin.Context, req deploy.Request) {
	req.UserID = c.GetString(auth.UserIDKey)
	req.UserEmail = c.GetString(auth.UserEmailKey)

	res, err := s.botService.Deploy(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StartHandler starts a deployed bot.
// POST /bots/:id/start
func (s *Server) StartHandler(c *gin.Context) {
	var opt EnvOption
	if err := bindJSON(c, &opt, true); err != nil {
		s.respondError(c, err)
		return
	}
	p, err := s.botService.Start(c.Request.Context(), c.Param("id"), opt.EnvVars)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pid": p.PID, "runId": p.RunID})
}

// StopHandler stops a running bot. forced reports a SIGKILL escalation.
// POST /bots/:id/stop
func (s *Server) StopHandler(c *gin.Context) {
	forced, err := s.botService.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "forced": forced})
}

// RestartHandler stops the bot if it runs and starts it again.
// POST /bots/:id/restart
func (s *Server) RestartHandler(c *gin.Context) {
	var opt EnvOption
	if err := bindJSON(c, &opt, true); err != nil {
		s.respondError(c, err)
		return
	}
	p, err := s.botService.Restart(c.Request.Context(), c.Param("id"), opt.EnvVars)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Bot restarted", "pid": p.PID, "runId": p.RunID})
}

// LogsHandler returns the buffered log of the current or last run.
// GET /bots/:id/logs
func (s *Server) LogsHandler(c *gin.Context) {
	logs, err := s.botService.Logs(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// StatusHandler GET /bots/:id/status
func (s *Server) StatusHandler(c *gin.Context) {
	st, err := s.botService.Status(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ExecHandler runs an allow-listed command in the bot directory.
// POST /bots/:id/exec
func (s *Server) ExecHandler(c *gin.Context) {
	var opt ExecOption
	if err := bindJSON(c, &opt, true); err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.botService.Exec(c.Request.Context(), c.Param("id"), opt.Command)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
