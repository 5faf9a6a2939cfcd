package api

import (
	"net/http"
	"time"

	"bothost/internal/auth"
	"bothost/internal/deploy"
	"bothost/internal/https"
	"bothost/internal/ratelimit"
	"bothost/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Options configure the HTTP surface.
type Options struct {
	// AllowOrigin decides CORS origins. Nil allows every origin.
	AllowOrigin    func(origin string) bool
	BodyLimit      int64
	Bundle         deploy.BundleLimits
	TrustedProxies []string
	// Certs enables the /admin/certs routes when the host serves TLS.
	Certs CertManager
}

type CertManager interface {
	CertInfo() (*https.CertInfo, error)
	ForceRenew() (string, error)
}

type Server struct {
	botService     service.IBotService
	fileService    service.IFileService
	historyService service.IHistoryService

	verifier *auth.Verifier
	limiter  *ratelimit.Limiter
	ws       gin.HandlerFunc

	opts      Options
	startedAt time.Time
	log       logrus.FieldLogger
}

func NewServer(bs service.IBotService, fs service.IFileService, hs service.IHistoryService,
	verifier *auth.Verifier, limiter *ratelimit.Limiter, ws gin.HandlerFunc, opts Options, log logrus.FieldLogger) *Server {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 10 << 20
	}
	if opts.Bundle.MaxBytes <= 0 {
		opts.Bundle.MaxBytes = 50 << 20
	}
	if opts.AllowOrigin == nil {
		opts.AllowOrigin = func(string) bool { return true }
	}
	return &Server{
		botService:     bs,
		fileService:    fs,
		historyService: hs,
		verifier:       verifier,
		limiter:        limiter,
		ws:             ws,
		opts:           opts,
		startedAt:      time.Now(),
		log:            log.WithField("component", "api"),
	}
}

// Router builds the gin engine with every route of the host.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if err := r.SetTrustedProxies(s.opts.TrustedProxies); err != nil {
		s.log.WithError(err).Warn("invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(corsMiddleware(s.opts.AllowOrigin))
	r.Use(s.limiter.Middleware("global"))

	r.GET("/health", s.HealthHandler)
	if s.ws != nil {
		r.GET("/ws", s.ws)
	}

	bots := r.Group("/bots", s.verifier.Middleware())
	{
		// bundles carry their own, larger upload limit
		bots.POST("/:id/bundle", limitBody(s.opts.Bundle.MaxBytes), s.limiter.Middleware("deploy"), s.BundleHandler)

		g := bots.Group("", limitBody(s.opts.BodyLimit))
		g.POST("/:id/deploy", s.limiter.Middleware("deploy"), s.DeployHandler)
		g.POST("/:id/start", s.StartHandler)
		g.POST("/:id/stop", s.StopHandler)
		g.POST("/:id/restart", s.RestartHandler)
		g.GET("/:id/logs", s.LogsHandler)
		g.GET("/:id/status", s.StatusHandler)
		g.POST("/:id/exec", s.limiter.Middleware("exec"), s.ExecHandler)

		g.POST("/:id/files", s.UploadFileHandler)
		g.GET("/:id/files", s.ListFilesHandler)
		g.DELETE("/:id/files/*name", s.DeleteFileHandler)

		g.GET("/:id/deployments", s.ListDeploymentsHandler)
		g.GET("/:id/runs", s.ListRunsHandler)
	}

	admin := r.Group("/admin", s.verifier.Middleware(), limitBody(s.opts.BodyLimit), s.limiter.Middleware("admin"))
	admin.POST("/stop-all", s.StopAllHandler)
	if s.opts.Certs != nil {
		admin.GET("/certs/info", s.CertInfoHandler)
		admin.POST("/certs/renew", s.CertRenewHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
