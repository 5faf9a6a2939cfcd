package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bothost/config"
	"bothost/internal/api"
	"bothost/internal/auth"
	"bothost/internal/botfs"
	"bothost/internal/db"
	"bothost/internal/deploy"
	"bothost/internal/https"
	"bothost/internal/keeper"
	"bothost/internal/logging"
	"bothost/internal/ratelimit"
	"bothost/internal/sandbox"
	"bothost/internal/service"
	"bothost/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	log, closer, err := logging.Init(logging.Config{
		Level:      config.LogLevel,
		OutputFile: config.LogFile,
	})
	if err != nil {
		logrus.WithError(err).Fatal("failed to init logging")
	}
	defer closer.Close()

	if err := config.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if config.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set: authentication is DISABLED, every request is accepted")
	}
	gin.SetMode(gin.ReleaseMode)

	initDirectories(log)

	limits, err := config.LoadLimits(config.HostConfig)
	if err != nil {
		log.WithError(err).Fatal("failed to load host limits")
	}

	layout := botfs.Layout{Root: config.BotsDir}

	// The ledger is optional, the host runs without history if it cannot open.
	var ledger service.Ledger
	store, err := db.Open(config.DBFile)
	if err != nil {
		log.WithError(err).Warn("failed to open ledger, deployment and run history disabled")
	} else {
		ledger = store
		log.WithField("path", config.DBFile).Info("ledger opened")
	}

	mgr := keeper.NewManager(layout, keeper.NewMemoryRegistry(), keeper.DefaultCatalog(), keeper.Options{
		BufferSize:     limits.LogBufferSize,
		StopTimeout:    limits.StopTimeout,
		MemoryLimit:    limits.MemoryLimitMB << 20,
		MemoryInterval: limits.MemoryCheck,
	}, log)
	hub := stream.NewHub(log)
	mgr.SetSink(hub)
	if store != nil {
		mgr.SetRecorder(store)
	}

	deployer := deploy.NewDeployer(layout, mgr, &deploy.CommandInstaller{Timeout: limits.InstallTime}, log)
	if store != nil {
		deployer.SetLedger(store)
	}
	sb := sandbox.New(layout, sandbox.Options{
		Allowed:   limits.ExecAllowed,
		Timeout:   limits.ExecTimeout,
		OutputCap: limits.ExecOutputCap,
	}, log)

	verifier := auth.NewVerifier(config.JWTSecret)
	policy := api.OriginPolicy{Origins: config.AllowedOrigins, Suffix: config.OriginSuffix}
	gateway := stream.NewGateway(hub, mgr, verifier, policy.Allow, stream.Options{
		ReplaySize:   limits.ReplaySize,
		MaxPerIP:     limits.WSPerIP,
		PingInterval: limits.WSPing,
	}, log)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), limits.RateLimits, log)

	httpsCfg, err := https.LoadConfig(config.HTTPSConfig)
	if err != nil {
		log.WithError(err).Warn("failed to load https config, serving plain http")
		httpsCfg = https.DefaultConfig()
	}
	certManager := https.NewManager(httpsCfg, config.CertsDir, config.CertFile, config.KeyFile, log)
	tlsConfig, err := certManager.Setup()
	if err != nil {
		log.WithError(err).Warn("TLS setup failed, falling back to HTTP")
		tlsConfig = nil
	}

	opts := api.Options{
		AllowOrigin: policy.Allow,
		BodyLimit:   limits.BodyLimit,
		Bundle: deploy.BundleLimits{
			MaxBytes:   limits.BundleLimit,
			MaxEntries: limits.BundleEntries,
		},
		TrustedProxies: config.TrustedProxies,
	}
	if tlsConfig != nil {
		opts.Certs = certManager
	}
	server := api.NewServer(
		service.NewBotService(layout, mgr, deployer, sb),
		service.NewFileService(layout),
		service.NewHistoryService(layout, ledger),
		verifier, limiter, gateway.Handle, opts, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go limiter.Run(ctx, limits.RateSweep)
	go mgr.RunMonitor(ctx)
	go gateway.Run(ctx)
	if tlsConfig != nil {
		go certManager.Run(ctx, 30*time.Second, 12*time.Hour)
	}

	srv := &http.Server{
		Addr:              ":" + config.HTTPPort,
		Handler:           server.Router(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
	}

	srvErrCh := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			log.WithField("port", config.HTTPPort).Info("bothost HTTPS listening")
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.WithField("port", config.HTTPPort).Info("bothost HTTP listening")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-srvErrCh:
		log.WithError(err).Error("server failed, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// refuse new work first, then stop the bots
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	cancel()
	stopped := mgr.StopAll(shutdownCtx)
	log.WithField("stopped", stopped).Info("all bots stopped")

	if store != nil {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close ledger")
		}
	}
	log.Info("bothost exit")
}

func initDirectories(log logrus.FieldLogger) {
	for _, dir := range []string{config.BotsDir, config.CertsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.WithError(err).WithField("dir", dir).Warn("failed to create directory")
		}
	}
}
