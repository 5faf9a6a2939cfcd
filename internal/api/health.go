package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"bothost/internal/procfs"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness and the roster of running bots.
// GET /health
func (s *Server) HealthHandler(c *gin.Context) {
	running := s.botService.Running()
	bots := make([]HealthBot, 0, len(running))
	for _, p := range running {
		bots = append(bots, HealthBot{ID: p.ID, PID: p.PID, Uptime: p.Uptime().Milliseconds()})
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startedAt).Seconds(),
		ActiveBots:  len(bots),
		Bots:        bots,
		MemoryUsage: hostMemory(),
	})
}

func hostMemory() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage := MemoryUsage{
		HeapTotal:  ms.HeapSys,
		HeapUsed:   ms.HeapAlloc,
		Sys:        ms.Sys,
		Goroutines: runtime.NumGoroutine(),
	}
	if rss, err := procfs.ReadRSS(os.Getpid()); err == nil {
		usage.RSS = rss
	}
	return usage
}
