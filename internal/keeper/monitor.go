package keeper

import (
	"context"
	"fmt"
	"time"

	"bothost/internal/models"

	"github.com/sirupsen/logrus"
)

// RunMonitor enforces the memory ceiling until ctx is done.
func (m *Manager) RunMonitor(ctx context.Context) {
	m.log.WithFields(logrus.Fields{
		"limit_mb": m.opts.MemoryLimit >> 20,
		"interval": m.opts.MemoryInterval,
	}).Info("memory monitor started")

	ticker := time.NewTicker(m.opts.MemoryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CheckMemory()
		case <-ctx.Done():
			m.log.Info("memory monitor stopped")
			return
		}
	}
}

// CheckMemory kills every bot above the ceiling and returns their ids. Bots
// whose memory cannot be read are skipped.
func (m *Manager) CheckMemory() []string {
	var killed []string
	for _, p := range m.registry.List() {
		rss, err := m.readRSS(p.PID)
		if err != nil || rss <= m.opts.MemoryLimit {
			continue
		}

		usedMB, limitMB := rss>>20, m.opts.MemoryLimit>>20
		p.setReason(models.ReasonMemoryLimit)
		if err := p.cmd.Kill(); err != nil {
			m.log.WithError(err).WithField("bot_id", p.ID).Warn("SIGKILL failed")
		}
		m.registry.Remove(p.ID, p)
		p.Logs.Emit(models.LevelError, fmt.Sprintf("bot killed: memory limit exceeded (%dMB/%dMB)", usedMB, limitMB))

		m.log.WithFields(logrus.Fields{
			"bot_id": p.ID, "pid": p.PID, "memory_mb": usedMB, "limit_mb": limitMB,
		}).Warn("bot exceeded memory limit, killed")
		killed = append(killed, p.ID)
	}
	return killed
}
