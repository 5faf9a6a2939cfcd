package keeper

import (
	"bufio"
	"io"
	"sync"
	"time"

	"bothost/internal/models"
)

// BotProcess is one live bot run.
type BotProcess struct {
	ID        string
	RunID     string
	PID       int
	Language  string
	StartedAt time.Time
	Logs      *LogBuffer

	cmd  *JobCmd
	done chan struct{}

	mu       sync.Mutex
	reason   models.StopReason
	exitCode int
}

// Done is closed once the process has exited and left the registry.
func (p *BotProcess) Done() <-chan struct{} {
	return p.done
}

func (p *BotProcess) Uptime() time.Duration {
	return time.Since(p.StartedAt)
}

// ExitCode is -1 for signal deaths. Only meaningful after Done.
func (p *BotProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// setReason records why the host ended the run. The first reason sticks.
func (p *BotProcess) setReason(r models.StopReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reason == "" {
		p.reason = r
	}
}

func (p *BotProcess) stopReason() models.StopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reason == "" {
		return models.ReasonExit
	}
	return p.reason
}

const maxLineBytes = 64 * 1024

// pumpLines calls emit for every line read from r until EOF. Lines longer
// than maxLineBytes are truncated, the rest of the line is discarded.
func pumpLines(r io.Reader, emit func(string)) {
	br := bufio.NewReaderSize(r, maxLineBytes)
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if room := maxLineBytes - len(line); room > 0 && len(chunk) > 0 {
			line = append(line, chunk[:min(len(chunk), room)]...)
		}
		if err != nil {
			if len(line) > 0 {
				emit(string(line))
			}
			return
		}
		if !isPrefix {
			emit(string(line))
			line = line[:0]
		}
	}
}
