package keeper

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"bothost/internal/botfs"
	"bothost/internal/models"
	"bothost/internal/procfs"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options are the process limits of a Manager.
type Options struct {
	BufferSize     int
	StopTimeout    time.Duration
	MemoryLimit    int64 // bytes
	MemoryInterval time.Duration
}

// RunRecorder persists run starts and exits. Failures are logged only.
type RunRecorder interface {
	RecordRunStart(ctx context.Context, run *models.Run) error
	RecordRunExit(ctx context.Context, runID string, exitCode int, reason models.StopReason, endedAt time.Time) error
}

// MemoryReader returns the resident memory of pid in bytes.
type MemoryReader func(pid int) (int64, error)

// StartRequest starts a deployed bot. Empty Language and StartupFile are
// read from the bot's metadata.
type StartRequest struct {
	BotID       string
	Language    string
	StartupFile string
	EnvVars     map[string]string
}

// killWait bounds how long Stop waits after SIGKILL.
const killWait = 5 * time.Second

// drainWait bounds how long output is read after the bot exited, in case
// an orphaned grandchild keeps the pipes open.
const drainWait = 2 * time.Second

type Manager struct {
	layout   botfs.Layout
	opts     Options
	registry Registry
	catalog  *Catalog
	log      logrus.FieldLogger
	sink     LogSink
	recorder RunRecorder
	readRSS  MemoryReader

	mu       sync.Mutex
	starting map[string]bool
	// latest buffer per bot, live or from the last run
	buffers map[string]*LogBuffer
}

func NewManager(layout botfs.Layout, registry Registry, catalog *Catalog, opts Options, log logrus.FieldLogger) *Manager {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = 256 << 20
	}
	if opts.MemoryInterval <= 0 {
		opts.MemoryInterval = 10 * time.Second
	}
	return &Manager{
		layout:   layout,
		opts:     opts,
		registry: registry,
		catalog:  catalog,
		log:      log.WithField("component", "keeper"),
		readRSS:  procfs.ReadRSS,
		starting: make(map[string]bool),
		buffers:  make(map[string]*LogBuffer),
	}
}

// SetSink must be called before the first Start.
func (m *Manager) SetSink(s LogSink) {
	m.sink = s
}

func (m *Manager) SetRecorder(r RunRecorder) {
	m.recorder = r
}

func (m *Manager) SetMemoryReader(r MemoryReader) {
	m.readRSS = r
}

func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// Running lists live processes ordered by bot id.
func (m *Manager) Running() []*BotProcess {
	return m.registry.List()
}

func (m *Manager) IsRunning(botID string) bool {
	_, ok := m.registry.Get(botID)
	return ok
}

// Start launches a deployed bot and registers it.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*BotProcess, error) {
	botDir, err := m.layout.Dir(req.BotID)
	if err != nil {
		return nil, err
	}
	if !botfs.Exists(botDir) {
		return nil, models.ErrBotNotFound
	}

	language, startupFile := req.Language, req.StartupFile
	if language == "" || startupFile == "" {
		meta, err := botfs.ReadMeta(botDir)
		if err != nil {
			return nil, err
		}
		if language == "" {
			language = meta.Language
		}
		if startupFile == "" {
			startupFile = meta.StartupFile
		}
	}
	if language == "" {
		return nil, models.ErrNotDeployed
	}
	rt, err := m.catalog.Lookup(language)
	if err != nil {
		return nil, err
	}
	if startupFile == "" {
		startupFile = rt.DefaultEntry
	}
	if _, err := botfs.Resolve(botDir, startupFile); err != nil {
		return nil, err
	}
	fileVars, err := botfs.ReadEnv(botDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}

	if !m.reserve(req.BotID) {
		return nil, models.ErrAlreadyRunning
	}
	p, watch, err := m.spawn(req.BotID, botDir, rt, startupFile, buildEnv(req.BotID, botDir, rt, fileVars, req.EnvVars))
	m.release(req.BotID, p)
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{"bot_id": p.ID, "pid": p.PID, "run_id": p.RunID}).Info("bot started")
	if m.recorder != nil {
		run := &models.Run{ID: p.RunID, BotID: p.ID, PID: p.PID, Language: rt.Name, StartedAt: p.StartedAt}
		if err := m.recorder.RecordRunStart(ctx, run); err != nil {
			m.log.WithError(err).WithField("bot_id", p.ID).Warn("record run start failed")
		}
	}
	go watch()
	return p, nil
}

// reserve claims botID for a start in progress.
func (m *Manager) reserve(botID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.starting[botID] {
		return false
	}
	if _, running := m.registry.Get(botID); running {
		return false
	}
	m.starting[botID] = true
	return true
}

// release ends the reservation and registers p when the spawn succeeded.
func (m *Manager) release(botID string, p *BotProcess) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.starting, botID)
	if p != nil {
		m.registry.Add(p)
		m.buffers[botID] = p.Logs
	}
}

func (m *Manager) spawn(botID, botDir string, rt *Runtime, startupFile string, env []string) (*BotProcess, func(), error) {
	args := append(append([]string{}, rt.Args...), startupFile)
	cmd := NewJobCmd(rt.Command, args...)
	cmd.Dir = botDir
	cmd.Env = env

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// the child has its own copies now
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, nil, fmt.Errorf("%w: failed to start %s: %v", models.ErrInternal, rt.Command, err)
	}

	logs := NewLogBuffer(botID, m.opts.BufferSize, m.sink)
	p := &BotProcess{
		ID:        botID,
		RunID:     uuid.NewString(),
		PID:       cmd.Process.Pid,
		Language:  rt.Name,
		StartedAt: time.Now(),
		Logs:      logs,
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	logs.Emit(models.LevelInfo, fmt.Sprintf("bot started with pid %d", p.PID))

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		pumpLines(stdoutR, func(line string) { logs.Emit(models.LevelInfo, line) })
	}()
	go func() {
		defer readers.Done()
		pumpLines(stderrR, func(line string) { logs.Emit(models.LevelError, line) })
	}()

	watch := func() {
		m.watchProcess(p, &readers, stdoutR, stderrR)
	}
	return p, watch, nil
}

// watchProcess is the exit handler of one run.
func (m *Manager) watchProcess(p *BotProcess, readers *sync.WaitGroup, pipes ...*os.File) {
	waitErr := p.cmd.Wait()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainWait):
		m.log.WithField("bot_id", p.ID).Warn("output still open after exit, closing pipes")
	}
	for _, f := range pipes {
		f.Close()
	}
	<-drained

	code := -1
	state := p.cmd.ProcessState
	if state != nil {
		code = state.ExitCode()
	}
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()

	msg := fmt.Sprintf("process exited with code %d", code)
	if code == -1 && state != nil {
		msg += fmt.Sprintf(" (%s)", state.String())
	}
	level := models.LevelInfo
	if code != 0 {
		level = models.LevelError
	}
	p.Logs.Emit(level, msg)
	m.registry.Remove(p.ID, p)

	reason := p.stopReason()
	entry := m.log.WithFields(logrus.Fields{
		"bot_id": p.ID, "pid": p.PID, "run_id": p.RunID, "exit_code": code, "reason": reason,
	})
	if waitErr != nil {
		entry = entry.WithField("wait", waitErr.Error())
	}
	entry.Info("bot exited")

	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.recorder.RecordRunExit(ctx, p.RunID, code, reason, time.Now()); err != nil {
			m.log.WithError(err).WithField("bot_id", p.ID).Warn("record run exit failed")
		}
		cancel()
	}
	close(p.done)
}

// Stop terminates the bot's process group and waits until the exit handler
// has deregistered it. It reports whether SIGKILL was needed. The grace
// period always runs to StopTimeout, a cancelled ctx does not shorten it.
func (m *Manager) Stop(_ context.Context, botID string) (bool, error) {
	if _, err := m.layout.Dir(botID); err != nil {
		return false, err
	}
	p, ok := m.registry.Get(botID)
	if !ok {
		return false, models.ErrNotRunning
	}
	return m.stopProcess(p)
}

func (m *Manager) stopProcess(p *BotProcess) (bool, error) {
	p.setReason(models.ReasonStopped)
	p.Logs.Emit(models.LevelInfo, "stopping bot")
	if err := p.cmd.Terminate(); err != nil {
		m.log.WithError(err).WithField("bot_id", p.ID).Warn("SIGTERM failed")
	}

	timer := time.NewTimer(m.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return false, nil
	case <-timer.C:
	}

	p.Logs.Emit(models.LevelError, "bot did not stop in time, killing")
	if err := p.cmd.Kill(); err != nil {
		m.log.WithError(err).WithField("bot_id", p.ID).Warn("SIGKILL failed")
	}
	select {
	case <-p.done:
		return true, nil
	case <-time.After(killWait):
		return true, fmt.Errorf("%w: pid %d survived SIGKILL", models.ErrInternal, p.PID)
	}
}

// Restart stops the bot if it runs, then starts it from its metadata.
func (m *Manager) Restart(ctx context.Context, botID string, envVars map[string]string) (*BotProcess, error) {
	// once the old run is going down the new one has to come up
	ctx = context.WithoutCancel(ctx)
	if p, ok := m.registry.Get(botID); ok {
		if _, err := m.stopProcess(p); err != nil {
			return nil, err
		}
	}
	return m.Start(ctx, StartRequest{BotID: botID, EnvVars: envVars})
}

// StopAll stops every live bot concurrently and returns how many there were.
func (m *Manager) StopAll(_ context.Context) int {
	list := m.registry.List()
	var wg sync.WaitGroup
	for _, p := range list {
		wg.Add(1)
		go func(p *BotProcess) {
			defer wg.Done()
			if _, err := m.stopProcess(p); err != nil {
				m.log.WithError(err).WithField("bot_id", p.ID).Error("stop failed")
			}
		}(p)
	}
	wg.Wait()
	return len(list)
}

// Status reports running state, resident memory and uptime.
func (m *Manager) Status(botID string) models.BotStatus {
	p, ok := m.registry.Get(botID)
	if !ok {
		return models.BotStatus{Status: "stopped"}
	}
	var memMB float64
	if rss, err := m.readRSS(p.PID); err == nil {
		memMB = procfs.ToMB(rss)
	}
	return models.BotStatus{
		Status:   "running",
		PID:      p.PID,
		MemoryMB: memMB,
		Uptime:   p.Uptime().Milliseconds(),
		RunID:    p.RunID,
	}
}

// Logs returns the buffer of the live run, or of the last run if the bot
// is stopped.
func (m *Manager) Logs(botID string) []models.LogEntry {
	m.mu.Lock()
	buf := m.buffers[botID]
	m.mu.Unlock()
	if buf == nil {
		return []models.LogEntry{}
	}
	return buf.Snapshot()
}

// Attach calls fn with the last n entries of the bot's current buffer while
// holding emission, see LogBuffer.Attach. fn gets nil when the bot never ran.
func (m *Manager) Attach(botID string, n int, fn func(replay []models.LogEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.buffers[botID]
	if buf == nil {
		fn(nil)
		return
	}
	buf.Attach(n, fn)
}
