// Package sandbox runs single allow-listed commands inside a bot directory.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bothost/internal/botfs"
	"bothost/internal/keeper"
	"bothost/internal/models"

	"github.com/sirupsen/logrus"
)

// metaChars are removed from every argument. Commands never go through a
// shell, this only blunts arguments meant for one.
const metaChars = ";&|`$()<>{}!\\"

// Result is the outcome of one command.
type Result struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exitCode"`
	TimedOut  bool   `json:"timedOut,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

type Options struct {
	Allowed   []string
	Timeout   time.Duration
	OutputCap int // bytes of combined stdout and stderr
}

type Sandbox struct {
	layout  botfs.Layout
	allowed map[string]bool
	opts    Options
	log     logrus.FieldLogger
}

func New(layout botfs.Layout, opts Options, log logrus.FieldLogger) *Sandbox {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.OutputCap <= 0 {
		opts.OutputCap = 50000
	}
	allowed := make(map[string]bool, len(opts.Allowed))
	for _, c := range opts.Allowed {
		allowed[c] = true
	}
	return &Sandbox{
		layout:  layout,
		allowed: allowed,
		opts:    opts,
		log:     log.WithField("component", "sandbox"),
	}
}

// Parse splits a command line on whitespace, checks the command against the
// allow-list and sanitizes the arguments. Arguments left empty are dropped.
func (s *Sandbox) Parse(commandLine string) (string, []string, error) {
	parts := strings.Fields(commandLine)
	if len(parts) == 0 {
		return "", nil, models.ErrCommandRequired
	}
	name := parts[0]
	if !s.allowed[name] {
		return "", nil, fmt.Errorf("%w: %s", models.ErrCommandNotAllowed, name)
	}
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if clean := sanitize(p); clean != "" {
			args = append(args, clean)
		}
	}
	return name, args, nil
}

func sanitize(arg string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(metaChars, r) {
			return -1
		}
		return r
	}, arg)
}

// textOperands is how many leading non-flag arguments of a command are not
// paths. -1 means none of them are.
var textOperands = map[string]int{"echo": -1, "grep": 1}

// Confine rejects path arguments that leave botDir: absolute paths, ..
// escapes and symlinks pointing elsewhere. Flags are checked only in their
// --name=value form.
func Confine(botDir, name string, args []string) error {
	skip := textOperands[name]
	if skip < 0 {
		return nil
	}
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			if _, v, ok := strings.Cut(a, "="); ok && v != "" {
				if err := inside(botDir, v); err != nil {
					return err
				}
			}
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		if err := inside(botDir, a); err != nil {
			return err
		}
	}
	return nil
}

func inside(botDir, arg string) error {
	if filepath.IsAbs(arg) {
		return fmt.Errorf("%w: %s", models.ErrInvalidPath, arg)
	}
	if filepath.Clean(arg) == "." {
		return nil
	}
	_, err := botfs.Resolve(botDir, arg)
	return err
}

// Exec runs commandLine in the bot directory. Rejected commands return an
// error and spawn nothing. Once spawned, every outcome is a Result.
func (s *Sandbox) Exec(ctx context.Context, botID, commandLine string) (*Result, error) {
	botDir, err := s.layout.Dir(botID)
	if err != nil {
		return nil, err
	}
	name, args, err := s.Parse(commandLine)
	if err != nil {
		return nil, err
	}
	if !botfs.Exists(botDir) {
		return nil, models.ErrBotNotFound
	}
	if err := Confine(botDir, name, args); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := keeper.NewJobCmdContext(ctx, name, args...)
	cmd.Dir = botDir
	cmd.Env = minimalEnv()
	out := &cappedBuffer{limit: s.opts.OutputCap}
	cmd.Stdout = out
	cmd.Stderr = out

	log := s.log.WithFields(logrus.Fields{"bot_id": botID, "command": name, "args": args})
	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.WithError(err).Warn("sandbox spawn failed")
		return &Result{Output: err.Error(), ExitCode: 1}, nil
	}
	runErr := cmd.Wait()

	res := &Result{
		Output:    strings.TrimSpace(strings.ToValidUTF8(out.String(), "")),
		Truncated: out.Truncated(),
	}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
	case runErr == nil:
		res.ExitCode = 0
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = 1
		if res.Output == "" {
			res.Output = runErr.Error()
		}
	}
	log.WithFields(logrus.Fields{
		"exit_code": res.ExitCode, "timed_out": res.TimedOut, "duration": time.Since(start),
	}).Info("sandbox command finished")
	return res, nil
}

func minimalEnv() []string {
	var env []string
	for _, k := range []string{"PATH", "HOME"} {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// cappedBuffer keeps the first limit bytes and discards the rest while still
// reporting full writes, so the child never sees a broken pipe.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
