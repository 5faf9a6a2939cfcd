package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateRule is one rate-limit category: at most Max requests per Window.
type RateRule struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Limits holds the host tunables that can be overridden in host.yaml.
type Limits struct {
	RateLimits    map[string]RateRule `yaml:"rate_limits"`
	RateSweep     time.Duration       `yaml:"rate_sweep_interval"`
	MemoryLimitMB int64               `yaml:"memory_limit_mb"`
	MemoryCheck   time.Duration       `yaml:"memory_check_interval"`
	LogBufferSize int                 `yaml:"log_buffer_size"`
	ReplaySize    int                 `yaml:"replay_size"`
	WSPerIP       int                 `yaml:"ws_max_per_ip"`
	WSPing        time.Duration       `yaml:"ws_ping_interval"`
	ExecTimeout   time.Duration       `yaml:"exec_timeout"`
	ExecOutputCap int                 `yaml:"exec_output_cap"`
	ExecAllowed   []string            `yaml:"exec_allowed"`
	StopTimeout   time.Duration       `yaml:"stop_timeout"`
	InstallTime   time.Duration       `yaml:"install_timeout"`
	BodyLimit     int64               `yaml:"body_limit"`
	BundleLimit   int64               `yaml:"bundle_limit"`
	BundleEntries int                 `yaml:"bundle_max_entries"`
}

// DefaultLimits returns the built-in tunables.
func DefaultLimits() Limits {
	return Limits{
		RateLimits: map[string]RateRule{
			"global": {Max: 100, Window: time.Minute},
			"exec":   {Max: 10, Window: time.Minute},
			"deploy": {Max: 5, Window: time.Minute},
			"admin":  {Max: 10, Window: time.Minute},
		},
		RateSweep:     5 * time.Minute,
		MemoryLimitMB: 256,
		MemoryCheck:   10 * time.Second,
		LogBufferSize: 1000,
		ReplaySize:    50,
		WSPerIP:       10,
		WSPing:        30 * time.Second,
		ExecTimeout:   30 * time.Second,
		ExecOutputCap: 50000,
		ExecAllowed: []string{
			"npm", "node", "python", "pip", "ls", "cat", "pwd", "echo",
			"mkdir", "cp", "mv", "rm", "touch", "head", "tail", "grep", "wc",
		},
		StopTimeout:   10 * time.Second,
		InstallTime:   5 * time.Minute,
		BodyLimit:     10 << 20,
		BundleLimit:   50 << 20,
		BundleEntries: 5000,
	}
}

// LoadLimits reads host.yaml on top of the defaults. A missing file is not an error.
// Rate-limit categories in the file replace the matching defaults one by one.
func LoadLimits(path string) (Limits, error) {
	limits := DefaultLimits()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return limits, nil
	}
	if err != nil {
		return limits, err
	}

	var override Limits
	if err := yaml.Unmarshal(data, &override); err != nil {
		return limits, fmt.Errorf("parse %s: %w", path, err)
	}
	limits.merge(override)
	return limits, limits.validate()
}

func (l *Limits) merge(o Limits) {
	for name, rule := range o.RateLimits {
		l.RateLimits[name] = rule
	}
	setDuration(&l.RateSweep, o.RateSweep)
	setDuration(&l.MemoryCheck, o.MemoryCheck)
	setDuration(&l.WSPing, o.WSPing)
	setDuration(&l.ExecTimeout, o.ExecTimeout)
	setDuration(&l.StopTimeout, o.StopTimeout)
	setDuration(&l.InstallTime, o.InstallTime)
	if o.MemoryLimitMB > 0 {
		l.MemoryLimitMB = o.MemoryLimitMB
	}
	if o.LogBufferSize > 0 {
		l.LogBufferSize = o.LogBufferSize
	}
	if o.ReplaySize > 0 {
		l.ReplaySize = o.ReplaySize
	}
	if o.WSPerIP > 0 {
		l.WSPerIP = o.WSPerIP
	}
	if o.ExecOutputCap > 0 {
		l.ExecOutputCap = o.ExecOutputCap
	}
	if len(o.ExecAllowed) > 0 {
		l.ExecAllowed = o.ExecAllowed
	}
	if o.BodyLimit > 0 {
		l.BodyLimit = o.BodyLimit
	}
	if o.BundleLimit > 0 {
		l.BundleLimit = o.BundleLimit
	}
	if o.BundleEntries > 0 {
		l.BundleEntries = o.BundleEntries
	}
}

func (l *Limits) validate() error {
	for name, rule := range l.RateLimits {
		if rule.Max <= 0 || rule.Window <= 0 {
			return fmt.Errorf("rate limit %q: max and window must be positive", name)
		}
	}
	if _, ok := l.RateLimits["global"]; !ok {
		return fmt.Errorf("rate limit \"global\" is required")
	}
	return nil
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
