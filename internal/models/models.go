package models

import "time"

// LogLevel of a LogEntry. stdout lines are info, stderr lines are error.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogEntry is one line of bot output or a lifecycle event synthesized by the host.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// BotMeta represents the structure of .botmeta.json
type BotMeta struct {
	Language    string `json:"language"`
	StartupFile string `json:"startupFile"`
	DeployedAt  string `json:"deployedAt"`
	UserID      string `json:"userId"`
	Revision    string `json:"revision,omitempty"`
}

// File is one entry of a deployed file set.
type File struct {
	Name    string
	Content []byte
}

// FileInfo describes a file inside a bot directory
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// StopReason records why a run ended.
type StopReason string

const (
	ReasonExit        StopReason = "exit"
	ReasonStopped     StopReason = "stopped"
	ReasonMemoryLimit StopReason = "memory_limit"
)

// BotStatus is the runtime view of one bot.
type BotStatus struct {
	Status   string  `json:"status"` // running | stopped
	PID      int     `json:"pid,omitempty"`
	MemoryMB float64 `json:"memoryMb"`
	Uptime   int64   `json:"uptime,omitempty"` // milliseconds
	RunID    string  `json:"runId,omitempty"`
}

// Run is one lifetime of a bot process, as stored in the run ledger.
type Run struct {
	ID        string     `json:"runId"`
	BotID     string     `json:"botId"`
	PID       int        `json:"pid"`
	Language  string     `json:"language"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	Reason    StopReason `json:"reason,omitempty"`
}

// Deployment is one deploy attempt, as stored in the deployment ledger.
type Deployment struct {
	ID          int64     `json:"id"`
	BotID       string    `json:"botId"`
	Revision    string    `json:"revision,omitempty"`
	Language    string    `json:"language"`
	StartupFile string    `json:"startupFile"`
	UserID      string    `json:"userId,omitempty"`
	FileCount   int       `json:"fileCount"`
	Success     bool      `json:"success"`
	Phase       string    `json:"phase,omitempty"` // failed phase, empty on success
	DeployedAt  time.Time `json:"deployedAt"`
}
