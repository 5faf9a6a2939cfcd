package api

// FileOption is one file of a deploy request.
type FileOption struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// DeployOption is the body of POST /bots/:id/deploy
type DeployOption struct {
	Files       []FileOption      `json:"files"`
	Language    string            `json:"language"`
	StartupFile string            `json:"startupFile"`
	EnvVars     map[string]string `json:"envVars"`
	AutoStart   *bool             `json:"autoStart"`
}

// EnvOption is the optional body of start and restart.
type EnvOption struct {
	EnvVars map[string]string `json:"envVars"`
}

type ExecOption struct {
	Command string `json:"command"`
}

// UploadFileOption is the body of POST /bots/:id/files
type UploadFileOption struct {
	FileName string `json:"fileName" binding:"required"`
	Content  string `json:"content"`
}

// HealthBot is one running bot in the health roster.
type HealthBot struct {
	ID     string `json:"id"`
	PID    int    `json:"pid"`
	Uptime int64  `json:"uptime"` // milliseconds
}

// MemoryUsage of the host process in bytes.
type MemoryUsage struct {
	RSS        int64  `json:"rss"`
	HeapTotal  uint64 `json:"heapTotal"`
	HeapUsed   uint64 `json:"heapUsed"`
	Sys        uint64 `json:"sys"`
	Goroutines int    `json:"goroutines"`
}

type HealthResponse struct {
	Status      string      `json:"status"`
	Uptime      float64     `json:"uptime"` // seconds
	ActiveBots  int         `json:"activeBots"`
	Bots        []HealthBot `json:"bots"`
	MemoryUsage MemoryUsage `json:"memoryUsage"`
}
