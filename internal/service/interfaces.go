package service

import (
	"context"

	"bothost/internal/deploy"
	"bothost/internal/keeper"
	"bothost/internal/models"
	"bothost/internal/sandbox"
)

// IBotService covers the lifecycle of hosted bots.
type IBotService interface {
	Deploy(ctx context.Context, req deploy.Request) (*deploy.Result, error)
	Start(ctx context.Context, botID string, envVars map[string]string) (*keeper.BotProcess, error)
	Stop(ctx context.Context, botID string) (bool, error)
	Restart(ctx context.Context, botID string, envVars map[string]string) (*keeper.BotProcess, error)
	StopAll(ctx context.Context) int
	Status(botID string) (models.BotStatus, error)
	Logs(botID string) ([]models.LogEntry, error)
	Exec(ctx context.Context, botID, command string) (*sandbox.Result, error)
	Running() []*keeper.BotProcess
}

// IFileService manages the files of a bot directory.
type IFileService interface {
	WriteFile(botID, name string, content []byte) error
	ListFiles(botID string) ([]models.FileInfo, error)
	DeleteFile(botID, name string) error
}

// IHistoryService reads the deployment and run ledgers.
type IHistoryService interface {
	ListDeployments(ctx context.Context, botID string, limit int) ([]DeploymentView, error)
	ListRuns(ctx context.Context, botID string, limit int) ([]models.Run, error)
}
