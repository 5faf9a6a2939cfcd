package service

import (
	"context"

	"bothost/internal/botfs"
	"bothost/internal/deploy"
	"bothost/internal/keeper"
	"bothost/internal/models"
	"bothost/internal/sandbox"
)

type BotService struct {
	layout   botfs.Layout
	procs    *keeper.Manager
	deployer *deploy.Deployer
	sandbox  *sandbox.Sandbox
}

func NewBotService(layout botfs.Layout, procs *keeper.Manager, deployer *deploy.Deployer, sb *sandbox.Sandbox) *BotService {
	return &BotService{
		layout:   layout,
		procs:    procs,
		deployer: deployer,
		sandbox:  sb,
	}
}

func (s *BotService) Deploy(ctx context.Context, req deploy.Request) (*deploy.Result, error) {
	return s.deployer.Deploy(ctx, req)
}

// Start launches a deployed bot using its stored language and startup file.
func (s *BotService) Start(ctx context.Context, botID string, envVars map[string]string) (*keeper.BotProcess, error) {
	if err := botfs.ValidateEnv(envVars); err != nil {
		return nil, err
	}
	return s.procs.Start(ctx, keeper.StartRequest{BotID: botID, EnvVars: envVars})
}

func (s *BotService) Stop(ctx context.Context, botID string) (bool, error) {
	return s.procs.Stop(ctx, botID)
}

func (s *BotService) Restart(ctx context.Context, botID string, envVars map[string]string) (*keeper.BotProcess, error) {
	if _, err := s.layout.Dir(botID); err != nil {
		return nil, err
	}
	if err := botfs.ValidateEnv(envVars); err != nil {
		return nil, err
	}
	return s.procs.Restart(ctx, botID, envVars)
}

func (s *BotService) StopAll(ctx context.Context) int {
	return s.procs.StopAll(ctx)
}

func (s *BotService) Status(botID string) (models.BotStatus, error) {
	if _, err := s.layout.Dir(botID); err != nil {
		return models.BotStatus{}, err
	}
	return s.procs.Status(botID), nil
}

// Logs returns the live buffer, or the last run's buffer for a stopped bot.
func (s *BotService) Logs(botID string) ([]models.LogEntry, error) {
	if _, err := s.layout.Dir(botID); err != nil {
		return nil, err
	}
	return s.procs.Logs(botID), nil
}

func (s *BotService) Exec(ctx context.Context, botID, command string) (*sandbox.Result, error) {
	return s.sandbox.Exec(ctx, botID, command)
}

func (s *BotService) Running() []*keeper.BotProcess {
	return s.procs.Running()
}
