package service

import (
	"context"
	"fmt"
	"strings"

	"bothost/internal/botfs"
	"bothost/internal/git"
	"bothost/internal/models"
)

// Ledger is the read side of the deployment and run store.
type Ledger interface {
	ListDeployments(ctx context.Context, botID string, limit int) ([]models.Deployment, error)
	ListRuns(ctx context.Context, botID string, limit int) ([]models.Run, error)
}

// DeploymentView is a ledger row with its snapshot commit message.
type DeploymentView struct {
	models.Deployment
	Message string `json:"message,omitempty"`
}

type HistoryService struct {
	layout botfs.Layout
	ledger Ledger
}

// NewHistoryService accepts a nil ledger, in which case both lists are empty.
func NewHistoryService(layout botfs.Layout, ledger Ledger) *HistoryService {
	return &HistoryService{layout: layout, ledger: ledger}
}

func (s *HistoryService) ListDeployments(ctx context.Context, botID string, limit int) ([]DeploymentView, error) {
	botDir, err := s.layout.Dir(botID)
	if err != nil {
		return nil, err
	}
	views := []DeploymentView{}
	if s.ledger == nil {
		return views, nil
	}
	rows, err := s.ledger.ListDeployments(ctx, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}

	messages := map[string]string{}
	if revs, err := git.History(botDir, 0); err == nil {
		for _, r := range revs {
			messages[r.Hash] = strings.TrimSpace(r.Message)
		}
	}
	for _, d := range rows {
		views = append(views, DeploymentView{Deployment: d, Message: messages[d.Revision]})
	}
	return views, nil
}

func (s *HistoryService) ListRuns(ctx context.Context, botID string, limit int) ([]models.Run, error) {
	if _, err := s.layout.Dir(botID); err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return []models.Run{}, nil
	}
	runs, err := s.ledger.ListRuns(ctx, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	return runs, nil
}
