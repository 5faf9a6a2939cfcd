package service

import (
	"fmt"
	"os"

	"bothost/internal/botfs"
	"bothost/internal/models"
)

type FileService struct {
	layout botfs.Layout
}

func NewFileService(layout botfs.Layout) *FileService {
	return &FileService{layout: layout}
}

// WriteFile creates the bot directory on first use.
func (s *FileService) WriteFile(botID, name string, content []byte) error {
	botDir, err := s.layout.Dir(botID)
	if err != nil {
		return err
	}
	if _, err := botfs.Resolve(botDir, name); err != nil {
		return err
	}
	if err := os.MkdirAll(botDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create bot dir: %v", models.ErrInternal, err)
	}
	return botfs.WriteFile(botDir, name, content)
}

// ListFiles returns an empty list for unknown bots.
func (s *FileService) ListFiles(botID string) ([]models.FileInfo, error) {
	botDir, err := s.layout.Dir(botID)
	if err != nil {
		return nil, err
	}
	return botfs.ListFiles(botDir)
}

func (s *FileService) DeleteFile(botID, name string) error {
	botDir, err := s.layout.Dir(botID)
	if err != nil {
		return err
	}
	return botfs.DeleteFile(botDir, name)
}
