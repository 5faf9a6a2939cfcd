package botfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"bothost/internal/models"
)

// ReadMeta loads .botmeta.json. A missing file is reported as ErrNotDeployed.
func ReadMeta(botDir string) (*models.BotMeta, error) {
	data, err := os.ReadFile(filepath.Join(botDir, MetaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.ErrNotDeployed
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	var meta models.BotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: corrupt %s: %v", models.ErrInternal, MetaFile, err)
	}
	return &meta, nil
}

func WriteMeta(botDir string, meta *models.BotMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(botDir, MetaFile), data, 0644)
}
