package botfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"bothost/internal/models"
)

const (
	MetaFile     = ".botmeta.json"
	EnvFile      = ".env"
	HistoryDir   = ".git"
	NodeModules  = "node_modules"
	PythonModDir = "pip_modules"
)

// hidden entries are never listed and cannot be deleted through the file API.
var hidden = map[string]bool{
	NodeModules:  true,
	PythonModDir: true,
	MetaFile:     true,
	EnvFile:      true,
	HistoryDir:   true,
}

var botIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Layout maps bot ids to directories under a single root.
type Layout struct {
	Root string
}

// ValidID reports whether botID is a single safe path segment.
func ValidID(botID string) bool {
	return botIDPattern.MatchString(botID) && !strings.Contains(botID, "..")
}

// Dir returns the directory of a bot.
func (l Layout) Dir(botID string) (string, error) {
	if !ValidID(botID) {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidBotID, botID)
	}
	return filepath.Join(l.Root, botID), nil
}

// Exists reports whether the bot directory exists.
func Exists(botDir string) bool {
	st, err := os.Stat(botDir)
	return err == nil && st.IsDir()
}

// Resolve returns the absolute path of name inside botDir. Names that escape
// botDir or target the history repository are rejected.
func Resolve(botDir, name string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: empty name", models.ErrInvalidPath)
	}
	root, err := filepath.Abs(botDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", models.ErrInvalidPath, name)
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if first == HistoryDir {
		return "", fmt.Errorf("%w: %s is reserved", models.ErrInvalidPath, name)
	}
	if !insideAfterSymlinks(root, target) {
		return "", fmt.Errorf("%w: %s", models.ErrInvalidPath, name)
	}
	return target, nil
}

// insideAfterSymlinks resolves the deepest existing ancestor of target and
// checks it still lies under root. Bots can create symlinks with the exec
// sandbox, so a lexical check alone is not enough.
func insideAfterSymlinks(root, target string) bool {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		// root not created yet, nothing below it can be a link
		return true
	}
	p := target
	for {
		if _, err := os.Lstat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return false
	}
	return real == realRoot || strings.HasPrefix(real, realRoot+string(filepath.Separator))
}

// WriteFile writes content verbatim, creating parent directories.
func WriteFile(botDir, name string, content []byte) error {
	target, err := Resolve(botDir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	if err := os.WriteFile(target, content, 0644); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	return nil
}

// DeleteFile removes a single regular file.
func DeleteFile(botDir, name string) error {
	target, err := Resolve(botDir, name)
	if err != nil {
		return err
	}
	if hidden[filepath.Base(target)] {
		return fmt.Errorf("%w: %s", models.ErrInvalidPath, name)
	}
	st, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return models.ErrFileNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", models.ErrInvalidParam, name)
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	return nil
}

// ListFiles walks botDir and returns every regular file, skipping dependency
// directories, metadata and the env file. Names use forward slashes.
func ListFiles(botDir string) ([]models.FileInfo, error) {
	files := []models.FileInfo{}
	if !Exists(botDir) {
		return files, nil
	}
	err := filepath.WalkDir(botDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == botDir {
			return nil
		}
		if hidden[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(botDir, path)
		files = append(files, models.FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
