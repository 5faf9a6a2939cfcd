package deploy

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"bothost/internal/botfs"
	"bothost/internal/models"

	"github.com/bodgit/sevenzip"
)

// BundleLimits bound what ReadBundle extracts.
type BundleLimits struct {
	MaxBytes   int64
	MaxEntries int
}

// bundleEntry is the common view of zip and 7z members.
type bundleEntry struct {
	name string
	info fs.FileInfo
	open func() (io.ReadCloser, error)
}

// ReadBundle extracts a .zip or .7z archive into a deploy file set.
// Directories, links and history entries are skipped. The archive format is
// chosen by the file name extension.
func ReadBundle(name string, r io.ReaderAt, size int64, limits BundleLimits) ([]models.File, error) {
	var entries []bundleEntry
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip":
		zr, err := zip.NewReader(r, size)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid zip archive: %v", models.ErrInvalidParam, err)
		}
		for _, f := range zr.File {
			entries = append(entries, bundleEntry{name: f.Name, info: f.FileInfo(), open: f.Open})
		}
	case ".7z":
		sr, err := sevenzip.NewReader(r, size)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid 7z archive: %v", models.ErrInvalidParam, err)
		}
		for _, f := range sr.File {
			entries = append(entries, bundleEntry{name: f.Name, info: f.FileInfo(), open: f.Open})
		}
	default:
		return nil, fmt.Errorf("%w: bundle must be a .zip or .7z archive", models.ErrInvalidParam)
	}

	if limits.MaxEntries > 0 && len(entries) > limits.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries, limit is %d", models.ErrBundleTooLarge, len(entries), limits.MaxEntries)
	}

	budget := limits.MaxBytes
	if budget <= 0 {
		budget = 1 << 62
	}
	var (
		files []models.File
		total int64
	)
	for _, e := range entries {
		clean, ok := entryName(e.name)
		if !ok || !e.info.Mode().IsRegular() {
			continue
		}
		content, err := readEntry(e, budget-total)
		if err != nil {
			return nil, err
		}
		total += int64(len(content))
		files = append(files, models.File{Name: clean, Content: content})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: bundle contains no files", models.ErrInvalidParam)
	}
	return files, nil
}

// entryName normalizes an archive member name. ok is false for members that
// are never deployed.
func entryName(raw string) (string, bool) {
	name := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(raw, `\`, "/")), "/")
	if name == "" || name == "." {
		return "", false
	}
	first := strings.SplitN(name, "/", 2)[0]
	if first == botfs.HistoryDir || first == "__MACOSX" {
		return "", false
	}
	return name, true
}

func readEntry(e bundleEntry, remaining int64) ([]byte, error) {
	rc, err := e.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidParam, e.name, err)
	}
	defer rc.Close()

	// declared sizes can lie, so read one byte past the budget
	data, err := io.ReadAll(io.LimitReader(rc, remaining+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidParam, e.name, err)
	}
	if int64(len(data)) > remaining {
		return nil, fmt.Errorf("%w: extracted size exceeds limit", models.ErrBundleTooLarge)
	}
	return data, nil
}
