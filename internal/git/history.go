// Package git keeps a per-bot deployment history in a repository inside
// the bot directory.
package git

import (
	"errors"
	"fmt"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Revision is one deployment snapshot.
type Revision struct {
	Hash    string    `json:"revision"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Author of a snapshot commit.
type Author struct {
	Name  string
	Email string
}

// Snapshot commits the named files of botDir and returns the commit hash.
// The repository is created on first use. When nothing changed since the
// last snapshot the current HEAD is returned.
func Snapshot(botDir string, names []string, author Author, message string) (string, error) {
	r, err := open(botDir)
	if err != nil {
		return "", err
	}
	w, err := r.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	for _, name := range names {
		if err := w.AddWithOptions(&gitlib.AddOptions{Path: name, SkipStatus: true}); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", name, err)
		}
	}

	if author.Name == "" {
		author.Name = "bothost"
	}
	if author.Email == "" {
		author.Email = "deploy@bothost.local"
	}
	hash, err := w.Commit(message, &gitlib.CommitOptions{
		Author: &object.Signature{Name: author.Name, Email: author.Email, When: time.Now()},
	})
	if errors.Is(err, gitlib.ErrEmptyCommit) {
		head, herr := r.Head()
		if herr != nil {
			return "", fmt.Errorf("failed to read HEAD: %w", herr)
		}
		return head.Hash().String(), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// History returns up to limit snapshots, newest first. A bot without
// history yields an empty list.
func History(botDir string, limit int) ([]Revision, error) {
	revs := []Revision{}
	r, err := gitlib.PlainOpen(botDir)
	if errors.Is(err, gitlib.ErrRepositoryNotExists) {
		return revs, nil
	}
	if err != nil {
		return nil, err
	}
	head, err := r.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return revs, nil
	}
	if err != nil {
		return nil, err
	}

	iter, err := r.Log(&gitlib.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for limit <= 0 || len(revs) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		revs = append(revs, Revision{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return revs, nil
}

func open(botDir string) (*gitlib.Repository, error) {
	r, err := gitlib.PlainOpen(botDir)
	if errors.Is(err, gitlib.ErrRepositoryNotExists) {
		r, err = gitlib.PlainInit(botDir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history repo: %w", err)
	}
	return r, nil
}
