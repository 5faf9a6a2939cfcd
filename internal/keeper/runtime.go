package keeper

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bothost/internal/botfs"
	"bothost/internal/models"
)

// Runtime describes how to launch and provision bots of one language.
type Runtime struct {
	Name         string
	Command      string
	Args         []string // placed before the entry file
	DefaultEntry string
	// Manifest triggers Install when present in the bot directory.
	Manifest string
	// Install returns the dependency install command line.
	Install func(botDir string) []string
	// Env adjusts the child environment after all other sources are merged.
	Env func(botDir string, env map[string]string)
}

// Catalog maps language names and aliases to runtimes.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]*Runtime
}

func NewCatalog() *Catalog {
	return &Catalog{byName: make(map[string]*Runtime)}
}

// DefaultCatalog knows Node and Python.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register(NodeRuntime(), "javascript", "js", "nodejs", "node")
	c.Register(PythonRuntime(), "python", "py", "python3")
	return c
}

// Register adds rt under its name and every alias. Later registrations win.
func (c *Catalog) Register(rt *Runtime, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[strings.ToLower(rt.Name)] = rt
	for _, a := range aliases {
		c.byName[strings.ToLower(a)] = rt
	}
}

func (c *Catalog) Lookup(language string) (*Runtime, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.byName[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedLanguage, language)
	}
	return rt, nil
}

func NodeRuntime() *Runtime {
	return &Runtime{
		Name:         "javascript",
		Command:      "node",
		DefaultEntry: "index.js",
		Manifest:     "package.json",
		Install: func(string) []string {
			return []string{"npm", "install", "--production"}
		},
	}
}

func PythonRuntime() *Runtime {
	return &Runtime{
		Name:         "python",
		Command:      "python",
		DefaultEntry: "main.py",
		Manifest:     "requirements.txt",
		Install: func(botDir string) []string {
			target, err := filepath.Abs(filepath.Join(botDir, botfs.PythonModDir))
			if err != nil {
				target = filepath.Join(botDir, botfs.PythonModDir)
			}
			return []string{"pip", "install", "-r", "requirements.txt", "--target", target}
		},
		Env: func(botDir string, env map[string]string) {
			modDir, err := filepath.Abs(filepath.Join(botDir, botfs.PythonModDir))
			if err != nil {
				return
			}
			if st, err := os.Stat(modDir); err == nil && st.IsDir() {
				env["PYTHONPATH"] = modDir
			}
		},
	}
}
