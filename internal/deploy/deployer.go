// Package deploy writes bot file sets, installs their dependencies and
// optionally restarts them.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bothost/internal/botfs"
	"bothost/internal/git"
	"bothost/internal/keeper"
	"bothost/internal/models"

	"github.com/sirupsen/logrus"
)

// Deploy phases reported on failure.
const (
	PhaseWrite   = "write"
	PhaseInstall = "install"
)

// Processes is the part of keeper.Manager a Deployer drives.
type Processes interface {
	Catalog() *keeper.Catalog
	IsRunning(botID string) bool
	Start(ctx context.Context, req keeper.StartRequest) (*keeper.BotProcess, error)
	Stop(ctx context.Context, botID string) (bool, error)
}

// Ledger persists deployment attempts.
type Ledger interface {
	RecordDeployment(ctx context.Context, d *models.Deployment) error
}

type Request struct {
	BotID       string
	Files       []models.File
	EnvVars     map[string]string
	Language    string
	StartupFile string
	// AutoStart defaults to true when nil.
	AutoStart *bool
	UserID    string
	UserEmail string
}

type Result struct {
	Success       bool   `json:"success"`
	PID           int    `json:"pid,omitempty"`
	InstallOutput string `json:"installOutput"`
	Message       string `json:"message,omitempty"`
	Revision      string `json:"revision,omitempty"`
	Phase         string `json:"phase,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Deployer struct {
	layout    botfs.Layout
	procs     Processes
	installer Installer
	ledger    Ledger
	log       logrus.FieldLogger
}

func NewDeployer(layout botfs.Layout, procs Processes, installer Installer, log logrus.FieldLogger) *Deployer {
	return &Deployer{
		layout:    layout,
		procs:     procs,
		installer: installer,
		log:       log.WithField("component", "deploy"),
	}
}

func (d *Deployer) SetLedger(l Ledger) {
	d.ledger = l
}

// Deploy validates the whole request before touching the bot directory.
// Validation problems are returned as errors. Once files are written every
// outcome is a Result; a failed install reports Phase "install" and a failed
// start still counts as a successful deploy.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	botDir, err := d.layout.Dir(req.BotID)
	if err != nil {
		return nil, err
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: files are required", models.ErrInvalidParam)
	}
	if req.Language == "" {
		return nil, fmt.Errorf("%w: language is required", models.ErrInvalidParam)
	}
	rt, err := d.procs.Catalog().Lookup(req.Language)
	if err != nil {
		return nil, err
	}
	if err := botfs.ValidateEnv(req.EnvVars); err != nil {
		return nil, err
	}
	names, err := relativeNames(botDir, req.Files)
	if err != nil {
		return nil, err
	}
	if req.StartupFile != "" {
		if _, err := botfs.Resolve(botDir, req.StartupFile); err != nil {
			return nil, err
		}
	}

	// past validation a client hanging up must not leave a half deployed bot
	ctx = context.WithoutCancel(ctx)

	log := d.log.WithFields(logrus.Fields{"bot_id": req.BotID, "files": len(req.Files), "language": rt.Name})
	record := &models.Deployment{
		BotID:       req.BotID,
		Language:    req.Language,
		StartupFile: req.StartupFile,
		UserID:      req.UserID,
		FileCount:   len(req.Files),
		DeployedAt:  time.Now().UTC(),
	}
	defer d.recordDeployment(record)

	if err := d.write(botDir, req); err != nil {
		record.Phase = PhaseWrite
		log.WithError(err).Error("deploy write failed")
		return nil, err
	}

	var revision string
	if len(names) > 0 {
		author := git.Author{Name: req.UserID, Email: req.UserEmail}
		revision, err = git.Snapshot(botDir, names, author, fmt.Sprintf("deploy %s (%d files)", req.BotID, len(names)))
		if err != nil {
			log.WithError(err).Warn("deployment snapshot failed")
		}
	}
	record.Revision = revision

	meta := &models.BotMeta{
		Language:    req.Language,
		StartupFile: req.StartupFile,
		DeployedAt:  record.DeployedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UserID:      req.UserID,
		Revision:    revision,
	}
	if err := botfs.WriteMeta(botDir, meta); err != nil {
		record.Phase = PhaseWrite
		return nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}

	res := &Result{Revision: revision}
	if needsInstall(botDir, rt) {
		output, err := d.installer.Install(ctx, botDir, rt.Install(botDir))
		res.InstallOutput = output
		if err != nil {
			record.Phase = PhaseInstall
			log.WithError(err).Error("dependency install failed")
			res.Phase = PhaseInstall
			res.Error = err.Error()
			return res, nil
		}
		log.Info("dependencies installed")
	}

	res.Success = true
	record.Success = true
	if req.AutoStart != nil && !*req.AutoStart {
		res.Message = "Deploy complete"
		log.Info("bot deployed")
		return res, nil
	}

	if d.procs.IsRunning(req.BotID) {
		if _, err := d.procs.Stop(ctx, req.BotID); err != nil && !errors.Is(err, models.ErrNotRunning) {
			log.WithError(err).Warn("stopping previous run failed")
		}
	}
	p, err := d.procs.Start(ctx, keeper.StartRequest{
		BotID:       req.BotID,
		Language:    req.Language,
		StartupFile: req.StartupFile,
		EnvVars:     req.EnvVars,
	})
	if err != nil {
		res.Message = "Deploy complete, but failed to start: " + err.Error()
		log.WithError(err).Warn("bot deployed but did not start")
		return res, nil
	}
	res.PID = p.PID
	res.Message = "Deploy complete and bot started"
	log.WithField("pid", p.PID).Info("bot deployed and started")
	return res, nil
}

func (d *Deployer) write(botDir string, req Request) error {
	if err := os.MkdirAll(botDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	for _, f := range req.Files {
		if err := botfs.WriteFile(botDir, f.Name, f.Content); err != nil {
			return err
		}
	}
	if len(req.EnvVars) > 0 {
		if err := botfs.WriteEnv(botDir, req.EnvVars); err != nil {
			return err
		}
	}
	return nil
}

// needsInstall reports whether the runtime's manifest was deployed.
func needsInstall(botDir string, rt *keeper.Runtime) bool {
	if rt.Manifest == "" || rt.Install == nil {
		return false
	}
	st, err := os.Stat(filepath.Join(botDir, rt.Manifest))
	return err == nil && st.Mode().IsRegular()
}

func (d *Deployer) recordDeployment(record *models.Deployment) {
	if d.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.ledger.RecordDeployment(ctx, record); err != nil {
		d.log.WithError(err).WithField("bot_id", record.BotID).Warn("record deployment failed")
	}
}

// relativeNames checks every file against botDir and returns the cleaned
// slash-separated names to snapshot.
func relativeNames(botDir string, files []models.File) ([]string, error) {
	root, err := filepath.Abs(botDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternal, err)
	}
	names := make([]string, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		target, err := botfs.Resolve(botDir, f.Name)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", models.ErrInvalidPath, f.Name)
		}
		rel = filepath.ToSlash(rel)
		// secrets and host metadata stay out of the history
		if rel == botfs.EnvFile || rel == botfs.MetaFile {
			continue
		}
		if !seen[rel] {
			seen[rel] = true
			names = append(names, rel)
		}
	}
	return names, nil
}
