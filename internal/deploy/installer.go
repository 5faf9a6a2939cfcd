package deploy

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"bothost/internal/keeper"
)

// Installer runs a dependency install command inside a bot directory and
// returns its combined output.
type Installer interface {
	Install(ctx context.Context, botDir string, argv []string) (string, error)
}

// CommandInstaller runs the command as a child process group.
type CommandInstaller struct {
	Timeout time.Duration
}

func (i CommandInstaller) Install(ctx context.Context, botDir string, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", nil
	}
	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	cmd := keeper.NewJobCmdContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = botDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	err := cmd.Wait()
	output := strings.TrimSpace(strings.ToValidUTF8(out.String(), ""))
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("%s timed out after %s", strings.Join(argv, " "), i.Timeout)
	}
	if err != nil {
		return output, fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
	return output, nil
}
