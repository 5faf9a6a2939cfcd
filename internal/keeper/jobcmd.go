package keeper

import (
	"context"
	"os/exec"
	"time"
)

// JobCmd wraps exec.Cmd so the child leads its own process group. Signals
// sent through Terminate and Kill reach every process the child spawned.
type JobCmd struct {
	*exec.Cmd
}

func NewJobCmd(name string, arg ...string) *JobCmd {
	return &JobCmd{
		Cmd: exec.Command(name, arg...),
	}
}

// NewJobCmdContext kills the whole group when ctx is done and stops waiting
// for leftover stdio two seconds later.
func NewJobCmdContext(ctx context.Context, name string, arg ...string) *JobCmd {
	j := &JobCmd{
		Cmd: exec.CommandContext(ctx, name, arg...),
	}
	j.Cmd.Cancel = j.Kill
	j.Cmd.WaitDelay = 2 * time.Second
	return j
}

// Start must be used instead of the embedded Cmd.Start (and Run, Output).
func (j *JobCmd) Start() error {
	configure(j.Cmd)
	return j.Cmd.Start()
}

// Terminate asks the process group to exit.
func (j *JobCmd) Terminate() error {
	if j.Process == nil {
		return nil
	}
	return terminateGroup(j.Process.Pid)
}

// Kill force-kills the process group.
func (j *JobCmd) Kill() error {
	if j.Process == nil {
		return nil
	}
	return killGroup(j.Process.Pid)
}
