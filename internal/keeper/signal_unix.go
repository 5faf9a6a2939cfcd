//go:build unix

package keeper

import (
	"errors"

	"golang.org/x/sys/unix"
)

func terminateGroup(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

func killGroup(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

// signalGroup falls back to the single process when the group is already
// gone, for example when the leader was not started by JobCmd.
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
