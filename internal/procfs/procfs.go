// Package procfs reads process metrics from /proc.
package procfs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrUnavailable is returned when the metric cannot be read, for example
// because the process is gone or /proc does not exist on this platform.
var ErrUnavailable = errors.New("process metric unavailable")

// ReadRSS returns the resident set size of pid in bytes, from the VmRSS
// line of /proc/<pid>/status.
func ReadRSS(pid int) (int64, error) {
	return readRSSFrom(fmt.Sprintf("/proc/%d/status", pid))
}

func readRSSFrom(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		// "VmRSS:	   12345 kB"
		fields := strings.Fields(strings.TrimPrefix(line, "VmRSS:"))
		if len(fields) == 0 {
			break
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad VmRSS %q", ErrUnavailable, line)
		}
		return kb * 1024, nil
	}
	// kernel threads and zombies have no VmRSS line
	return 0, ErrUnavailable
}

// ToMB converts bytes to megabytes rounded to two decimals.
func ToMB(bytes int64) float64 {
	mb := float64(bytes) / (1024 * 1024)
	return float64(int64(mb*100+0.5)) / 100
}
