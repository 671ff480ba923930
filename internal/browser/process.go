package browser

import (
	"errors"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// KillProcessTree kills pid and its descendants if they are still running.
// A process that already exited is not an error.
func KillProcessTree(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return eris.Wrapf(err, "browser: inspect process %d", pid)
	}
	return killTree(p)
}

func killTree(p *process.Process) error {
	// Children first so they are not re-parented before we see them.
	children, _ := p.Children()
	for _, c := range children {
		if err := killTree(c); err != nil {
			zap.L().Debug("kill child process", zap.Int32("pid", c.Pid), zap.Error(err))
		}
	}

	running, err := p.IsRunning()
	if err != nil || !running {
		return nil
	}
	zap.L().Warn("browser did not exit cleanly, killing it", zap.Int32("pid", p.Pid))
	if err := p.Kill(); err != nil {
		return eris.Wrapf(err, "browser: kill process %d", p.Pid)
	}
	return nil
}

// ChildPIDs lists the direct children of the current process. Lookup
// failures yield an empty list.
func ChildPIDs() []int {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		return nil
	}
	out := make([]int, 0, len(children))
	for _, c := range children {
		out = append(out, int(c.Pid))
	}
	return out
}

// NewPIDs returns the pids of after that are not in before.
func NewPIDs(before, after []int) []int {
	var out []int
	for _, pid := range after {
		if !slices.Contains(before, pid) {
			out = append(out, pid)
		}
	}
	return out
}
