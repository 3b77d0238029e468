//go:build !unix

package runner

import (
	"os/exec"

	"github.com/shirou/gopsutil/v3/process"
)

// configureProcessGroup has no process groups to rely on here, so the kill
// walks the child's process tree instead.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if p, err := process.NewProcess(int32(cmd.Process.Pid)); err == nil {
			killTree(p)
		}
		return cmd.Process.Kill()
	}
}

func killTree(p *process.Process) {
	children, _ := p.Children()
	for _, c := range children {
		killTree(c)
	}
	_ = p.Kill()
}
