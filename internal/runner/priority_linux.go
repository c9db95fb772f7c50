//go:build linux

package runner

import (
	"golang.org/x/sys/unix"

	logx "prestic/pkg/logx"
)

var cpuNice = map[string]int{
	"idle":   15,
	"low":    5,
	"normal": 0,
	"high":   -15,
}

// ioprio values packed as class<<13 | data (IOPRIO_CLASS_SHIFT = 13).
var ioPrio = map[string]int{
	"idle":   3 << 13,
	"low":    2<<13 | 7,
	"normal": 2<<13 | 4,
	"high":   2 << 13,
}

const ioprioWhoProcess = 1

// applyPriority adjusts the scheduling class of an already-started child.
// Failures are logged and otherwise ignored; the backup still runs.
func applyPriority(pid int, cpu, io string, log logx.Logger) {
	if nice, ok := cpuNice[cpu]; ok && nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
			log.Warn("setpriority failed", logx.Int("pid", pid), logx.Err(err))
		}
	}
	if prio, ok := ioPrio[io]; ok && io != "normal" {
		if _, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), uintptr(prio)); errno != 0 {
			log.Warn("ioprio_set failed", logx.Int("pid", pid), logx.Err(errno))
		}
	}
}
