//go:build !linux

package runner

import logx "prestic/pkg/logx"

// applyPriority is a no-op outside Linux; priorities are best effort.
func applyPriority(pid int, cpu, io string, log logx.Logger) {
	if cpu != "" || io != "" {
		log.Debug("process priorities unsupported on this platform",
			logx.String("cpu", cpu), logx.String("io", io))
	}
}
