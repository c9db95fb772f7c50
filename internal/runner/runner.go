// Package runner launches and supervises restic invocations.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"prestic/internal/eventbus"
	"prestic/internal/plan"
	"prestic/internal/profile"
	logx "prestic/pkg/logx"
)

// restic exit codes with dedicated meaning.
const (
	exitBackupWarnings = 3
	exitRepoLocked     = 11
)

// tailLines bounds the output excerpt attached to run events.
const tailLines = 10

// pipeWaitDelay bounds how long Wait may block on the output pipes after
// the child is gone. A grandchild (shell jobs, password helpers) can
// inherit them and outlive the kill.
const pipeWaitDelay = 3 * time.Second

// LaunchError wraps a failure to start the child process at all. It is
// terminal: lock retries never apply to it.
type LaunchError struct{ Err error }

func (e *LaunchError) Error() string { return "launch restic: " + e.Err.Error() }
func (e *LaunchError) Unwrap() error { return e.Err }

// Runner executes plans as child processes. It is stateless between runs
// and safe for concurrent use; serialization per profile is the caller's
// concern.
type Runner struct {
	log logx.Logger
	bus eventbus.Bus

	// lockInterval is the pause between relaunches while the repository
	// stays locked.
	lockInterval time.Duration
}

func New(log logx.Logger, bus eventbus.Bus) *Runner {
	return &Runner{log: log, bus: bus, lockInterval: defaultLockInterval}
}

// Execute runs the plan to completion, relaunching on lock contention
// until the plan's wait-for-lock budget is spent. Output lines stream to
// live (may be nil) as they appear.
//
// Execute never returns an error: the outcome, including failures, is the
// Result.
func (r *Runner) Execute(ctx context.Context, p *plan.Plan, live io.Writer) Result {
	log := r.log.With(logx.String("profile", p.Profile), logx.String("command", p.Command))
	start := time.Now()

	log.Info("starting", logx.String("argv", p.CommandLine()))
	r.publish(eventbus.TypeRunStarted, eventbus.RunEvent{Profile: p.Profile, Command: p.Command})

	retry := newLockRetry(p.WaitForLock, r.lockInterval)
	var res Result
loop:
	for {
		res = r.runOnce(ctx, p, live)
		if res.Status != StatusLockContended {
			break
		}
		wait, ok := retry.next()
		if !ok {
			log.Error("repository stayed locked, giving up",
				logx.Duration("budget", p.WaitForLock), logx.Int("attempts", retry.attempts))
			r.publish(eventbus.TypeRunLockExhausted, eventbus.RunEvent{
				Profile: p.Profile, Command: p.Command, ExitCode: res.ExitCode,
			})
			res.Err = fmt.Errorf("repository locked, wait budget %s exhausted", p.WaitForLock)
			break
		}
		log.Warn("repository locked, retrying",
			logx.Duration("wait", wait), logx.Int("attempt", retry.attempts))
		r.publish(eventbus.TypeRunLockRetry, eventbus.RunEvent{
			Profile: p.Profile, Command: p.Command,
		})
		select {
		case <-ctx.Done():
			res.Status = StatusCanceled
			res.Err = ctx.Err()
			break loop
		case <-time.After(wait):
		}
	}
	res.LockRetries = retry.attempts
	res.Duration = time.Since(start)

	ev := eventbus.RunEvent{
		Profile:  p.Profile,
		Command:  p.Command,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		Warning:  res.Warning,
		Tail:     res.Tail(tailLines),
	}
	if res.OK() {
		log.Info("finished", logx.Duration("took", res.Duration), logx.Bool("warning", res.Warning))
		r.publish(eventbus.TypeRunSucceeded, ev)
	} else {
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		log.Error("run failed",
			logx.String("status", res.Status.String()),
			logx.Int("exit_code", res.ExitCode),
			logx.Duration("took", res.Duration),
			logx.Err(res.Err))
		r.publish(eventbus.TypeRunFailed, ev)
	}
	return res
}

func (r *Runner) runOnce(ctx context.Context, p *plan.Plan, live io.Writer) Result {
	runCtx := ctx
	cancel := func() {}
	if p.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
	}
	defer cancel()

	capture := newLineCapture(p.LogFilter, live)
	cmd := exec.CommandContext(runCtx, p.Restic, p.Args...)
	cmd.Stdout = capture
	cmd.Stderr = capture
	cmd.Dir = p.WorkDir
	cmd.Env = overlayEnv(os.Environ(), p.Env)
	cmd.WaitDelay = pipeWaitDelay

	if err := cmd.Start(); err != nil {
		return Result{Status: StatusFailed, ExitCode: -1, Err: &LaunchError{Err: err}}
	}
	applyPriority(cmd.Process.Pid, p.CPUPriority, p.IOPriority, r.log)

	waitErr := cmd.Wait()
	capture.flush()
	lines, sawLock := capture.snapshot()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The child itself exited; only abandoned pipes were still open.
		// The exit status is what counts.
		waitErr = nil
	}

	res := Result{Output: lines}
	if waitErr != nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			res.ExitCode = ee.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = waitErr
		}
	}

	switch {
	case ctx.Err() != nil:
		res.Status = StatusCanceled
		res.Err = ctx.Err()
	case runCtx.Err() != nil:
		res.Status = StatusTimedOut
		res.Err = fmt.Errorf("timed out after %s", p.Timeout)
	case res.ExitCode == 0:
		res.Status = StatusSuccess
	case res.ExitCode == exitBackupWarnings && p.Command == "backup":
		// restic exit 3 on backup: completed, but some files were unreadable.
		res.Status = StatusSuccess
		res.Warning = true
	case res.ExitCode == exitRepoLocked || sawLock:
		res.Status = StatusLockContended
	default:
		res.Status = StatusFailed
		if res.Err == nil {
			res.Err = fmt.Errorf("restic exited %d", res.ExitCode)
		}
	}
	return res
}

func (r *Runner) publish(typ string, ev eventbus.RunEvent) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// overlayEnv merges the plan's environment on top of the ambient one; the
// overlay wins on key conflicts.
func overlayEnv(base []string, overlay []profile.KV) []string {
	if len(overlay) == 0 {
		return base
	}
	shadowed := make(map[string]bool, len(overlay))
	for _, kv := range overlay {
		shadowed[kv.Key] = true
	}
	out := make([]string, 0, len(base)+len(overlay))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if shadowed[key] {
			continue
		}
		out = append(out, entry)
	}
	for _, kv := range overlay {
		out = append(out, kv.Key+"="+kv.Value)
	}
	return out
}
