package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"vidcutapi/config"
	"vidcutapi/progress"
)

const (
	DefaultTimeout      = time.Hour
	defaultCaptureLimit = 4 << 20
	maxLineLength       = 1 << 20
	// waitDelay bounds how long Wait blocks on pipes held open by orphaned grandchildren.
	waitDelay = 5 * time.Second
)

var (
	ErrTimedOut = errors.New("process timed out")
	ErrLaunch   = errors.New("process could not be started")
)

// Command is one external invocation: an argv vector, never a shell string.
type Command struct {
	Name string
	Path string
	Args []string
	// Env is appended to the supervisor's environment.
	Env []string
	Dir string
	// Timeout overrides the runner's default when positive.
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeFailure     OutcomeKind = "failure"
	OutcomeTimedOut    OutcomeKind = "timed_out"
	OutcomeLaunchError OutcomeKind = "launch_error"
)

// Outcome is the final result of one supervised process.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	Stdout   string
	Stderr   string
	// Err carries the cause for TimedOut, LaunchError and supervisor-side failures.
	Err      error
	Duration time.Duration
}

func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

// Runner supervises external processes: bounded wall-clock time, streamed
// stdout, captured stderr, and guaranteed termination.
type Runner struct {
	cfg          *config.Config
	timeout      time.Duration
	captureLimit int64
	workDir      string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := cfg.OutputCaptureLimit
	if limit <= 0 {
		limit = defaultCaptureLimit
	}

	for _, tmpl := range []string{cfg.DownloadCmd, cfg.CutCmd} {
		args, err := ParseTemplate(tmpl)
		if err != nil {
			return nil, fmt.Errorf("command template %q: %w", tmpl, err)
		}
		if _, err := exec.LookPath(args[0]); err != nil {
			zap.S().Named("runner").Warnw("command binary not found in PATH, jobs using it will fail to launch",
				"binary", args[0])
		}
	}

	return &Runner{
		cfg:          cfg,
		timeout:      timeout,
		captureLimit: limit,
		workDir:      cfg.TempDir,
	}, nil
}

// Run executes cmd until it exits, is killed on timeout, or fails to launch.
// Every stdout line is captured, passed to onLine, and parsed; decoded events
// are delivered to onEvent synchronously and in emission order. Stderr is
// returned only in the Outcome.
func (r *Runner) Run(ctx context.Context, cmd Command, onEvent func(progress.Event), onLine func(string)) Outcome {
	log := zap.S().Named("runner")
	started := time.Now()

	if cmd.Path == "" {
		return Outcome{Kind: OutcomeLaunchError, ExitCode: -1, Err: fmt.Errorf("%w: empty command", ErrLaunch)}
	}
	if err := ValidateArgs(cmd.Args); err != nil {
		return Outcome{Kind: OutcomeLaunchError, ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrLaunch, err)}
	}
	if err := r.checkResources(); err != nil {
		return Outcome{Kind: OutcomeLaunchError, ExitCode: -1, Err: fmt.Errorf("%w: insufficient system resources: %v", ErrLaunch, err)}
	}

	timeout := r.timeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	proc.Env = append(os.Environ(), cmd.Env...)
	proc.Dir = cmd.Dir
	proc.WaitDelay = waitDelay
	configureProcessGroup(proc)

	stderr := newCappedBuffer(r.captureLimit)
	proc.Stderr = stderr
	stdoutPipe, err := proc.StdoutPipe()
	if err != nil {
		return Outcome{Kind: OutcomeLaunchError, ExitCode: -1, Err: fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)}
	}

	log.Infow("starting process", "name", cmd.Name, "command", cmd.String())
	if err := proc.Start(); err != nil {
		return Outcome{Kind: OutcomeLaunchError, ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrLaunch, err), Duration: time.Since(started)}
	}

	stdout := newCappedBuffer(r.captureLimit)
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		stdout.WriteLine(line)
		if onLine != nil {
			onLine(line)
		}
		if onEvent == nil {
			continue
		}
		if ev, ok := progress.Parse(line); ok {
			onEvent(ev)
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Stop reading means the process could block on a full pipe; kill it.
		cancel()
	}

	waitErr := proc.Wait()
	outcome := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome.Kind = OutcomeTimedOut
		outcome.ExitCode = -1
		outcome.Err = fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	case scanErr != nil:
		outcome.Kind = OutcomeFailure
		outcome.ExitCode = exitCode(waitErr)
		outcome.Err = fmt.Errorf("read stdout: %w", scanErr)
	case waitErr != nil:
		outcome.Kind = OutcomeFailure
		outcome.ExitCode = exitCode(waitErr)
		outcome.Err = waitErr
		if ctx.Err() != nil {
			outcome.Err = fmt.Errorf("supervisor stopped: %w", ctx.Err())
		}
	default:
		outcome.Kind = OutcomeSuccess
		outcome.ExitCode = 0
	}

	log.Infow("process finished", "name", cmd.Name, "outcome", outcome.Kind,
		"exitCode", outcome.ExitCode, "duration", outcome.Duration)
	return outcome
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}

// checkResources verifies that the system has enough free resources to start a new job.
// Each check only runs when its threshold is configured.
func (r *Runner) checkResources() error {
	log := zap.S().Named("runner")

	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(200*time.Millisecond, false)
		if err != nil {
			log.Warnw("could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Warnw("could not get memory usage", "error", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 && r.workDir != "" {
		d, err := disk.Usage(r.workDir)
		if err != nil {
			log.Warnw("could not get disk usage", "path", r.workDir, "error", err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
