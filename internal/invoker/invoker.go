// Package invoker runs the external inference script and captures its output.
//
// The argument vector is the bridge's ABI with predict.py and must not be reordered:
//
//	<interpreter> <script> <charset> <model> <image_base64>
//
// predict.py reads sys.argv[1] as the character set, [2] as the trained model and [3] as the
// base64 image. A mismatch does not fail loudly in the script, it just predicts garbage, so the
// vector is only ever built from the named fields of Args.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
	"github.com/andresmejia3/scribe/internal/types"
	"github.com/andresmejia3/scribe/internal/utils"
)

// MaxArgBytes is the largest image argument accepted. Linux rejects any single argv string
// above 128 KiB (MAX_ARG_STRLEN) with E2BIG.
const MaxArgBytes = 128*1024 - 1

const op = "invoke"

// Args is the named schema of one script invocation.
type Args struct {
	Interpreter string
	Script      string
	Charset     string
	Model       string
	Image       string // base64 image payload
}

// Validate checks every field before a process is started.
// Missing resource files are launch errors: the script could never succeed.
func (a Args) Validate() error {
	if a.Interpreter == "" {
		return bridgeerr.Newf(bridgeerr.KindLaunch, op, "interpreter is not set")
	}
	files := []struct{ name, path string }{
		{"script", a.Script},
		{"charset", a.Charset},
		{"model", a.Model},
	}
	for _, f := range files {
		if f.path == "" {
			return bridgeerr.Newf(bridgeerr.KindLaunch, op, "%s path is not set", f.name)
		}
		info, err := os.Stat(f.path)
		if err != nil {
			return bridgeerr.Newf(bridgeerr.KindLaunch, op, "%s: %w", f.name, err)
		}
		if info.IsDir() {
			return bridgeerr.Newf(bridgeerr.KindLaunch, op, "%s %s is a directory", f.name, f.path)
		}
	}

	if a.Image == "" {
		return bridgeerr.Newf(bridgeerr.KindInput, op, "image payload is empty")
	}
	if len(a.Image) > MaxArgBytes {
		return bridgeerr.Newf(bridgeerr.KindInput, op, "image payload is %d bytes, limit is %d", len(a.Image), MaxArgBytes)
	}
	return nil
}

// Argv renders the ordered argument vector passed to the interpreter.
func (a Args) Argv() []string {
	return []string{a.Script, a.Charset, a.Model, a.Image}
}

// Invoker executes the inference script synchronously.
type Invoker struct {
	timeout time.Duration
	logger  *zap.Logger
}

// New returns an Invoker that kills the script after timeout. Zero means no deadline.
func New(timeout time.Duration, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{timeout: timeout, logger: logger.Named("invoker")}
}

// Run executes the script and returns its complete output.
//
// A nil error means the process started, ran to completion within the deadline and exited 0.
// Launch failures are LaunchErrors; timeouts, cancellation and non-zero exits are
// ExecutionErrors carrying stderr. The ProcessResult is returned in every case where the
// process ran, so callers can log what it printed.
func (inv *Invoker) Run(ctx context.Context, args Args) (types.ProcessResult, error) {
	if err := args.Validate(); err != nil {
		return types.ProcessResult{ExitStatus: -1}, err
	}

	if err := ctx.Err(); err != nil {
		return types.ProcessResult{ExitStatus: -1}, bridgeerr.Newf(bridgeerr.KindExecution, op, "cancelled before start: %w", err)
	}

	runCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	cmd := utils.NewSafeCommand(runCtx, args.Interpreter, args.Argv()...)

	inv.logger.Debug("starting inference script",
		zap.String("interpreter", args.Interpreter),
		zap.String("script", args.Script),
		zap.Int("image_bytes", len(args.Image)),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return types.ProcessResult{ExitStatus: -1}, bridgeerr.New(bridgeerr.KindLaunch, op, err)
	}
	waitErr := cmd.Wait()

	res := types.ProcessResult{
		ExitStatus: cmd.ExitStatus(),
		Stdout:     cmd.Stdout.Bytes(),
		Stderr:     cmd.Stderr.Bytes(),
		Duration:   time.Since(start),
	}

	inv.logger.Debug("inference script finished",
		zap.Int("exit_status", res.ExitStatus),
		zap.Duration("duration", res.Duration),
		zap.Int("stdout_bytes", len(res.Stdout)),
		zap.Int("stderr_bytes", len(res.Stderr)),
	)

	if waitErr != nil {
		return res, classify(runCtx, ctx, waitErr, res, inv.timeout)
	}
	return res, nil
}

// classify maps a Wait error to an ExecutionError. The deadline is checked before the exit
// status because a killed process also reports a non-zero exit.
func classify(runCtx, parent context.Context, err error, res types.ProcessResult, timeout time.Duration) error {
	e := bridgeerr.New(bridgeerr.KindExecution, op, err).WithStderr(res.Stderr)
	e.ExitStatus = res.ExitStatus

	switch {
	case parent.Err() != nil:
		e.Err = fmt.Errorf("cancelled: %w", parent.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		e.Timeout = true
		e.Err = fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.Err = fmt.Errorf("script exited with status %d", exitErr.ExitCode())
		}
	}
	return e
}
