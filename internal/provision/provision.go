// Package provision makes sure the Python runtime and the isolated dependency environment the
// inference script needs exist before it is invoked.
//
// Provisioning moves through Unchecked -> Verifying -> Ready | Failed. A successful run writes a
// marker file into the venv recording the interpreter version and the hash of the requirements
// manifest; later runs that find a matching marker skip installation entirely. Ready is cached
// in memory for the life of the process while the marker stays on disk.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
	"github.com/andresmejia3/scribe/internal/types"
	"github.com/andresmejia3/scribe/internal/utils"
)

// MarkerFile is written into the venv once dependencies are installed.
const MarkerFile = ".scribe-provisioned.json"

const op = "provision"

// State is the provisioning lifecycle.
type State int

const (
	StateUnchecked State = iota
	StateVerifying
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unchecked"
	}
}

// Runner executes an external command to completion and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands through utils.SafeCommand.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := utils.NewSafeCommand(ctx, name, args...)
	err := cmd.Run()
	return cmd.Stdout.Bytes(), cmd.Stderr.Bytes(), err
}

// Options configures a Provisioner.
type Options struct {
	Interpreter     string // system interpreter used for the version check and venv creation
	RequiredVersion string // substring the version output must contain
	VenvDir         string
	Requirements    string

	Runner   Runner
	Logger   *zap.Logger
	Progress func(step string)
}

// inflight shares provisioning runs across every Provisioner in the process. Runs are keyed by the
// directory and every option that changes the outcome, so a caller never inherits a result
// checked against someone else's interpreter or version.
var inflight flightGroup

// Provisioner verifies and, if needed, builds the isolated environment.
type Provisioner struct {
	opts Options

	mu     sync.Mutex
	state  State
	cached types.EnvironmentState
}

// New returns a Provisioner in the Unchecked state.
func New(opts Options) *Provisioner {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Progress == nil {
		opts.Progress = func(string) {}
	}
	opts.Logger = opts.Logger.Named("provisioner")
	return &Provisioner{opts: opts}
}

// State returns the current lifecycle state.
func (p *Provisioner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// VenvPython returns the interpreter inside the isolated environment.
func (p *Provisioner) VenvPython() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(p.opts.VenvDir, "Scripts", "python.exe")
	}
	return filepath.Join(p.opts.VenvDir, "bin", "python")
}

// Ensure guarantees that on a nil error the environment exists with its dependencies installed.
// Any failure is an EnvironmentError; a partially built venv is left for the next attempt.
func (p *Provisioner) Ensure(ctx context.Context) (types.EnvironmentState, error) {
	p.mu.Lock()
	if p.state == StateReady && p.markerPresent() {
		env := p.cached
		p.mu.Unlock()
		return env, nil
	}
	p.state = StateVerifying
	p.mu.Unlock()

	env, shared, err := inflight.Do(ctx, p.flightKey(), p.provision)
	if shared {
		p.opts.Logger.Debug("joined in-flight provisioning", zap.String("venv", p.opts.VenvDir))
	}
	if err != nil {
		var be *bridgeerr.Error
		if !errors.As(err, &be) {
			err = bridgeerr.Newf(bridgeerr.KindEnvironment, op, "cancelled: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateFailed
		return types.EnvironmentState{}, err
	}
	p.state = StateReady
	p.cached = env
	return p.cached, nil
}

func (p *Provisioner) flightKey() string {
	dir, err := filepath.Abs(p.opts.VenvDir)
	if err != nil {
		dir = p.opts.VenvDir
	}
	return strings.Join([]string{dir, p.opts.Interpreter, p.opts.RequiredVersion, p.opts.Requirements}, "\x00")
}

// Reset deletes the isolated environment and forgets the cached state.
func (p *Provisioner) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.RemoveAll(p.opts.VenvDir); err != nil {
		return fmt.Errorf("removing %s: %w", p.opts.VenvDir, err)
	}
	p.state = StateUnchecked
	p.cached = types.EnvironmentState{}
	return nil
}

func (p *Provisioner) provision(ctx context.Context) (types.EnvironmentState, error) {
	log := p.opts.Logger.With(zap.String("venv", p.opts.VenvDir))

	// 1. Interpreter check
	p.opts.Progress("Checking Python interpreter")
	version, err := p.interpreterVersion(ctx)
	if err != nil {
		return types.EnvironmentState{}, err
	}
	env := types.EnvironmentState{InterpreterVersion: version}

	reqHash, err := utils.HashFile(p.opts.Requirements)
	if err != nil {
		return env, bridgeerr.Newf(bridgeerr.KindEnvironment, op, "reading requirements manifest: %w", err)
	}

	// 2. Environment existence check
	info, err := os.Stat(p.opts.VenvDir)
	switch {
	case err == nil && !info.IsDir():
		return env, bridgeerr.Newf(bridgeerr.KindEnvironment, op, "%s exists but is not a directory", p.opts.VenvDir)
	case err == nil:
		env.VenvPresent = true
	case !errors.Is(err, os.ErrNotExist):
		return env, bridgeerr.New(bridgeerr.KindEnvironment, op, err)
	}

	if !env.VenvPresent {
		p.opts.Progress("Creating virtual environment")
		log.Info("creating virtual environment")
		if _, stderr, err := p.opts.Runner.Run(ctx, p.opts.Interpreter, "-m", "venv", p.opts.VenvDir); err != nil {
			return env, stepError(ctx, "creating virtual environment", err, stderr)
		}
		env.VenvPresent = true
	}

	if marker, ok := readMarker(p.opts.VenvDir); ok && marker.RequirementsSHA256 == reqHash {
		// Activation is a no-op: the venv interpreter is invoked by path.
		log.Debug("environment already provisioned", zap.Time("provisioned_at", marker.ProvisionedAt))
		env.DependenciesInstalled = true
		return env, nil
	}

	// 3. Dependency installation
	p.opts.Progress("Installing dependencies")
	log.Info("installing dependencies", zap.String("requirements", p.opts.Requirements))
	if _, stderr, err := p.opts.Runner.Run(ctx, p.VenvPython(), "-m", "pip", "install", "-r", p.opts.Requirements); err != nil {
		return env, stepError(ctx, "installing dependencies", err, stderr)
	}

	marker := types.ProvisionMarker{
		InterpreterVersion: version,
		RequirementsSHA256: reqHash,
		ProvisionedAt:      time.Now().UTC(),
	}
	if err := writeMarker(p.opts.VenvDir, marker); err != nil {
		return env, bridgeerr.Newf(bridgeerr.KindEnvironment, op, "writing provisioning marker: %w", err)
	}
	env.DependenciesInstalled = true
	log.Info("environment ready", zap.String("python", version))
	return env, nil
}

// interpreterVersion runs `<interpreter> --version` and checks it against the required version.
// Python 2 and early 3.x print the version on stderr, so both streams are read.
func (p *Provisioner) interpreterVersion(ctx context.Context) (string, error) {
	stdout, stderr, err := p.opts.Runner.Run(ctx, p.opts.Interpreter, "--version")
	if err != nil {
		if ctx.Err() != nil {
			return "", stepError(ctx, "checking interpreter version", err, stderr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", bridgeerr.Newf(bridgeerr.KindEnvironment, op, "%s --version failed: %w", p.opts.Interpreter, err).WithStderr(stderr)
		}
		return "", bridgeerr.Newf(bridgeerr.KindEnvironment, op, "python interpreter %q is not available: %w", p.opts.Interpreter, err)
	}

	version := strings.TrimSpace(string(stdout) + string(stderr))
	if !strings.Contains(version, p.opts.RequiredVersion) {
		return version, bridgeerr.Newf(bridgeerr.KindEnvironment, op, "Python %s is required, found %q", p.opts.RequiredVersion, version)
	}
	return version, nil
}

// stepError reports a failed command. A command killed because the run was cancelled is reported
// as a cancellation, not as whatever the killed process looked like.
func stepError(ctx context.Context, step string, err error, stderr []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return bridgeerr.Newf(bridgeerr.KindEnvironment, op, "%s cancelled: %w", step, ctxErr)
	}
	return bridgeerr.Newf(bridgeerr.KindEnvironment, op, "%s: %w", step, err).WithStderr(stderr)
}

func (p *Provisioner) markerPresent() bool {
	_, err := os.Stat(filepath.Join(p.opts.VenvDir, MarkerFile))
	return err == nil
}

func readMarker(dir string) (types.ProvisionMarker, bool) {
	var m types.ProvisionMarker
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, false
	}
	return m, true
}

func writeMarker(dir string, m types.ProvisionMarker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MarkerFile), data, 0644)
}
