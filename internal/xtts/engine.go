package xtts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/phayes/freeport"
)

// Command-line arguments understood by the xtts-server binary.
const (
	argModelDir   = "--model-dir"
	argCheckpoint = "--checkpoint"
	argDevice     = "--device"
	argHost       = "--host"
	argPort       = "--port"
)

// DefaultBinary is the runtime binary resolved from PATH when the
// configuration names no other.
const DefaultBinary = "xtts-server"

// InstallHint tells the operator how to install the missing runtime.
const InstallHint = "pip install xtts-api-server"

// The engine listens on loopback only.
const loopbackHost = "127.0.0.1"

// Startup and shutdown tuning.
const (
	defaultStartupTimeout = 120 * time.Second
	healthPollInterval    = 250 * time.Millisecond
	healthProbeTimeout    = 2 * time.Second
	stopGracePeriod       = 5 * time.Second
)

// Log formats.
const (
	logFmtStartingEngine = "Starting XTTS engine: %s (model dir: %s, device: %s)"
	logFmtEngineReady    = "XTTS engine ready at %s after %s"
	logFmtEngineStderr   = "engine: %s"
	logFmtStopping       = "Stopping XTTS engine (pid %d)"
	logFmtKilledEngine   = "Engine did not stop within %s, killed"
	logFmtEngineStopped  = "XTTS engine stopped"
)

// Error messages.
const (
	errFmtFreePort     = "failed to find a free loopback port: %w"
	errFmtStderrPipe   = "failed to create engine stderr pipe: %w"
	errFmtStartProcess = "failed to start engine process: %w"
	errFmtEngineExited = "%w: %v"
)

// Static errors.
var (
	// ErrEngineNotFound indicates the runtime binary is not installed.
	ErrEngineNotFound = errors.New("xtts runtime not found")
	// ErrEngineExited indicates the runtime died before becoming healthy.
	ErrEngineExited = errors.New("engine exited during startup")
	// ErrStartupTimeout indicates the runtime never reported healthy.
	ErrStartupTimeout = errors.New("engine did not become healthy before the startup timeout")
	// ErrNotStarted indicates use of the engine before Start.
	ErrNotStarted = errors.New("engine has not been started")
)

// Options configures the runtime process.
type Options struct {
	// Binary names the runtime executable, resolved via PATH when not
	// an absolute path.
	Binary string

	// ModelDir is the base model directory handed to the runtime.
	ModelDir string

	// CheckpointPath is the finetuned checkpoint handed to the runtime.
	CheckpointPath string

	// Device selects the compute device ("cpu" or "cuda").
	Device string

	// ExtraArgs are appended verbatim to the runtime command line.
	ExtraArgs []string

	// StartupTimeout caps the wait for the runtime to become healthy.
	// Zero selects the default of two minutes.
	StartupTimeout time.Duration
}

// Engine owns one xtts-server process and the HTTP client bound to it.
type Engine struct {
	opts   Options
	log    *logger.Logger
	cmd    *exec.Cmd
	client *Client
	waitCh chan error
}

// NewEngine creates an engine manager. The runtime process is not started
// until Start is called.
func NewEngine(opts Options, log *logger.Logger) *Engine {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}

	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}

	return &Engine{
		opts:   opts,
		log:    log,
		cmd:    nil,
		client: nil,
		waitCh: nil,
	}
}

// ResolveBinary locates the runtime binary on PATH. A missing binary is the
// missing-dependency failure and must be reported before any input
// validation work.
func ResolveBinary(binary string) (string, error) {
	if binary == "" {
		binary = DefaultBinary
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrEngineNotFound, binary)
	}

	return path, nil
}

// Resolve locates this engine's runtime binary on PATH.
func (e *Engine) Resolve() (string, error) {
	return ResolveBinary(e.opts.Binary)
}

// Start spawns the runtime on a free loopback port and blocks until its
// health endpoint answers or the startup timeout elapses. The process is
// bound to ctx: cancelling it terminates the runtime.
func (e *Engine) Start(ctx context.Context) error {
	binPath, err := e.Resolve()
	if err != nil {
		return err
	}

	port, err := freeport.GetFreePort()
	if err != nil {
		return fmt.Errorf(errFmtFreePort, err)
	}

	args := []string{
		argModelDir, e.opts.ModelDir,
		argCheckpoint, e.opts.CheckpointPath,
		argDevice, e.opts.Device,
		argHost, loopbackHost,
		argPort, strconv.Itoa(port),
	}
	args = append(args, e.opts.ExtraArgs...)

	// #nosec G204 -- binary comes from config, arguments from validated flags
	cmd := exec.CommandContext(ctx, binPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf(errFmtStderrPipe, err)
	}

	e.log.Info(logFmtStartingEngine, binPath, e.opts.ModelDir, e.opts.Device)

	err = cmd.Start()
	if err != nil {
		return fmt.Errorf(errFmtStartProcess, err)
	}

	e.cmd = cmd
	e.client = NewClient(fmt.Sprintf("http://%s:%d", loopbackHost, port))
	e.waitCh = make(chan error, 1)

	// Drain stderr into the log first; Wait must not run while the pipe is
	// still being read.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			e.log.Info(logFmtEngineStderr, scanner.Text())
		}

		e.waitCh <- cmd.Wait()
	}()

	return e.awaitHealthy(ctx)
}

// Client returns the HTTP client bound to the running engine.
func (e *Engine) Client() (*Client, error) {
	if e.client == nil {
		return nil, ErrNotStarted
	}

	return e.client, nil
}

// Stop terminates the runtime process: interrupt first, then kill after a
// grace period. Safe to call when the engine never started or already
// exited.
func (e *Engine) Stop() error {
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}

	select {
	case <-e.waitCh:
		// Already exited.
		e.cmd = nil

		return nil
	default:
	}

	e.log.Info(logFmtStopping, e.cmd.Process.Pid)

	_ = e.cmd.Process.Signal(os.Interrupt)

	select {
	case <-e.waitCh:
	case <-time.After(stopGracePeriod):
		_ = e.cmd.Process.Kill()

		e.log.Warn(logFmtKilledEngine, stopGracePeriod)
		<-e.waitCh
	}

	e.log.Info(logFmtEngineStopped)
	e.cmd = nil

	return nil
}

// awaitHealthy polls the health endpoint until the engine answers, the
// process dies, or the startup timeout elapses.
func (e *Engine) awaitHealthy(ctx context.Context) error {
	started := time.Now()
	deadline := started.Add(e.opts.StartupTimeout)
	ticker := time.NewTicker(healthPollInterval)

	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = e.Stop()

			return fmt.Errorf("engine startup cancelled: %w", ctx.Err())
		case waitErr := <-e.waitCh:
			// Keep Stop safe after an early exit.
			e.waitCh <- waitErr

			return fmt.Errorf(errFmtEngineExited, ErrEngineExited, waitErr)
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			healthErr := e.client.HealthCheck(probeCtx)

			cancel()

			if healthErr == nil {
				e.log.Info(
					logFmtEngineReady,
					e.client.BaseURL(),
					time.Since(started).Round(time.Millisecond),
				)

				return nil
			}

			if time.Now().After(deadline) {
				_ = e.Stop()

				return ErrStartupTimeout
			}
		}
	}
}
