// Package container issues console and lifecycle commands to the game server container.
package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for container operations.
type Service interface {
	Console(ctx context.Context, container, command string) models.CommandResult
	Stop(ctx context.Context, container string) models.CommandResult
	Start(ctx context.Context, container string) models.CommandResult
	CopyFrom(ctx context.Context, container, srcPath, hostPath string) error
	IsRunning(ctx context.Context, container string) (bool, error)
	WaitStopped(ctx context.Context, container string, timeout, interval time.Duration) error
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Output fragments the docker CLI prints when the target cannot be reached.
var unreachableMarkers = []string{
	"no such container",
	"is not running",
	"cannot connect to the docker daemon",
	"error during connect",
}

// ShutdownNotice is broadcast right before the server is told to stop.
const ShutdownNotice = "Server is shutting down for backup!"

// Impl implements the Service interface.
type Impl struct {
	executor       CommandExecutor
	logger         zerolog.Logger
	binary         string
	consoleCommand string
}

// New creates a new container service.
func New(logger zerolog.Logger, cfg models.RuntimeConfig) *Impl {
	return NewWithExecutor(logger, cfg, &DefaultExecutor{})
}

// NewWithExecutor creates a new container service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, cfg models.RuntimeConfig, executor CommandExecutor) *Impl {
	binary := cfg.Binary
	if binary == "" {
		binary = "docker"
	}
	console := cfg.ConsoleCommand
	if console == "" {
		console = "rcon-cli"
	}
	return &Impl{
		executor:       executor,
		logger:         logger,
		binary:         binary,
		consoleCommand: console,
	}
}

// Console sends one command to the server console inside the container.
// Delivery failures are reported in the result, never returned as an error.
func (s *Impl) Console(ctx context.Context, container, command string) models.CommandResult {
	s.logger.Debug().Str("container", container).Str("command", command).Msg("sending console command")

	result := s.run(ctx, "exec", container, s.consoleCommand, command)
	if !result.Delivered() {
		s.logger.Warn().
			Err(result.Error).
			Str("container", container).
			Str("command", command).
			Str("status", result.Status.String()).
			Msg("console command not delivered")
	}
	return result
}

// Stop announces the shutdown and asks the server to stop itself.
// The server process exiting is what stops the container.
func (s *Impl) Stop(ctx context.Context, container string) models.CommandResult {
	s.logger.Info().Str("container", container).Msg("stopping server")

	s.Console(ctx, container, "say "+ShutdownNotice)
	return s.Console(ctx, container, "stop")
}

// Start starts the container.
func (s *Impl) Start(ctx context.Context, container string) models.CommandResult {
	s.logger.Info().Str("container", container).Msg("starting container")

	result := s.run(ctx, "start", container)
	if !result.Delivered() {
		s.logger.Error().
			Err(result.Error).
			Str("container", container).
			Str("status", result.Status.String()).
			Msg("failed to start container")
	}
	return result
}

// CopyFrom copies a path out of the container to a host path.
func (s *Impl) CopyFrom(ctx context.Context, container, srcPath, hostPath string) error {
	s.logger.Debug().
		Str("container", container).
		Str("source", srcPath).
		Str("target", hostPath).
		Msg("copying path out of container")

	output, err := s.executor.Execute(ctx, s.binary, "cp", container+":"+srcPath, hostPath)
	if err != nil {
		return fmt.Errorf("failed to copy %s from %s: %w, output: %s", srcPath, container, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// IsRunning reports whether the container is currently running.
func (s *Impl) IsRunning(ctx context.Context, container string) (bool, error) {
	output, err := s.executor.Execute(ctx, s.binary, "inspect", "-f", "{{.State.Running}}", container)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w, output: %s", container, err, strings.TrimSpace(string(output)))
	}

	state := strings.TrimSpace(string(output))
	switch state {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected container state %q", state)
	}
}

// WaitStopped polls the container state until it reports stopped or timeout elapses.
func (s *Impl) WaitStopped(ctx context.Context, container string, timeout, interval time.Duration) error {
	s.logger.Info().
		Str("container", container).
		Str("timeout", timeout.String()).
		Msg("waiting for container to stop")

	if interval <= 0 {
		interval = time.Second
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if timeout > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = interval
		bo.MaxInterval = 4 * interval
		bo.MaxElapsedTime = timeout
		b = bo
	}

	start := time.Now()
	operation := func() error {
		running, err := s.IsRunning(ctx, container)
		if err != nil {
			return err
		}
		if running {
			return errStillRunning
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Debug().Err(err).Str("next", next.String()).Msg("container not stopped yet")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("container %s did not stop within %s: %w", container, timeout, err)
	}

	s.logger.Info().
		Str("container", container).
		Dur("waited", time.Since(start)).
		Msg("container stopped")
	return nil
}

var errStillRunning = errors.New("container still running")

func (s *Impl) run(ctx context.Context, args ...string) models.CommandResult {
	output, err := s.executor.Execute(ctx, s.binary, args...)
	result := models.CommandResult{Output: strings.TrimSpace(string(output))}
	if err == nil {
		result.Status = models.StatusDelivered
		return result
	}

	result.Status = classify(err, result.Output)
	result.Error = fmt.Errorf("%s %s: %w", s.binary, args[0], err)
	return result
}

// classify maps an execution failure to a command status.
func classify(err error, output string) models.CommandStatus {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return models.StatusUnreachable
	}

	lower := strings.ToLower(output)
	for _, marker := range unreachableMarkers {
		if strings.Contains(lower, marker) {
			return models.StatusUnreachable
		}
	}
	return models.StatusRejected
}
