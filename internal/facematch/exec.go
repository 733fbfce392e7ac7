package facematch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned when the verifier exceeds its execution window.
// The process has been terminated by the time this error is observed.
var ErrTimeout = errors.New("verifier timed out")

// ProcessError indicates the verifier exited nonzero. Whatever it printed
// is not trustworthy and is never decoded.
type ProcessError struct {
	ExitCode int
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("verifier exited with code %d", e.ExitCode)
}

// ExecInvoker launches the face-matching engine as a subprocess with the
// two artifact references as trailing arguments and captures combined
// stdout+stderr. Every run is bounded by Timeout; expiry or caller
// cancellation kills the process.
type ExecInvoker struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecInvoker builds an invoker for the given command line, e.g.
// ["python3", "ml-service/face_matching.py"].
func NewExecInvoker(command []string, timeout time.Duration, logger *zap.Logger) (*ExecInvoker, error) {
	if len(command) == 0 {
		return nil, errors.New("verifier command is empty")
	}
	if timeout <= 0 {
		return nil, errors.New("verifier timeout must be positive")
	}
	return &ExecInvoker{
		command: command,
		timeout: timeout,
		logger:  logger.Named("facematch_invoker"),
	}, nil
}

// Invoke runs the verifier once. It returns the raw combined output on a
// clean exit, ErrTimeout if the deadline or the caller's context expired,
// and *ProcessError for any nonzero exit.
func (inv *ExecInvoker) Invoke(ctx context.Context, documentRef, videoRef string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	args := append(append([]string{}, inv.command[1:]...), documentRef, videoRef)
	cmd := exec.CommandContext(runCtx, inv.command[0], args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil {
		inv.logger.Warn("verifier terminated",
			zap.Duration("elapsed", elapsed),
			zap.Error(runCtx.Err()))
		return "", ErrTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			inv.logger.Error("verifier failed",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.Duration("elapsed", elapsed))
			return "", &ProcessError{ExitCode: exitErr.ExitCode()}
		}
		return "", fmt.Errorf("verifier could not be started: %w", err)
	}

	inv.logger.Info("verifier completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("output_bytes", output.Len()))
	return output.String(), nil
}
