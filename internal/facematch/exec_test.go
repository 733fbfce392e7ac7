package facematch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func shInvoker(t *testing.T, script string, timeout time.Duration) *ExecInvoker {
	t.Helper()
	inv, err := NewExecInvoker([]string{"sh", "-c", script, "verifier"}, timeout, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build invoker: %v", err)
	}
	return inv
}

func TestInvokeCapturesCombinedOutput(t *testing.T) {
	inv := shInvoker(t, `echo "doc=$1 vid=$2"; echo "progress" >&2`, 5*time.Second)

	out, err := inv.Invoke(context.Background(), "doc-ref", "vid-ref")
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !strings.Contains(out, "doc=doc-ref vid=vid-ref") {
		t.Fatalf("artifact refs not passed through: %q", out)
	}
	if !strings.Contains(out, "progress") {
		t.Fatalf("stderr not captured: %q", out)
	}
}

func TestInvokeNonzeroExitIsHardFailure(t *testing.T) {
	inv := shInvoker(t, `echo '{"verified":true,"matchScore":0.99}'; exit 3`, 5*time.Second)

	out, err := inv.Invoke(context.Background(), "doc", "vid")
	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if procErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", procErr.ExitCode)
	}
	if out != "" {
		t.Fatalf("output of a failed verifier must be discarded, got %q", out)
	}
}

func TestInvokeTimeoutTerminatesProcess(t *testing.T) {
	inv := shInvoker(t, `sleep 10`, 150*time.Millisecond)

	start := time.Now()
	_, err := inv.Invoke(context.Background(), "doc", "vid")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("invoker did not terminate the process, waited %v", elapsed)
	}
}

func TestInvokeCallerCancellation(t *testing.T) {
	inv := shInvoker(t, `sleep 10`, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := inv.Invoke(ctx, "doc", "vid")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout on cancellation, got %v", err)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("cancelled invocation left the process running for %v", elapsed)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	inv, err := NewExecInvoker([]string{"definitely-not-a-real-binary-xyz"}, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build invoker: %v", err)
	}

	if _, err := inv.Invoke(context.Background(), "doc", "vid"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestNewExecInvokerRejectsBadConfig(t *testing.T) {
	if _, err := NewExecInvoker(nil, time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecInvoker([]string{"sh"}, 0, zap.NewNop()); err == nil {
		t.Fatal("expected error for non-positive timeout")
	}
}
