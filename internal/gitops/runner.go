package gitops

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

type gitRunner func(ctx context.Context, timeout time.Duration, stdin string, args ...string) (string, string, int, error)
type backoffSleeper func(ctx context.Context, d time.Duration) error

// runGit executa o binário resolvido com o ambiente allow-listado do Runtime.
func (rt *Runtime) runGit(ctx context.Context, timeout time.Duration, stdin string, args ...string) (string, string, int, error) {
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	childCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(childCtx, rt.Binary, args...)
	cmd.Env = rt.Env

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		if childCtx.Err() == context.DeadlineExceeded {
			return stdout.String(), stderr.String(), exitCode, NewBindingError(
				CodeTimeout,
				"Comando Git excedeu o tempo limite.",
				formatCommandFailureDetails(stderr.String(), exitCode, runErr),
			)
		}
		return stdout.String(), stderr.String(), exitCode, runErr
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
