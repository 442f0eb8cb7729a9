package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// staleLockThreshold: index.lock vive só durante um comando; um lock mais
	// velho que isso indica processo morto/órfão, seguro de limpar.
	staleLockThreshold = 15 * time.Second

	lockRetryMaxAttempts  = 8
	lockRetryStep         = 350 * time.Millisecond
	lockMissingRetryDelay = 120 * time.Millisecond
)

// LockCleanupResult é o desfecho da inspeção do index.lock.
type LockCleanupResult string

const (
	LockRemoved LockCleanupResult = "removed"
	LockActive  LockCleanupResult = "active"
	LockMissing LockCleanupResult = "missing"
)

// CleanupStaleIndexLock inspeciona o index.lock do repositório: mais novo que
// staleAfter é de um processo vivo (não toca), mais velho é removido, ausente
// reporta missing.
func CleanupStaleIndexLock(projectPath string, staleAfter time.Duration) (LockCleanupResult, error) {
	if staleAfter <= 0 {
		staleAfter = staleLockThreshold
	}

	gitDir, err := resolveGitDir(projectPath)
	if err != nil {
		return LockMissing, nil
	}

	lockPath := filepath.Join(gitDir, "index.lock")
	info, err := os.Stat(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return LockMissing, nil
		}
		return LockMissing, err
	}

	if time.Since(info.ModTime()) < staleAfter {
		return LockActive, nil
	}

	if err := os.Remove(lockPath); err != nil {
		if os.IsNotExist(err) {
			return LockMissing, nil
		}
		return LockActive, err
	}
	return LockRemoved, nil
}

// runWriteWithLockRecovery executa um comando git mutante com retry limitado
// para contenção de index.lock, removendo locks obsoletos entre tentativas.
// Deve rodar dentro da fila write do repositório. Falhas não relacionadas a
// lock são propagadas imediatamente.
func (s *Service) runWriteWithLockRecovery(ctx context.Context, projectPath string, diag *commandDiagnosticState, stdin string, args ...string) (string, string, int, error) {
	var (
		stdout   string
		stderr   string
		exitCode int
		runErr   error
	)

	for attempt := 1; ; attempt++ {
		attemptTimeout := remainingTimeout(ctx, defaultWriteTimeout)
		stdout, stderr, exitCode, runErr = s.runGit(ctx, attemptTimeout, stdin, args...)
		if diag != nil {
			diag.recordAttempt(args, stderr, exitCode, attempt)
		}
		if runErr == nil {
			return stdout, stderr, exitCode, nil
		}

		if mapped := queueErrorFromContext(runErr, "Comando Git interrompido."); mapped != nil {
			return stdout, stderr, exitCode, mapped
		}

		if !isIndexLockConflict(stderr, runErr) {
			return stdout, stderr, exitCode, runErr
		}
		if attempt >= lockRetryMaxAttempts {
			return stdout, stderr, exitCode, lockConflictError(stderr, exitCode, runErr)
		}

		outcome, _ := CleanupStaleIndexLock(projectPath, staleLockThreshold)
		s.emitCommandDiagnostic(diag, commandStatusRetried, nil)

		var delay time.Duration
		switch outcome {
		case LockRemoved:
			// Lock obsoleto removido; backoff linear antes de reexecutar.
			delay = time.Duration(attempt) * lockRetryStep
		case LockActive:
			if attempt == lockRetryMaxAttempts-1 {
				return stdout, stderr, exitCode, lockConflictError(stderr, exitCode, runErr)
			}
			delay = time.Duration(attempt) * lockRetryStep
		case LockMissing:
			// Conflito provavelmente transitório: o outro processo já soltou
			// o lock. Retry rápido.
			delay = lockMissingRetryDelay
		}

		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			if mapped := queueErrorFromContext(sleepErr, "Retry de index.lock interrompido."); mapped != nil {
				return stdout, stderr, exitCode, mapped
			}
			return stdout, stderr, exitCode, sleepErr
		}
	}
}

func lockConflictError(stderr string, exitCode int, runErr error) error {
	return NewBindingError(
		CodeLockConflict,
		"O repositório está travado por outro processo Git.",
		fmt.Sprintf("Aguarde o outro processo terminar e tente novamente. %s", formatCommandFailureDetails(stderr, exitCode, runErr)),
	)
}

// resolveGitDir localiza o diretório .git real do repositório, cobrindo
// worktrees/submodules em que .git é um arquivo "gitdir: <path>".
func resolveGitDir(projectPath string) (string, error) {
	gitPath := filepath.Join(filepath.Clean(strings.TrimSpace(projectPath)), ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		return filepath.Clean(gitPath), nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("failed to read .git file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(strings.ToLower(content), "gitdir:") {
		return "", fmt.Errorf("invalid .git file format")
	}

	gitDir := strings.TrimSpace(content[len("gitdir:"):])
	if gitDir == "" {
		return "", fmt.Errorf("empty gitdir in .git file")
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(projectPath, gitDir)
	}

	return filepath.Clean(gitDir), nil
}
