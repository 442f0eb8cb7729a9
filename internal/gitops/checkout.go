package gitops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const checkoutMaxTransitions = 4

// CheckoutBranch troca a branch ativa do repositório com a cadeia de
// fallbacks do dashboard: checkout direto, criação de branch local rastreando
// origin/<nome>, limpeza de index.lock obsoleto e auto-stash de alterações
// que bloqueiam a troca. Cada fallback roda no máximo uma vez.
func (s *Service) CheckoutBranch(ctx context.Context, projectPath string, branch string, opts CheckoutOptions) (CheckoutResult, error) {
	branchName := strings.TrimSpace(branch)
	if err := validateRefName(branchName); err != nil {
		return CheckoutResult{}, err
	}

	commandID, startedAt := s.beginCommand("checkout_branch")
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, "checkout_branch", nil, startedAt, err)
		return CheckoutResult{}, err
	}

	var result CheckoutResult
	directArgs := []string{"checkout", branchName}
	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, "checkout_branch", directArgs, startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		return s.runCheckoutTransitions(ctx, diag, preflight.RepoRoot, branchName, opts, &result)
	})
	if queueErr != nil {
		return CheckoutResult{}, queueErr
	}

	s.emitPostWriteReconciliation(preflight.RepoRoot, "checkout_branch", true)
	return result, nil
}

// runCheckoutTransitions executa a máquina de estados do checkout dentro da
// fila write. A cada falha o stderr é classificado e no máximo um fallback
// novo é acionado; falha repetida do mesmo tipo encerra com erro mapeado.
func (s *Service) runCheckoutTransitions(ctx context.Context, diag *commandDiagnosticState, repoRoot string, branchName string, opts CheckoutOptions, result *CheckoutResult) error {
	var (
		triedTracking bool
		triedLock     bool
		triedStash    bool
	)

	checkoutArgs := []string{"-C", repoRoot, "checkout", branchName}

	for transition := 1; transition <= checkoutMaxTransitions; transition++ {
		_, stderr, exitCode, runErr := s.runGit(ctx, remainingTimeout(ctx, defaultWriteTimeout), "", checkoutArgs...)
		if diag != nil {
			diag.recordAttempt(checkoutArgs, stderr, exitCode, transition)
		}
		if runErr == nil {
			return nil
		}
		if mapped := queueErrorFromContext(runErr, "Checkout interrompido."); mapped != nil {
			return mapped
		}

		switch classifyGitFailure(stderr, runErr) {
		case failurePathspecNotFound:
			if triedTracking {
				return branchNotFoundError(branchName, stderr, exitCode, runErr)
			}
			triedTracking = true

			remoteRef := "origin/" + branchName
			if !s.remoteRefExists(ctx, repoRoot, remoteRef) {
				return branchNotFoundError(branchName, stderr, exitCode, runErr)
			}

			trackArgs := []string{"-C", repoRoot, "checkout", "-b", branchName, "--track", remoteRef}
			_, trackStderr, trackExit, trackErr := s.runGit(ctx, remainingTimeout(ctx, defaultWriteTimeout), "", trackArgs...)
			if diag != nil {
				diag.recordAttempt(trackArgs, trackStderr, trackExit, transition)
			}
			if trackErr == nil {
				return nil
			}
			if mapped := queueErrorFromContext(trackErr, "Checkout interrompido."); mapped != nil {
				return mapped
			}
			// A criação com tracking pode esbarrar nos mesmos obstáculos do
			// checkout direto (lock, alterações locais); reclassifica.
			stderr, exitCode, runErr = trackStderr, trackExit, trackErr
			switch classifyGitFailure(stderr, runErr) {
			case failureLockConflict, failureBlockedByChanges:
				transition--
				continue
			}
			return wrapWriteCommandError(
				CodeCommandFailed,
				fmt.Sprintf("Falha ao criar a branch local '%s' rastreando '%s'.", branchName, remoteRef),
				stderr, exitCode, runErr,
			)

		case failureLockConflict:
			if opts.DisableLockCleanup || triedLock {
				return lockConflictError(stderr, exitCode, runErr)
			}
			triedLock = true

			outcome, _ := CleanupStaleIndexLock(repoRoot, staleLockThreshold)
			s.emitCommandDiagnostic(diag, commandStatusRetried, nil)
			switch outcome {
			case LockRemoved:
				result.CleanedLock = true
			case LockActive:
				return lockConflictError(stderr, exitCode, runErr)
			case LockMissing:
				if sleepErr := s.sleep(ctx, lockMissingRetryDelay); sleepErr != nil {
					if mapped := queueErrorFromContext(sleepErr, "Checkout interrompido durante retry de lock."); mapped != nil {
						return mapped
					}
					return sleepErr
				}
			}
			continue

		case failureBlockedByChanges:
			if opts.DisableAutoStash || triedStash {
				return NewBindingError(
					CodeBlockedByChanges,
					"Alterações locais impedem a troca de branch.",
					"Faça commit ou stash das alterações antes de trocar de branch. "+formatCommandFailureDetails(stderr, exitCode, runErr),
				)
			}
			triedStash = true

			stashed, stashMessage, stashErr := s.autoStashBeforeCheckout(ctx, diag, repoRoot)
			if stashErr != nil {
				return stashErr
			}
			if !stashed {
				// git stash não registrou nada: as alterações que bloqueiam
				// não são stasháveis; reporta o bloqueio original.
				return NewBindingError(
					CodeBlockedByChanges,
					"Alterações locais impedem a troca de branch.",
					"O auto-stash não capturou as alterações bloqueantes. "+formatCommandFailureDetails(stderr, exitCode, runErr),
				)
			}
			result.Stashed = true
			result.StashRef = "stash@{0}"
			result.StashMessage = stashMessage
			continue

		default:
			return wrapWriteCommandError(
				CodeCommandFailed,
				fmt.Sprintf("Falha ao fazer checkout da branch '%s'.", branchName),
				stderr, exitCode, runErr,
			)
		}
	}

	return NewBindingError(
		CodeCommandFailed,
		fmt.Sprintf("Checkout da branch '%s' não convergiu após os fallbacks.", branchName),
		"",
	)
}

// autoStashBeforeCheckout empilha as alterações locais com um rótulo
// rastreável e confirma via contagem de stash que algo foi de fato guardado
// (git stash retorna 0 mesmo sem nada para stashear).
func (s *Service) autoStashBeforeCheckout(ctx context.Context, diag *commandDiagnosticState, repoRoot string) (bool, string, error) {
	countBefore := s.stashCount(ctx, repoRoot)

	label := fmt.Sprintf("devdeck-auto-stash %s %s", time.Now().Format("2006-01-02T15:04:05"), uuid.NewString()[:8])
	stashArgs := []string{"-C", repoRoot, "stash", "push", "--include-untracked", "-m", label}
	_, stderr, exitCode, runErr := s.runGit(ctx, remainingTimeout(ctx, defaultWriteTimeout), "", stashArgs...)
	if diag != nil {
		diag.recordAttempt(stashArgs, stderr, exitCode, 0)
	}
	if runErr != nil {
		if mapped := queueErrorFromContext(runErr, "Auto-stash interrompido."); mapped != nil {
			return false, "", mapped
		}
		return false, "", wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao guardar alterações locais antes do checkout.",
			stderr, exitCode, runErr,
		)
	}

	countAfter := s.stashCount(ctx, repoRoot)
	return countAfter > countBefore, label, nil
}

// stashCount conta as entradas atuais do stash; erro conta como zero.
func (s *Service) stashCount(ctx context.Context, repoRoot string) int {
	stdout, _, _, err := s.runGit(ctx, remainingTimeout(ctx, defaultReadTimeout), "", "-C", repoRoot, "stash", "list")
	if err != nil {
		return 0
	}

	count := 0
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

func (s *Service) remoteRefExists(ctx context.Context, repoRoot string, ref string) bool {
	_, _, _, err := s.runGit(ctx, remainingTimeout(ctx, defaultReadTimeout), "", "-C", repoRoot, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func branchNotFoundError(branchName string, stderr string, exitCode int, runErr error) error {
	return NewBindingError(
		CodePathspecNotFound,
		fmt.Sprintf("Branch '%s' não existe local nem em origin.", branchName),
		formatCommandFailureDetails(stderr, exitCode, runErr),
	)
}

// validateRefName rejeita nomes que o git recusaria ou que injetariam flags.
func validateRefName(name string) error {
	if name == "" {
		return newValidationError("branch")
	}
	if strings.HasPrefix(name, "-") {
		return NewBindingError(
			CodeValidation,
			"Nome de referência inválido.",
			"Nomes não podem começar com '-'.",
		)
	}
	if strings.ContainsAny(name, " \t\n\r~^:?*[\\") || strings.Contains(name, "..") {
		return NewBindingError(
			CodeValidation,
			"Nome de referência inválido.",
			fmt.Sprintf("'%s' contém caracteres não permitidos em referências Git.", name),
		)
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") || strings.Contains(name, "@{") {
		return NewBindingError(
			CodeValidation,
			"Nome de referência inválido.",
			fmt.Sprintf("'%s' não é um nome de referência Git válido.", name),
		)
	}
	return nil
}
