package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultInitBranch = "main"

// defaultGitignore cobre o lixo mais comum de projetos gerenciados pelo
// dashboard sem assumir stack.
const defaultGitignore = `# Dependencies
node_modules/
vendor/

# Build output
dist/
build/
out/

# Environment
.env
.env.local

# Editor/OS
.DS_Store
.idea/
.vscode/
*.log
`

// Push envia a branch atual para o remote. Sem upstream configurado, publica
// com -u origin <branch>. HEAD destacado não tem branch para publicar e falha
// com erro próprio.
func (s *Service) Push(ctx context.Context, projectPath string) error {
	commandID, startedAt := s.beginCommand("push")

	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, "push", nil, startedAt, err)
		return err
	}

	branch := strings.TrimSpace(preflight.Branch)
	if branch == "" || branch == "HEAD" {
		detachedErr := NewBindingError(
			CodeDetachedHead,
			"HEAD destacado: não há branch atual para enviar.",
			"Faça checkout de uma branch antes de executar push.",
		)
		s.emitCommandFailure(commandID, preflight.RepoRoot, "push", nil, startedAt, detachedErr)
		return detachedErr
	}

	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, "push", []string{"push"}, startedAt, syncTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		args := []string{"-C", preflight.RepoRoot, "push"}
		if !s.hasUpstream(ctx, preflight.RepoRoot) {
			args = []string{"-C", preflight.RepoRoot, "push", "-u", "origin", branch}
		}

		_, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", args...)
		if runErr != nil {
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao enviar commits para o remote.",
				stderr, exitCode, runErr,
			)
		}
		return nil
	})
	if queueErr != nil {
		return queueErr
	}

	s.emitPostWriteReconciliation(preflight.RepoRoot, "push", true)
	return nil
}

// Pull traz e integra as mudanças do upstream da branch atual.
func (s *Service) Pull(ctx context.Context, projectPath string) error {
	return s.runSyncMutation(ctx, projectPath, "pull", []string{"pull"},
		"Falha ao atualizar a branch a partir do remote.")
}

// Fetch atualiza as referências remotas sem tocar o working tree. --prune
// remove referências de branches já excluídas no remote.
func (s *Service) Fetch(ctx context.Context, projectPath string) error {
	return s.runSyncMutation(ctx, projectPath, "fetch", []string{"fetch", "--all", "--prune"},
		"Falha ao buscar atualizações do remote.")
}

func (s *Service) runSyncMutation(ctx context.Context, projectPath string, action string, gitArgs []string, failureMessage string) error {
	commandID, startedAt := s.beginCommand(action)

	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, action, nil, startedAt, err)
		return err
	}

	fullArgs := append([]string{"-C", preflight.RepoRoot}, gitArgs...)
	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, action, gitArgs, startedAt, syncTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		_, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", fullArgs...)
		if runErr != nil {
			if classifyGitFailure(stderr, runErr) == failureBlockedByChanges {
				return NewBindingError(
					CodeBlockedByChanges,
					"Alterações locais impedem a integração com o remote.",
					formatCommandFailureDetails(stderr, exitCode, runErr),
				)
			}
			return wrapWriteCommandError(CodeCommandFailed, failureMessage, stderr, exitCode, runErr)
		}
		return nil
	})
	if queueErr != nil {
		return queueErr
	}

	s.emitPostWriteReconciliation(preflight.RepoRoot, action, true)
	return nil
}

// hasUpstream verifica se a branch atual tem upstream configurado.
func (s *Service) hasUpstream(ctx context.Context, repoRoot string) bool {
	_, _, _, err := s.runGit(ctx, remainingTimeout(ctx, defaultReadTimeout), "", "-C", repoRoot, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	return err == nil
}

// InitRepository inicializa um repositório novo no diretório dado, com a
// branch inicial informada (main por padrão) e um .gitignore básico quando o
// diretório ainda não tem um. Diretório que já é repositório é rejeitado.
func (s *Service) InitRepository(ctx context.Context, projectPath string, initialBranch string) error {
	branch := strings.TrimSpace(initialBranch)
	if branch == "" {
		branch = defaultInitBranch
	}
	if err := validateRefName(branch); err != nil {
		return err
	}

	commandID, startedAt := s.beginCommand("init_repository")

	normalized := strings.TrimSpace(projectPath)
	if normalized == "" {
		err := newValidationError("projectPath")
		s.emitCommandFailure(commandID, projectPath, "init_repository", nil, startedAt, err)
		return err
	}
	absPath, err := filepath.Abs(normalized)
	if err != nil {
		wrapped := NewBindingError(
			CodeInvalidPath,
			"Não foi possível resolver o diretório do projeto.",
			err.Error(),
		)
		s.emitCommandFailure(commandID, normalized, "init_repository", nil, startedAt, wrapped)
		return wrapped
	}
	absPath = filepath.Clean(absPath)

	if stat, statErr := os.Stat(absPath); statErr != nil || !stat.IsDir() {
		notDir := NewBindingError(
			CodeRepoNotFound,
			"Diretório do projeto não encontrado.",
			absPath,
		)
		s.emitCommandFailure(commandID, absPath, "init_repository", nil, startedAt, notDir)
		return notDir
	}
	if _, gitErr := resolveGitDir(absPath); gitErr == nil {
		already := NewBindingError(
			CodeValidation,
			"O diretório já é um repositório Git.",
			absPath,
		)
		s.emitCommandFailure(commandID, absPath, "init_repository", nil, startedAt, already)
		return already
	}

	args := []string{"init", "-b", branch}
	queueErr := s.executeWrite(ctx, absPath, commandID, "init_repository", args, startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		fullArgs := append([]string{"-C", absPath}, args...)
		_, stderr, exitCode, runErr := s.runGit(ctx, remainingTimeout(ctx, defaultWriteTimeout), "", fullArgs...)
		if diag != nil {
			diag.recordAttempt(fullArgs, stderr, exitCode, 1)
		}
		if runErr != nil {
			// git < 2.28 não conhece init -b; cai para init + branch -m.
			if strings.Contains(strings.ToLower(stderr), "unknown option") {
				return s.initWithoutBranchFlag(ctx, diag, absPath, branch)
			}
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao inicializar o repositório.",
				stderr, exitCode, runErr,
			)
		}

		writeDefaultGitignore(absPath)
		return nil
	})
	if queueErr != nil {
		return queueErr
	}

	s.InvalidateRepoCache(absPath)
	s.emitStatusChanged(absPath, "repository_initialized", "init_repository")
	s.emitRefsChanged(absPath, "repository_initialized", "init_repository")
	return nil
}

// CreateInitialCommit registra o primeiro commit de um repositório recém
// inicializado: adiciona todo o conteúdo ao stage e commita de uma vez.
// Repositório que já tem histórico é rejeitado; use o commit comum.
func (s *Service) CreateInitialCommit(ctx context.Context, projectPath string, message string) (string, error) {
	trimmedMessage := strings.TrimSpace(message)
	if trimmedMessage == "" {
		trimmedMessage = "Initial commit"
	}

	commandID, startedAt := s.beginCommand("initial_commit")
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, "initial_commit", nil, startedAt, err)
		return "", err
	}

	var commitHash string
	args := []string{"add", "-A"}
	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, "initial_commit", args, startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		if _, _, _, headErr := s.runGit(ctx, remainingTimeout(ctx, defaultReadTimeout), "", "-C", preflight.RepoRoot, "rev-parse", "--verify", "HEAD"); headErr == nil {
			return NewBindingError(
				CodeValidation,
				"O repositório já possui commits.",
				"Use o commit comum para registrar novas mudanças.",
			)
		}

		addArgs := []string{"-C", preflight.RepoRoot, "add", "-A"}
		if _, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", addArgs...); runErr != nil {
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao preparar os arquivos do commit inicial.",
				stderr, exitCode, runErr,
			)
		}

		commitArgs := []string{"-C", preflight.RepoRoot, "commit", "-F", "-"}
		stdout, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, trimmedMessage+"\n", commitArgs...)
		if runErr != nil {
			combined := strings.ToLower(stdout + "\n" + stderr)
			if strings.Contains(combined, "nothing to commit") {
				return NewBindingError(
					CodeValidation,
					"Nada para incluir no commit inicial.",
					"O diretório do projeto não tem arquivos versáveis.",
				)
			}
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao criar o commit inicial.",
				stderr, exitCode, runErr,
			)
		}

		headOut, _, _, headErr := s.runGit(ctx, remainingTimeout(ctx, defaultReadTimeout), "", "-C", preflight.RepoRoot, "rev-parse", "HEAD")
		if headErr == nil {
			commitHash = strings.TrimSpace(headOut)
		}
		return nil
	})
	if queueErr != nil {
		return "", queueErr
	}

	s.emitPostWriteReconciliation(preflight.RepoRoot, "initial_commit", true)
	return commitHash, nil
}

func (s *Service) initWithoutBranchFlag(ctx context.Context, diag *commandDiagnosticState, absPath string, branch string) error {
	initArgs := []string{"-C", absPath, "init"}
	_, stderr, exitCode, runErr := s.runGit(ctx, remainingTimeout(ctx, defaultWriteTimeout), "", initArgs...)
	if diag != nil {
		diag.recordAttempt(initArgs, stderr, exitCode, 2)
	}
	if runErr != nil {
		return wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao inicializar o repositório.",
			stderr, exitCode, runErr,
		)
	}

	renameArgs := []string{"-C", absPath, "branch", "-m", branch}
	if _, renameStderr, renameExit, renameErr := s.runGit(ctx, remainingTimeout(ctx, defaultWriteTimeout), "", renameArgs...); renameErr != nil {
		return wrapWriteCommandError(
			CodeCommandFailed,
			fmt.Sprintf("Repositório criado, mas falhou ao renomear a branch inicial para '%s'.", branch),
			renameStderr, renameExit, renameErr,
		)
	}

	writeDefaultGitignore(absPath)
	return nil
}

// writeDefaultGitignore cria o .gitignore inicial sem sobrescrever um
// existente. Falha de escrita não aborta o init: o repositório já existe.
func writeDefaultGitignore(absPath string) {
	gitignorePath := filepath.Join(absPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return
	}
	_ = os.WriteFile(gitignorePath, []byte(defaultGitignore), 0o644)
}
