package gitops

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var stashRefPattern = regexp.MustCompile(`^stash@\{\d+\}$`)

// ListStashes lista as entradas do stash na ordem do git (mais recente
// primeiro).
func (s *Service) ListStashes(projectPath string) ([]StashSummary, error) {
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		return nil, err
	}

	stdout, stderr, exitCode, runErr := s.runGit(
		context.Background(), defaultReadTimeout, "",
		"-C", preflight.RepoRoot,
		"stash", "list", "--format=%gd%x1f%gs",
	)
	if runErr != nil {
		return nil, wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao listar o stash.",
			stderr, exitCode, runErr,
		)
	}

	stashes := make([]StashSummary, 0, 8)
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		fields := strings.SplitN(trimmed, "\x1f", 2)
		entry := StashSummary{Ref: strings.TrimSpace(fields[0])}
		if len(fields) > 1 {
			entry.Message = strings.TrimSpace(fields[1])
		}
		if entry.Ref == "" {
			continue
		}
		stashes = append(stashes, entry)
	}
	return stashes, nil
}

// CreateStash empilha as alterações atuais (incluindo untracked) com a
// mensagem dada. Retorna erro de validação quando não há nada para guardar.
func (s *Service) CreateStash(ctx context.Context, projectPath string, message string) error {
	trimmedMessage := strings.TrimSpace(message)
	if trimmedMessage == "" {
		return newValidationError("message")
	}

	commandID, startedAt := s.beginCommand("create_stash")
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, "create_stash", nil, startedAt, err)
		return err
	}

	args := []string{"stash", "push", "--include-untracked", "-m", trimmedMessage}
	fullArgs := append([]string{"-C", preflight.RepoRoot}, args...)
	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, "create_stash", args, startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		stdout, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", fullArgs...)
		if runErr != nil {
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao criar o stash.",
				stderr, exitCode, runErr,
			)
		}
		// stash push retorna 0 mesmo sem alterações; o aviso vai no stdout.
		if strings.Contains(strings.ToLower(stdout), "no local changes to save") {
			return NewBindingError(
				CodeValidation,
				"Nenhuma alteração local para guardar no stash.",
				"",
			)
		}
		return nil
	})
	if queueErr != nil {
		return queueErr
	}

	s.emitPostWriteReconciliation(preflight.RepoRoot, "create_stash", false)
	return nil
}

// ApplyStash reaplica uma entrada do stash sem removê-la da pilha.
func (s *Service) ApplyStash(ctx context.Context, projectPath string, stashRef string) error {
	ref, err := normalizeStashRef(stashRef)
	if err != nil {
		return err
	}
	return s.runStashMutation(ctx, projectPath, "apply_stash", []string{"stash", "apply", ref},
		fmt.Sprintf("Falha ao aplicar o stash '%s'.", ref))
}

// PopStash reaplica e remove a entrada do topo (ou a informada).
func (s *Service) PopStash(ctx context.Context, projectPath string, stashRef string) error {
	ref, err := normalizeStashRef(stashRef)
	if err != nil {
		return err
	}
	return s.runStashMutation(ctx, projectPath, "pop_stash", []string{"stash", "pop", ref},
		fmt.Sprintf("Falha ao aplicar e remover o stash '%s'.", ref))
}

// DropStash descarta uma entrada do stash.
func (s *Service) DropStash(ctx context.Context, projectPath string, stashRef string) error {
	ref, err := normalizeStashRef(stashRef)
	if err != nil {
		return err
	}
	return s.runStashMutation(ctx, projectPath, "drop_stash", []string{"stash", "drop", ref},
		fmt.Sprintf("Falha ao descartar o stash '%s'.", ref))
}

func (s *Service) runStashMutation(ctx context.Context, projectPath string, action string, gitArgs []string, failureMessage string) error {
	commandID, startedAt := s.beginCommand(action)

	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, action, nil, startedAt, err)
		return err
	}

	fullArgs := append([]string{"-C", preflight.RepoRoot}, gitArgs...)
	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, action, gitArgs, startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		_, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", fullArgs...)
		if runErr != nil {
			if strings.Contains(strings.ToLower(stderr), "is not a valid reference") ||
				strings.Contains(strings.ToLower(stderr), "no stash entries found") {
				return NewBindingError(
					CodeValidation,
					"Entrada de stash não encontrada.",
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

	s.emitPostWriteReconciliation(preflight.RepoRoot, action, false)
	return nil
}

// normalizeStashRef aceita "stash@{N}" ou só o índice numérico; vazio vira o
// topo da pilha.
func normalizeStashRef(stashRef string) (string, error) {
	trimmed := strings.TrimSpace(stashRef)
	if trimmed == "" {
		return "stash@{0}", nil
	}
	if stashRefPattern.MatchString(trimmed) {
		return trimmed, nil
	}

	isNumeric := len(trimmed) > 0
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			isNumeric = false
			break
		}
	}
	if isNumeric {
		return fmt.Sprintf("stash@{%s}", trimmed), nil
	}

	return "", NewBindingError(
		CodeValidation,
		"Referência de stash inválida.",
		fmt.Sprintf("'%s' não tem o formato stash@{N}.", trimmed),
	)
}
