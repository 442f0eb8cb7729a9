package gitops

import (
	"context"
)

// StageFiles adiciona os arquivos informados ao index. Lista vazia faz stage
// de tudo (add -A). Operação write: serializada na fila do repositório.
func (s *Service) StageFiles(ctx context.Context, projectPath string, files []string) error {
	return s.runFileMutation(ctx, projectPath, "stage_files", files, func(specs []string) []string {
		if len(specs) == 0 {
			return []string{"add", "-A"}
		}
		return append([]string{"add", "--"}, specs...)
	})
}

// UnstageFiles remove os arquivos informados do index sem tocar o working
// tree. Lista vazia desfaz o stage de tudo.
func (s *Service) UnstageFiles(ctx context.Context, projectPath string, files []string) error {
	return s.runFileMutation(ctx, projectPath, "unstage_files", files, func(specs []string) []string {
		if len(specs) == 0 {
			return []string{"reset", "HEAD", "--"}
		}
		return append([]string{"reset", "HEAD", "--"}, specs...)
	})
}

// DiscardFiles descarta alterações do working tree nos arquivos informados.
// Arquivos rastreados voltam ao conteúdo do HEAD; untracked são removidos.
// Exige lista explícita: descarte é destrutivo e nunca roda em lote implícito.
func (s *Service) DiscardFiles(ctx context.Context, projectPath string, files []string) error {
	if len(files) == 0 {
		return newValidationError("files")
	}

	commandID, startedAt := s.beginCommand("discard_files")
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, "discard_files", nil, startedAt, err)
		return err
	}

	specs, err := s.resolvePathSpecs(projectPath, files)
	if err != nil {
		s.emitCommandFailure(commandID, preflight.RepoRoot, "discard_files", nil, startedAt, err)
		return err
	}

	checkoutArgs := append([]string{"-C", preflight.RepoRoot, "checkout", "--"}, specs...)
	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, "discard_files", checkoutArgs[2:], startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		_, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", checkoutArgs...)
		if runErr == nil {
			return nil
		}

		// checkout -- não cobre untracked; pathspec inexistente no HEAD é o
		// sinal de que o arquivo é novo e deve ser removido via clean.
		if classifyGitFailure(stderr, runErr) != failurePathspecNotFound {
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao descartar alterações.",
				stderr, exitCode, runErr,
			)
		}

		cleanArgs := append([]string{"-C", preflight.RepoRoot, "clean", "-f", "--"}, specs...)
		_, cleanStderr, cleanExit, cleanErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", cleanArgs...)
		if cleanErr != nil {
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao descartar arquivos não rastreados.",
				cleanStderr, cleanExit, cleanErr,
			)
		}
		return nil
	})
	if queueErr != nil {
		return queueErr
	}

	s.emitPostWriteReconciliation(preflight.RepoRoot, "discard_files", false)
	return nil
}

// runFileMutation é o caminho comum de stage/unstage: preflight, Path Mapper
// em cada arquivo, fila write com recuperação de lock, reconciliação.
func (s *Service) runFileMutation(ctx context.Context, projectPath string, action string, files []string, buildArgs func(specs []string) []string) error {
	commandID, startedAt := s.beginCommand(action)

	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, action, nil, startedAt, err)
		return err
	}

	specs, err := s.resolvePathSpecs(projectPath, files)
	if err != nil {
		s.emitCommandFailure(commandID, preflight.RepoRoot, action, nil, startedAt, err)
		return err
	}

	gitArgs := buildArgs(specs)
	fullArgs := append([]string{"-C", preflight.RepoRoot}, gitArgs...)

	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, action, gitArgs, startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		_, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, "", fullArgs...)
		if runErr != nil {
			if classifyGitFailure(stderr, runErr) == failurePathspecNotFound {
				return NewBindingError(
					CodePathspecNotFound,
					"Arquivo não encontrado no repositório.",
					formatCommandFailureDetails(stderr, exitCode, runErr),
				)
			}
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao atualizar o index do repositório.",
				stderr, exitCode, runErr,
			)
		}
		return nil
	})
	if queueErr != nil {
		return queueErr
	}

	s.emitPostWriteReconciliation(preflight.RepoRoot, action, false)
	return nil
}

// resolvePathSpecs mapeia cada caminho da UI para pathspec, deduplicando.
func (s *Service) resolvePathSpecs(projectPath string, files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}

	repoCtx, err := s.GetRepoContext(projectPath)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(files))
	specs := make([]string, 0, len(files))
	for _, file := range files {
		spec, specErr := s.resolvePathSpec(repoCtx, projectPath, file)
		if specErr != nil {
			return nil, specErr
		}
		if _, dup := seen[foldPath(spec)]; dup {
			continue
		}
		seen[foldPath(spec)] = struct{}{}
		specs = append(specs, spec)
	}
	return specs, nil
}
