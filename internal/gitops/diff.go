package gitops

import (
	"context"
	"strings"
)

// GetDiff retorna o patch bruto do repositório. staged escolhe entre o diff
// do index (--cached) e o do working tree; filePath limita a um único arquivo
// via Path Mapper. Saída truncada por bytes para não estourar a ponte da UI.
func (s *Service) GetDiff(projectPath string, staged bool, filePath string) (string, error) {
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		return "", err
	}

	args := []string{"-C", preflight.RepoRoot, "diff"}
	if staged {
		args = append(args, "--cached")
	}

	if strings.TrimSpace(filePath) != "" {
		repoCtx, ctxErr := s.GetRepoContext(projectPath)
		if ctxErr != nil {
			return "", ctxErr
		}
		spec, specErr := s.resolvePathSpec(repoCtx, projectPath, filePath)
		if specErr != nil {
			return "", specErr
		}
		args = append(args, "--", spec)
	}

	stdout, stderr, exitCode, runErr := s.runGit(context.Background(), defaultReadTimeout, "", args...)
	if runErr != nil {
		return "", wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao gerar o diff do repositório.",
			stderr, exitCode, runErr,
		)
	}

	return truncateDiffBytes(stdout, maxDiffBytes), nil
}

// truncateDiffBytes corta o patch no limite de bytes sem partir uma linha ao
// meio, anexando um marcador explícito de truncamento.
func truncateDiffBytes(diff string, limit int) string {
	if limit <= 0 || len(diff) <= limit {
		return diff
	}

	cut := diff[:limit]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "\n... (diff truncado: limite de tamanho atingido)\n"
}
