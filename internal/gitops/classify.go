package gitops

import "strings"

// failureKind classifica saídas de erro do git em categorias recuperáveis.
type failureKind int

const (
	failureOther failureKind = iota
	failureLockConflict
	failurePathspecNotFound
	failureBlockedByChanges
)

// classifyGitFailure concentra todo o pattern-matching de stderr em um único
// lugar. Os padrões são heurísticas best-effort: variam entre versões e
// locales do git, então mantemos o matching conservador e isolado para que
// ajustes não toquem o fluxo de controle.
func classifyGitFailure(stderr string, runErr error) failureKind {
	combined := strings.ToLower(strings.TrimSpace(stderr))
	if runErr != nil {
		if combined != "" {
			combined += " | "
		}
		combined += strings.ToLower(runErr.Error())
	}
	if combined == "" {
		return failureOther
	}

	if strings.Contains(combined, "index.lock") {
		return failureLockConflict
	}

	if strings.Contains(combined, "pathspec") && strings.Contains(combined, "did not match") {
		return failurePathspecNotFound
	}

	if strings.Contains(combined, "would be overwritten by checkout") ||
		strings.Contains(combined, "commit your changes or stash them") {
		return failureBlockedByChanges
	}

	return failureOther
}

func isIndexLockConflict(stderr string, runErr error) bool {
	return classifyGitFailure(stderr, runErr) == failureLockConflict
}
