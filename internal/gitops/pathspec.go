package gitops

import (
	"context"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

var driveLetterPattern = regexp.MustCompile(`^[A-Za-z]:`)

// GetRepoContext resolve a raiz real do repositório e o caminho do projeto
// relativo a ela. Função barata e pura do estado em disco; cacheada com TTL
// curto e invalidada pelo filewatcher.
func (s *Service) GetRepoContext(projectPath string) (RepoContext, error) {
	normalized := strings.TrimSpace(projectPath)
	if normalized == "" {
		return RepoContext{}, NewBindingError(
			CodeRepoNotResolved,
			"Repositório não resolvido.",
			"Informe um caminho de projeto válido.",
		)
	}

	absProject, err := filepath.Abs(normalized)
	if err != nil {
		return RepoContext{}, NewBindingError(
			CodeRepoNotFound,
			"Não foi possível resolver o caminho do projeto.",
			err.Error(),
		)
	}
	absProject = filepath.Clean(absProject)

	if cached, ok := s.getCachedRepoContext(absProject); ok {
		return cached, nil
	}

	repoRoot := absProject
	rootOut, _, _, rootErr := s.runGit(context.Background(), defaultReadTimeout, "", "-C", absProject, "rev-parse", "--show-toplevel")
	if rootErr == nil {
		if trimmed := strings.TrimSpace(rootOut); trimmed != "" {
			repoRoot = filepath.Clean(trimmed)
		}
	}

	relative := ""
	if rel, relErr := filepath.Rel(repoRoot, absProject); relErr == nil {
		cleaned := normalizeSlashPath(rel)
		if cleaned != "" && cleaned != "." && !strings.HasPrefix(cleaned, "..") {
			relative = cleaned
		}
	}

	ctx := RepoContext{
		RepoRoot:              repoRoot,
		ProjectRelativeToRepo: relative,
	}
	s.setCachedRepoContext(absProject, ctx)
	return ctx, nil
}

// ToPathSpec converte um caminho arbitrário vindo da UI (absoluto, relativo,
// possivelmente fora da subpasta que a UI enxerga) no pathspec relativo à
// raiz do repositório que o git aceita.
func ToPathSpec(repoCtx RepoContext, projectPath string, filePath string) string {
	raw := normalizeSlashPath(filePath)
	if raw == "" {
		return ""
	}

	isAbs := filepath.IsAbs(strings.TrimSpace(filePath)) || driveLetterPattern.MatchString(raw)

	// 1) Relativo ao diretório de projeto.
	candidate := raw
	if isAbs {
		if rel, err := filepath.Rel(projectPath, strings.TrimSpace(filePath)); err == nil {
			candidate = normalizeSlashPath(rel)
		}
	}
	candidate = stripRepoPrefix(candidate, repoCtx.ProjectRelativeToRepo)
	if isValidPathSpec(candidate) {
		return candidate
	}

	// 2) Relativo direto à raiz do repositório.
	if isAbs {
		if rel, err := filepath.Rel(repoCtx.RepoRoot, strings.TrimSpace(filePath)); err == nil {
			candidate = stripRepoPrefix(normalizeSlashPath(rel), repoCtx.ProjectRelativeToRepo)
			if isValidPathSpec(candidate) {
				return candidate
			}
		}
	}

	// 3) Fallback: strip do prefixo sobre a entrada normalizada crua.
	stripped := stripRepoPrefix(raw, repoCtx.ProjectRelativeToRepo)
	if stripped == "" {
		return raw
	}
	return stripped
}

// normalizeSlashPath aplica as regras de normalização usadas em todo o core:
// backslash vira slash, "./" inicial some, slashes duplicados colapsam.
func normalizeSlashPath(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	normalized := strings.ReplaceAll(trimmed, "\\", "/")
	for strings.Contains(normalized, "//") {
		normalized = strings.ReplaceAll(normalized, "//", "/")
	}
	for strings.HasPrefix(normalized, "./") {
		normalized = normalized[2:]
	}
	return normalized
}

// stripRepoPrefix remove o prefixo projectRelativeToRepo quando presente.
// Idempotente: aplicar duas vezes sobre um caminho já limpo é no-op.
func stripRepoPrefix(pathSpec string, prefix string) string {
	cleanPrefix := normalizeSlashPath(prefix)
	if cleanPrefix == "" || pathSpec == "" {
		return pathSpec
	}

	if foldPath(pathSpec) == foldPath(cleanPrefix) {
		return ""
	}

	withSlash := cleanPrefix + "/"
	if strings.HasPrefix(foldPath(pathSpec), foldPath(withSlash)) {
		return pathSpec[len(withSlash):]
	}
	return pathSpec
}

// foldPath case-folds comparações só em plataformas case-insensitive.
func foldPath(p string) string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(p)
	}
	return p
}

func isValidPathSpec(candidate string) bool {
	if candidate == "" || candidate == "." || candidate == ".." {
		return false
	}
	if strings.HasPrefix(candidate, "../") {
		return false
	}
	if strings.HasPrefix(candidate, "/") {
		return false
	}
	if driveLetterPattern.MatchString(candidate) {
		return false
	}
	return true
}

// resolvePathSpec aplica o Path Mapper e valida que o resultado não escapa
// da raiz do repositório antes de entregar ao git.
func (s *Service) resolvePathSpec(repoCtx RepoContext, projectPath string, filePath string) (string, error) {
	trimmed := strings.TrimSpace(filePath)
	if trimmed == "" {
		return "", NewBindingError(
			CodeInvalidPath,
			"Caminho de arquivo obrigatório.",
			"Informe um caminho válido dentro do repositório.",
		)
	}
	if strings.ContainsRune(trimmed, '\x00') {
		return "", NewBindingError(
			CodeInvalidPath,
			"Caminho de arquivo inválido.",
			"Caracter nulo não é permitido no caminho.",
		)
	}

	spec := ToPathSpec(repoCtx, projectPath, trimmed)
	if !isValidPathSpec(spec) {
		return "", NewBindingError(
			CodeInvalidPath,
			"Caminho fora do escopo do repositório.",
			trimmed,
		)
	}
	return spec, nil
}
