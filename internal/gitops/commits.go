package gitops

import (
	"context"
	"strconv"
	"strings"
)

const (
	commitRecordSeparator = "\x1e"
	commitFieldSeparator  = "\x1f"

	defaultCommitLogLimit = 50
	maxCommitLogLimit     = 500
)

// commitLogFormat usa separadores de controle em vez de newline: mensagens de
// commit podem conter qualquer texto, então %x1e/%x1f são os únicos
// delimitadores seguros. Campos: hash, parents, autor, data ISO, assunto.
const commitLogFormat = "%H%x1f%P%x1f%an%x1f%aI%x1f%s%x1e"

// GetCommitLog retorna o histórico estruturado com estatísticas por commit.
func (s *Service) GetCommitLog(projectPath string, limit int) ([]GitCommit, error) {
	if limit <= 0 {
		limit = defaultCommitLogLimit
	}
	if limit > maxCommitLogLimit {
		limit = maxCommitLogLimit
	}

	preflight, err := s.Preflight(projectPath)
	if err != nil {
		return nil, err
	}

	stdout, stderr, exitCode, runErr := s.runGit(
		context.Background(), defaultReadTimeout, "",
		"-C", preflight.RepoRoot,
		"log",
		"--pretty=format:"+commitLogFormat,
		"--numstat",
		"-n", strconv.Itoa(limit),
	)
	if runErr != nil {
		// Repositório recém-inicializado ainda não tem HEAD; log vazio é um
		// estado válido do dashboard, não um erro.
		if isEmptyHistoryFailure(stderr) {
			return []GitCommit{}, nil
		}
		return nil, wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao carregar o histórico de commits.",
			stderr, exitCode, runErr,
		)
	}

	return parseCommitLog(stdout), nil
}

// parseCommitLog interpreta a saída de log com separadores de controle.
// Registros malformados (menos de 5 campos) são pulados em vez de abortar o
// parse inteiro — um commit exótico não derruba o histórico.
func parseCommitLog(raw string) []GitCommit {
	commits := make([]GitCommit, 0, 32)
	var current *GitCommit

	flush := func() {
		if current != nil {
			commits = append(commits, *current)
			current = nil
		}
	}

	for _, chunk := range strings.Split(raw, commitRecordSeparator) {
		for _, line := range strings.Split(chunk, "\n") {
			if strings.Contains(line, commitFieldSeparator) {
				flush()
				current = parseCommitHeader(line)
				continue
			}

			trimmed := strings.TrimSpace(line)
			if trimmed == "" || current == nil {
				continue
			}
			applyNumstatLine(current, trimmed)
		}
	}
	flush()

	return commits
}

func parseCommitHeader(line string) *GitCommit {
	fields := strings.SplitN(strings.TrimSpace(line), commitFieldSeparator, 5)
	if len(fields) < 5 {
		return nil
	}

	hash := strings.TrimSpace(fields[0])
	if hash == "" {
		return nil
	}

	shortHash := hash
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}

	var parents []string
	if parentField := strings.TrimSpace(fields[1]); parentField != "" {
		parents = strings.Fields(parentField)
	}

	return &GitCommit{
		Hash:      hash,
		ShortHash: shortHash,
		Parents:   parents,
		Author:    strings.TrimSpace(fields[2]),
		Date:      strings.TrimSpace(fields[3]),
		Message:   strings.TrimSpace(fields[4]),
	}
}

// applyNumstatLine acumula uma linha "adds<TAB>dels<TAB>path" no commit.
// Arquivos binários reportam "-" nas contagens: contam como arquivo alterado
// com zero linhas.
func applyNumstatLine(commit *GitCommit, line string) {
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) < 3 {
		return
	}

	additions, additionsOk := parseNumstatCount(parts[0])
	deletions, deletionsOk := parseNumstatCount(parts[1])
	if !additionsOk || !deletionsOk {
		return
	}

	commit.Additions += additions
	commit.Deletions += deletions
	commit.FilesChanged++
}

func parseNumstatCount(token string) (int, bool) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "-" {
		return 0, true
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

func isEmptyHistoryFailure(stderr string) bool {
	normalized := strings.ToLower(stderr)
	return strings.Contains(normalized, "does not have any commits yet") ||
		strings.Contains(normalized, "unknown revision or path not in the working tree") ||
		strings.Contains(normalized, "bad default revision")
}

// CreateCommit registra um commit com o conteúdo atualmente staged. A
// mensagem vai por stdin (commit -F -) para aceitar múltiplas linhas sem
// briga de quoting. Retorna o hash do commit criado.
func (s *Service) CreateCommit(ctx context.Context, projectPath string, message string) (string, error) {
	trimmedMessage := strings.TrimSpace(message)
	if trimmedMessage == "" {
		return "", newValidationError("message")
	}

	commandID, startedAt := s.beginCommand("create_commit")
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		s.emitCommandFailure(commandID, projectPath, "create_commit", nil, startedAt, err)
		return "", err
	}

	var commitHash string
	args := []string{"-C", preflight.RepoRoot, "commit", "-F", "-"}
	queueErr := s.executeWrite(ctx, preflight.RepoRoot, commandID, "create_commit", args[2:], startedAt, defaultWriteTimeout, func(ctx context.Context, diag *commandDiagnosticState) error {
		stdout, stderr, exitCode, runErr := s.runWriteWithLockRecovery(ctx, preflight.RepoRoot, diag, trimmedMessage+"\n", args...)
		if runErr != nil {
			// "nothing to commit" sai no stdout com exit code 1.
			combined := strings.ToLower(stdout + "\n" + stderr)
			if strings.Contains(combined, "nothing to commit") {
				return NewBindingError(
					CodeValidation,
					"Nada staged para commit.",
					"Adicione arquivos ao stage antes de criar o commit.",
				)
			}
			return wrapWriteCommandError(
				CodeCommandFailed,
				"Falha ao criar o commit.",
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

	s.emitPostWriteReconciliation(preflight.RepoRoot, "create_commit", true)
	return commitHash, nil
}
