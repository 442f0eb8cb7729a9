package gitops

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ListBranches lista branches locais e remote-only, branch atual primeiro e o
// restante em ordem alfabética. origin/HEAD (o ponteiro simbólico do remote)
// nunca aparece. Sempre recomputado: o repositório muda por fora do app.
func (s *Service) ListBranches(projectPath string) ([]BranchSummary, error) {
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		return nil, err
	}

	// %1f injeta o mesmo separador de campos usado no parser de log.
	stdout, stderr, exitCode, runErr := s.runGit(
		context.Background(), defaultReadTimeout, "",
		"-C", preflight.RepoRoot,
		"for-each-ref",
		"--format=%(refname:short)%1f%(HEAD)%1f%(upstream:short)",
		"refs/heads", "refs/remotes",
	)
	if runErr != nil {
		return nil, wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao listar branches.",
			stderr, exitCode, runErr,
		)
	}

	return parseBranchList(stdout), nil
}

func parseBranchList(raw string) []BranchSummary {
	locals := make(map[string]struct{})
	branches := make([]BranchSummary, 0, 16)

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		fields := strings.Split(trimmed, "\x1f")
		name := strings.TrimSpace(fields[0])
		if name == "" {
			continue
		}

		isCurrent := len(fields) > 1 && strings.TrimSpace(fields[1]) == "*"
		upstream := ""
		if len(fields) > 2 {
			upstream = strings.TrimSpace(fields[2])
		}

		if strings.Contains(name, "/") {
			// Referência remota. O ponteiro simbólico HEAD do remote não é
			// uma branch navegável.
			if strings.HasSuffix(name, "/HEAD") {
				continue
			}
			branches = append(branches, BranchSummary{
				Name:     name,
				IsRemote: true,
			})
			continue
		}

		locals[name] = struct{}{}
		branches = append(branches, BranchSummary{
			Name:      name,
			IsCurrent: isCurrent,
			Upstream:  upstream,
		})
	}

	// Remotas que já têm branch local correspondente são redundantes na lista.
	filtered := branches[:0]
	for _, branch := range branches {
		if branch.IsRemote {
			shortName := branch.Name
			if idx := strings.Index(shortName, "/"); idx >= 0 {
				shortName = shortName[idx+1:]
			}
			if _, tracked := locals[shortName]; tracked {
				continue
			}
		}
		filtered = append(filtered, branch)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].IsCurrent != filtered[j].IsCurrent {
			return filtered[i].IsCurrent
		}
		if filtered[i].IsRemote != filtered[j].IsRemote {
			return !filtered[i].IsRemote
		}
		return filtered[i].Name < filtered[j].Name
	})
	return filtered
}

// CreateBranch cria uma branch local a partir do HEAD atual sem trocar para
// ela.
func (s *Service) CreateBranch(ctx context.Context, projectPath string, name string) error {
	branchName := strings.TrimSpace(name)
	if err := validateRefName(branchName); err != nil {
		return err
	}
	return s.runRefMutation(ctx, projectPath, "create_branch", []string{"branch", branchName},
		fmt.Sprintf("Falha ao criar a branch '%s'.", branchName))
}

// DeleteBranch remove uma branch local. force usa -D (descarta commits não
// mesclados); sem force o git recusa e o erro é repassado.
func (s *Service) DeleteBranch(ctx context.Context, projectPath string, name string, force bool) error {
	branchName := strings.TrimSpace(name)
	if err := validateRefName(branchName); err != nil {
		return err
	}

	flag := "-d"
	if force {
		flag = "-D"
	}
	return s.runRefMutation(ctx, projectPath, "delete_branch", []string{"branch", flag, branchName},
		fmt.Sprintf("Falha ao excluir a branch '%s'.", branchName))
}

// ListRemotes lista os remotes configurados com URLs de fetch e push.
func (s *Service) ListRemotes(projectPath string) ([]RemoteSummary, error) {
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		return nil, err
	}

	stdout, stderr, exitCode, runErr := s.runGit(context.Background(), defaultReadTimeout, "", "-C", preflight.RepoRoot, "remote", "-v")
	if runErr != nil {
		return nil, wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao listar remotes.",
			stderr, exitCode, runErr,
		)
	}

	return parseRemoteList(stdout), nil
}

// parseRemoteList interpreta "name<TAB>url (fetch|push)" de remote -v.
func parseRemoteList(raw string) []RemoteSummary {
	byName := make(map[string]*RemoteSummary)
	order := make([]string, 0, 4)

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		parts := strings.Fields(trimmed)
		if len(parts) < 2 {
			continue
		}
		name, remoteURL := parts[0], parts[1]

		summary, ok := byName[name]
		if !ok {
			summary = &RemoteSummary{Name: name}
			byName[name] = summary
			order = append(order, name)
		}

		kind := ""
		if len(parts) >= 3 {
			kind = strings.Trim(parts[2], "()")
		}
		switch kind {
		case "push":
			summary.PushURL = remoteURL
		default:
			summary.FetchURL = remoteURL
		}
	}

	remotes := make([]RemoteSummary, 0, len(order))
	for _, name := range order {
		remotes = append(remotes, *byName[name])
	}
	return remotes
}

// AddRemote registra um remote novo.
func (s *Service) AddRemote(ctx context.Context, projectPath string, name string, remoteURL string) error {
	remoteName := strings.TrimSpace(name)
	if err := validateRemoteName(remoteName); err != nil {
		return err
	}
	cleanURL, err := validateRemoteURL(remoteURL)
	if err != nil {
		return err
	}
	return s.runRefMutation(ctx, projectPath, "add_remote", []string{"remote", "add", remoteName, cleanURL},
		fmt.Sprintf("Falha ao adicionar o remote '%s'.", remoteName))
}

// SetRemoteURL troca a URL de fetch de um remote existente.
func (s *Service) SetRemoteURL(ctx context.Context, projectPath string, name string, remoteURL string) error {
	remoteName := strings.TrimSpace(name)
	if err := validateRemoteName(remoteName); err != nil {
		return err
	}
	cleanURL, err := validateRemoteURL(remoteURL)
	if err != nil {
		return err
	}
	return s.runRefMutation(ctx, projectPath, "set_remote_url", []string{"remote", "set-url", remoteName, cleanURL},
		fmt.Sprintf("Falha ao atualizar a URL do remote '%s'.", remoteName))
}

// RemoveRemote descadastra um remote.
func (s *Service) RemoveRemote(ctx context.Context, projectPath string, name string) error {
	remoteName := strings.TrimSpace(name)
	if err := validateRemoteName(remoteName); err != nil {
		return err
	}
	return s.runRefMutation(ctx, projectPath, "remove_remote", []string{"remote", "remove", remoteName},
		fmt.Sprintf("Falha ao remover o remote '%s'.", remoteName))
}

// ListTags lista as tags em ordem de versão decrescente.
func (s *Service) ListTags(projectPath string) ([]TagSummary, error) {
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		return nil, err
	}

	stdout, stderr, exitCode, runErr := s.runGit(context.Background(), defaultReadTimeout, "", "-C", preflight.RepoRoot, "tag", "--sort=-v:refname")
	if runErr != nil {
		return nil, wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao listar tags.",
			stderr, exitCode, runErr,
		)
	}

	tags := make([]TagSummary, 0, 16)
	for _, line := range strings.Split(stdout, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		tags = append(tags, TagSummary{Name: name})
	}
	return tags, nil
}

// CreateTag cria uma tag leve apontando para o HEAD atual.
func (s *Service) CreateTag(ctx context.Context, projectPath string, name string) error {
	tagName := strings.TrimSpace(name)
	if err := validateRefName(tagName); err != nil {
		return err
	}
	return s.runRefMutation(ctx, projectPath, "create_tag", []string{"tag", tagName},
		fmt.Sprintf("Falha ao criar a tag '%s'.", tagName))
}

// DeleteTag remove uma tag local.
func (s *Service) DeleteTag(ctx context.Context, projectPath string, name string) error {
	tagName := strings.TrimSpace(name)
	if err := validateRefName(tagName); err != nil {
		return err
	}
	return s.runRefMutation(ctx, projectPath, "delete_tag", []string{"tag", "-d", tagName},
		fmt.Sprintf("Falha ao excluir a tag '%s'.", tagName))
}

// runRefMutation é o caminho comum das mutações de referência/remote:
// preflight, fila write com recuperação de lock e reconciliação de refs.
func (s *Service) runRefMutation(ctx context.Context, projectPath string, action string, gitArgs []string, failureMessage string) error {
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

func validateRemoteName(name string) error {
	if name == "" {
		return newValidationError("remote")
	}
	if strings.HasPrefix(name, "-") || strings.ContainsAny(name, " \t\n\r/:") {
		return NewBindingError(
			CodeValidation,
			"Nome de remote inválido.",
			fmt.Sprintf("'%s' não é um nome de remote válido.", name),
		)
	}
	return nil
}

// validateRemoteURL aceita http(s), ssh e a forma scp-like user@host:path.
func validateRemoteURL(remoteURL string) (string, error) {
	trimmed := strings.TrimSpace(remoteURL)
	if trimmed == "" {
		return "", newValidationError("url")
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", NewBindingError(
			CodeValidation,
			"URL de remote inválida.",
			"URLs não podem começar com '-'.",
		)
	}

	if parsed, err := url.Parse(trimmed); err == nil && parsed.Scheme != "" {
		switch parsed.Scheme {
		case "http", "https", "ssh", "git", "file":
			return trimmed, nil
		}
	}
	if strings.Contains(trimmed, "@") && strings.Contains(trimmed, ":") {
		return trimmed, nil
	}

	return "", NewBindingError(
		CodeValidation,
		"URL de remote inválida.",
		fmt.Sprintf("'%s' não é uma URL de remote reconhecida.", trimmed),
	)
}
