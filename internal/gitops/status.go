package gitops

import (
	"context"
	"strconv"
	"strings"
)

// GetStatus retorna o snapshot do working tree do repositório: branch,
// ahead/behind, staged, unstaged e conflitos. Leitura pura; nunca entra na
// fila write.
func (s *Service) GetStatus(projectPath string) (StatusSnapshot, error) {
	preflight, err := s.Preflight(projectPath)
	if err != nil {
		return StatusSnapshot{}, err
	}

	stdout, stderr, exitCode, runErr := s.runGit(context.Background(), defaultReadTimeout, "", "-C", preflight.RepoRoot, "status", "--porcelain=v1", "-z", "--branch")
	if runErr != nil {
		return StatusSnapshot{}, wrapWriteCommandError(
			CodeCommandFailed,
			"Falha ao consultar o status do repositório.",
			stderr, exitCode, runErr,
		)
	}

	snapshot := parsePorcelainStatus(stdout)
	if snapshot.Branch == "" {
		snapshot.Branch = preflight.Branch
	}
	return snapshot, nil
}

// parsePorcelainStatus interpreta a saída de `status --porcelain=v1 -z
// --branch`. Entradas NUL-separadas; renames/copies carregam o caminho de
// origem num token extra.
func parsePorcelainStatus(raw string) StatusSnapshot {
	snapshot := StatusSnapshot{
		Staged:     []FileChange{},
		Unstaged:   []FileChange{},
		Conflicted: []ConflictFile{},
	}

	tokens := strings.Split(raw, "\x00")
	for i := 0; i < len(tokens); i++ {
		entry := tokens[i]
		if entry == "" {
			continue
		}

		if strings.HasPrefix(entry, "## ") {
			branch, ahead, behind := parseBranchHeader(entry[3:])
			snapshot.Branch = branch
			snapshot.Ahead = ahead
			snapshot.Behind = behind
			continue
		}
		if len(entry) < 3 {
			continue
		}

		stagedCode := entry[0]
		unstagedCode := entry[1]
		path := entry[3:]

		originalPath := ""
		if stagedCode == 'R' || stagedCode == 'C' {
			// Com -z o caminho de origem vem no próximo token.
			if i+1 < len(tokens) && tokens[i+1] != "" {
				originalPath = tokens[i+1]
				i++
			}
		}

		if isConflictCode(stagedCode, unstagedCode) {
			snapshot.Conflicted = append(snapshot.Conflicted, ConflictFile{
				Path:   path,
				Status: string(stagedCode) + string(unstagedCode),
			})
			continue
		}

		if stagedCode != ' ' && stagedCode != '?' {
			snapshot.Staged = append(snapshot.Staged, FileChange{
				Path:         path,
				OriginalPath: originalPath,
				Status:       string(stagedCode),
			})
		}
		if unstagedCode != ' ' {
			status := string(unstagedCode)
			if stagedCode == '?' && unstagedCode == '?' {
				status = "?"
			}
			snapshot.Unstaged = append(snapshot.Unstaged, FileChange{
				Path:   path,
				Status: status,
			})
		}
	}

	return snapshot
}

// parseBranchHeader extrai branch/ahead/behind do cabeçalho
// "main...origin/main [ahead 2, behind 1]".
func parseBranchHeader(header string) (string, int, int) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", 0, 0
	}

	// Formas especiais contêm espaços e precisam ser resolvidas antes do
	// corte no primeiro espaço.
	if strings.HasPrefix(header, "No commits yet on ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "No commits yet on ")), 0, 0
	}
	if strings.HasPrefix(header, "Initial commit on ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Initial commit on ")), 0, 0
	}
	if header == "HEAD (no branch)" {
		return "HEAD", 0, 0
	}

	branch := header
	tracking := ""
	if idx := strings.Index(header, "..."); idx >= 0 {
		branch = header[:idx]
		tracking = header[idx+3:]
	} else if idx := strings.Index(header, " "); idx >= 0 {
		branch = header[:idx]
	}

	ahead, behind := 0, 0
	if start := strings.Index(tracking, "["); start >= 0 {
		end := strings.Index(tracking[start:], "]")
		if end > 0 {
			for _, part := range strings.Split(tracking[start+1:start+end], ",") {
				fields := strings.Fields(strings.TrimSpace(part))
				if len(fields) != 2 {
					continue
				}
				value, err := strconv.Atoi(fields[1])
				if err != nil {
					continue
				}
				switch fields[0] {
				case "ahead":
					ahead = value
				case "behind":
					behind = value
				}
			}
		}
	}

	return strings.TrimSpace(branch), ahead, behind
}

func isConflictCode(stagedCode byte, unstagedCode byte) bool {
	if stagedCode == 'U' || unstagedCode == 'U' {
		return true
	}
	if stagedCode == 'A' && unstagedCode == 'A' {
		return true
	}
	if stagedCode == 'D' && unstagedCode == 'D' {
		return true
	}
	return false
}
