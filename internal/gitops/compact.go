package gitops

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	compactMaxFiles        = 16
	compactMaxTotalLines   = 900
	compactMaxLinesPerFile = 120

	omitReasonNoisy      = "noisy/generated"
	omitReasonFileLimit  = "file limit reached"
	omitReasonLineBudget = "global line budget reached"
)

// noisyDiffPatterns lista arquivos que só inflam o patch sem agregar sinal
// para sumarização: lockfiles, minificados, sourcemaps e diretórios gerados.
var noisyDiffPatterns = []string{
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"composer.lock",
	"Cargo.lock",
	"go.sum",
	"*.min.js",
	"*.min.css",
	"*.map",
	"*.lock",
	"dist/*",
	"build/*",
	"node_modules/*",
	"vendor/*",
}

type diffFileBlock struct {
	path  string
	lines []string
}

// CompactPatchForAI reduz um patch bruto a um orçamento fixo de arquivos e
// linhas, priorizando arquivos pequenos para caber o máximo de mudanças
// completas. Cada arquivo omitido sai listado com o motivo, para que o
// consumidor saiba que o resumo é parcial.
func CompactPatchForAI(rawDiff string) CompactPatchResult {
	blocks := splitDiffBlocks(rawDiff)
	result := CompactPatchResult{
		TotalFiles:   len(blocks),
		OmittedFiles: []string{},
	}
	if len(blocks) == 0 {
		return result
	}

	kept := make([]diffFileBlock, 0, len(blocks))
	for _, block := range blocks {
		if isNoisyDiffPath(block.path) {
			// Filtrar ruído não é truncamento: o sinal útil segue completo.
			result.OmittedFiles = append(result.OmittedFiles, formatOmission(block.path, omitReasonNoisy))
			continue
		}
		kept = append(kept, block)
	}

	// Menores primeiro: vale mais incluir dez mudanças completas do que uma
	// gigante truncada.
	sortBlocksBySize(kept)

	var builder strings.Builder
	remainingLines := compactMaxTotalLines

	for _, block := range kept {
		if result.IncludedFiles >= compactMaxFiles {
			result.OmittedFiles = append(result.OmittedFiles, formatOmission(block.path, omitReasonFileLimit))
			result.WasTruncated = true
			continue
		}

		// A linha em branco entre blocos também sai do orçamento global.
		separator := 0
		if result.IncludedFiles > 0 {
			separator = 1
		}
		if remainingLines-separator <= 1 {
			result.OmittedFiles = append(result.OmittedFiles, formatOmission(block.path, omitReasonLineBudget))
			result.WasTruncated = true
			continue
		}

		budget := compactMaxLinesPerFile
		if available := remainingLines - separator; budget > available {
			budget = available
		}

		included := block.lines
		if len(included) > budget {
			// O marcador de corte conta contra o orçamento.
			omitted := len(block.lines) - (budget - 1)
			included = append([]string{}, block.lines[:budget-1]...)
			included = append(included, fmt.Sprintf("... (%d more lines omitted for %s)", omitted, block.path))
			result.WasTruncated = true
		}

		if separator > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(strings.Join(included, "\n"))
		builder.WriteString("\n")

		remainingLines -= len(included) + separator
		result.IncludedFiles++
	}

	result.Text = strings.TrimRight(builder.String(), "\n")
	if result.Text != "" {
		result.Text += "\n"
	}
	return result
}

// GetCompactPatch gera o diff atual do repositório já compactado.
func (s *Service) GetCompactPatch(projectPath string, staged bool) (CompactPatchResult, error) {
	rawDiff, err := s.GetDiff(projectPath, staged, "")
	if err != nil {
		return CompactPatchResult{}, err
	}
	return CompactPatchForAI(rawDiff), nil
}

// splitDiffBlocks separa o patch unificado em blocos por arquivo, usando as
// linhas "diff --git" como fronteira.
func splitDiffBlocks(rawDiff string) []diffFileBlock {
	trimmed := strings.TrimSpace(rawDiff)
	if trimmed == "" {
		return nil
	}

	lines := strings.Split(strings.ReplaceAll(rawDiff, "\r\n", "\n"), "\n")
	blocks := make([]diffFileBlock, 0, 8)
	var current *diffFileBlock

	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			if current != nil {
				blocks = append(blocks, *current)
			}
			current = &diffFileBlock{
				path:  parseDiffHeaderPath(line),
				lines: []string{line},
			}
			continue
		}
		if current == nil {
			continue
		}
		current.lines = append(current.lines, line)
	}
	if current != nil {
		blocks = append(blocks, *current)
	}

	for i := range blocks {
		for len(blocks[i].lines) > 0 && strings.TrimSpace(blocks[i].lines[len(blocks[i].lines)-1]) == "" {
			blocks[i].lines = blocks[i].lines[:len(blocks[i].lines)-1]
		}
	}
	return blocks
}

// parseDiffHeaderPath extrai o caminho "b/" de uma linha "diff --git a/x b/x".
func parseDiffHeaderPath(header string) string {
	fields := strings.Fields(header)
	if len(fields) < 4 {
		return strings.TrimSpace(strings.TrimPrefix(header, "diff --git "))
	}

	target := fields[len(fields)-1]
	target = strings.TrimPrefix(target, "b/")
	return strings.Trim(target, `"`)
}

func isNoisyDiffPath(path string) bool {
	normalized := normalizeSlashPath(path)
	if normalized == "" {
		return false
	}
	base := filepath.Base(normalized)

	for _, pattern := range noisyDiffPatterns {
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "/*")
			if strings.HasPrefix(normalized, prefix+"/") || strings.Contains(normalized, "/"+prefix+"/") {
				return true
			}
			continue
		}
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

func formatOmission(path string, reason string) string {
	return fmt.Sprintf("%s (%s)", path, reason)
}

func sortBlocksBySize(blocks []diffFileBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return len(blocks[i].lines) < len(blocks[j].lines)
	})
}
