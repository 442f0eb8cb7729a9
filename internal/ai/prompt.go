package ai

import (
	"fmt"
	"strings"
)

const (
	promptTokenBudget = 4000
	patchTokenBudget  = 3000
)

// buildCommitMessagePrompt monta o prompt de mensagem de commit a partir do
// patch staged já compactado. A lista de omissões entra no prompt para que o
// modelo saiba que o recorte é parcial.
func buildCommitMessagePrompt(changes ChangeContext) string {
	var builder strings.Builder

	builder.WriteString(strings.TrimSpace(`
[ROLE]
Você gera mensagens de commit no formato Conventional Commits (feat/fix/chore/refactor/docs/test).
Responda APENAS com a mensagem: primeira linha até 72 caracteres, corpo opcional após linha em branco.
Sem cercas de código, sem comentários adicionais.
`))
	builder.WriteString("\n\n")

	fmt.Fprintf(&builder, "[BRANCH]\n%s\n\n", fallback(changes.Branch, "desconhecida"))

	if changes.WasTruncated || len(changes.OmittedFiles) > 0 {
		fmt.Fprintf(&builder, "[AVISO]\nO patch abaixo é parcial: %d de %d arquivos incluídos.\n", changes.IncludedFiles, changes.TotalFiles)
		if len(changes.OmittedFiles) > 0 {
			builder.WriteString("Arquivos omitidos:\n")
			for _, omitted := range changes.OmittedFiles {
				fmt.Fprintf(&builder, "- %s\n", omitted)
			}
		}
		builder.WriteString("\n")
	}

	builder.WriteString("[STAGED PATCH]\n")
	builder.WriteString(truncateByTokens(changes.PatchText, patchTokenBudget))
	builder.WriteString("\n")

	return truncateByTokens(strings.TrimSpace(builder.String()), promptTokenBudget)
}

// buildSummaryPrompt monta o prompt de resumo de alterações para leitura
// humana no painel.
func buildSummaryPrompt(changes ChangeContext) string {
	var builder strings.Builder

	builder.WriteString(strings.TrimSpace(`
[ROLE]
Você é um revisor de código resumindo alterações de um repositório Git para um dashboard de desenvolvimento.
Responda em português, em até 5 bullets curtos: o que mudou e por quê aparenta ter mudado.
Evite markdown complexo; use apenas "- " como marcador.
`))
	builder.WriteString("\n\n")

	fmt.Fprintf(&builder, "[BRANCH]\n%s\n\n", fallback(changes.Branch, "desconhecida"))
	fmt.Fprintf(&builder, "[ARQUIVOS]\n%d alterados, %d incluídos no recorte abaixo\n\n", changes.TotalFiles, changes.IncludedFiles)

	builder.WriteString("[PATCH]\n")
	builder.WriteString(truncateByTokens(changes.PatchText, patchTokenBudget))
	builder.WriteString("\n")

	return truncateByTokens(strings.TrimSpace(builder.String()), promptTokenBudget)
}

func fallback(value, alt string) string {
	if strings.TrimSpace(value) == "" {
		return alt
	}
	return value
}

// truncateByTokens corta o texto no orçamento aproximado de tokens
// (1 token ~ 4 chars), preservando um marcador de truncamento.
func truncateByTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if estimateTokens(text) <= maxTokens {
		return text
	}

	maxChars := maxTokens * 4
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	const suffix = "\n...[TRUNCATED]"
	suffixRunes := []rune(suffix)
	if len(suffixRunes) >= maxChars {
		return string(runes[:maxChars])
	}
	return string(runes[:maxChars-len(suffixRunes)]) + suffix
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len([]rune(text)) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}
