package ai

import "context"

// Summarizer é a superfície do motor de IA usada pelas bindings do app.
type Summarizer interface {
	GenerateCommitMessage(ctx context.Context, projectPath string) (string, error)
	SummarizeChanges(ctx context.Context, projectPath string, staged bool) error
	SetProvider(provider Provider) error
	ListProviders() []Provider
	Cancel(projectPath string) error
}

// Provider representa um provedor/modelo de IA configurável.
type Provider struct {
	ID       string `json:"id"`                 // "gemini", "openai", "ollama"
	Name     string `json:"name"`               // rótulo exibido na UI
	Model    string `json:"model"`              // "gpt-4.1-mini", "llama3", etc.
	APIKey   string `json:"apiKey,omitempty"`   // nunca persistir em plaintext
	Endpoint string `json:"endpoint,omitempty"` // URL base (ex.: Ollama local)
	Enabled  bool   `json:"enabled"`            // pronto para uso imediato
}

// ChangeContext é o recorte do repositório entregue ao prompt: branch atual e
// o patch já compactado pelo core de orquestração Git.
type ChangeContext struct {
	Branch        string   `json:"branch"`
	PatchText     string   `json:"patchText"`
	OmittedFiles  []string `json:"omittedFiles,omitempty"`
	TotalFiles    int      `json:"totalFiles"`
	IncludedFiles int      `json:"includedFiles"`
	WasTruncated  bool     `json:"wasTruncated"`
}

// SummaryChunk é o payload de cada pedaço de resposta emitido para a UI.
type SummaryChunk struct {
	ProjectPath string `json:"projectPath"`
	Chunk       string `json:"chunk"`
	Provider    string `json:"provider,omitempty"`
}
