package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"devdeck/internal/gitops"
)

const commitMessageTimeout = 45 * time.Second

// PatchSource é o recorte do core Git que o motor de IA consome: patch
// compactado e estado do repositório. Satisfeito por *gitops.Service.
type PatchSource interface {
	GetCompactPatch(projectPath string, staged bool) (gitops.CompactPatchResult, error)
	Preflight(projectPath string) (gitops.PreflightResult, error)
}

// EventEmitter repassa os chunks de resposta para a UI.
type EventEmitter func(eventName string, data interface{})

type providerRegistration struct {
	meta   Provider
	client providerClient
}

// Service implementa Summarizer sobre os providers configurados.
type Service struct {
	mu sync.RWMutex

	providers      map[string]providerRegistration
	activeProvider string
	cancels        map[string]context.CancelFunc

	patches   PatchSource
	emit      EventEmitter
	keys      KeyStore
	sanitizer *SecretSanitizer
}

// NewService cria o motor de IA resolvendo chaves no keychain/env.
func NewService(emit EventEmitter, patches PatchSource) *Service {
	if emit == nil {
		emit = func(string, interface{}) {}
	}

	svc := &Service{
		providers: make(map[string]providerRegistration),
		cancels:   make(map[string]context.CancelFunc),
		patches:   patches,
		emit:      emit,
		sanitizer: NewSecretSanitizer(),
	}

	svc.bootstrapProviders()
	return svc
}

func (s *Service) bootstrapProviders() {
	// Ollama local funciona sem chave.
	ollama := Provider{
		ID:       "ollama",
		Name:     "Ollama (Local)",
		Model:    "llama3",
		Endpoint: "http://localhost:11434",
		Enabled:  true,
	}
	s.providers[ollama.ID] = providerRegistration{
		meta:   ollama,
		client: newOllamaProvider(ollama.Endpoint, ollama.Model),
	}

	geminiKey := s.keys.Get("gemini")
	gemini := Provider{
		ID:      "gemini",
		Name:    "Gemini",
		Model:   "gemini-2.5-flash",
		Enabled: geminiKey != "",
	}
	var geminiClient providerClient
	if geminiKey != "" {
		if client, err := newGeminiProvider(geminiKey, gemini.Model); err == nil {
			geminiClient = client
		}
	}
	s.providers[gemini.ID] = providerRegistration{
		meta:   gemini,
		client: geminiClient,
	}

	openAIKey := s.keys.Get("openai")
	openAI := Provider{
		ID:      "openai",
		Name:    "OpenAI",
		Model:   "gpt-4.1-mini",
		Enabled: openAIKey != "",
	}
	var openAIClient providerClient
	if openAIKey != "" {
		if client, err := newOpenAIProvider(openAIKey, openAI.Model); err == nil {
			openAIClient = client
		}
	}
	s.providers[openAI.ID] = providerRegistration{
		meta:   openAI,
		client: openAIClient,
	}

	// Provider padrão: OpenAI > Gemini > Ollama.
	switch {
	case openAIClient != nil:
		s.activeProvider = "openai"
	case geminiClient != nil:
		s.activeProvider = "gemini"
	default:
		s.activeProvider = "ollama"
	}
}

// GenerateCommitMessage produz uma mensagem de commit a partir do patch
// staged compactado. Bloqueia até a resposta completa ou timeout.
func (s *Service) GenerateCommitMessage(ctx context.Context, projectPath string) (string, error) {
	changes, err := s.collectChangeContext(projectPath, true)
	if err != nil {
		return "", err
	}
	if changes.IncludedFiles == 0 && strings.TrimSpace(changes.PatchText) == "" {
		return "", fmt.Errorf("nada staged para resumir: adicione arquivos ao stage antes")
	}

	_, client, err := s.getActiveProvider()
	if err != nil {
		return "", err
	}

	prompt := s.sanitizer.Clean(buildCommitMessagePrompt(changes))

	genCtx, cancel := context.WithTimeout(ctx, commitMessageTimeout)
	defer cancel()

	message, err := collectStream(genCtx, client, prompt)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(message), "`\""), nil
}

// SummarizeChanges gera um resumo em streaming das alterações do working
// tree (ou do stage) e publica cada chunk em "ai:summary_chunk". Uma geração
// nova para o mesmo projeto cancela a anterior.
func (s *Service) SummarizeChanges(ctx context.Context, projectPath string, staged bool) error {
	changes, err := s.collectChangeContext(projectPath, staged)
	if err != nil {
		return err
	}
	if changes.TotalFiles == 0 {
		return fmt.Errorf("nenhuma alteração para resumir")
	}

	provider, client, err := s.getActiveProvider()
	if err != nil {
		return err
	}

	prompt := s.sanitizer.Clean(buildSummaryPrompt(changes))

	_ = s.Cancel(projectPath)
	genCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[projectPath] = cancel
	s.mu.Unlock()

	stream := make(chan string, 128)
	go func() {
		defer close(stream)
		if streamErr := client.Stream(genCtx, prompt, stream); streamErr != nil {
			stream <- fmt.Sprintf("\n[%s erro] %s\n", provider.Name, streamErr.Error())
		}
	}()

	go func() {
		defer s.clearCancel(projectPath)
		for chunk := range stream {
			s.emit("ai:summary_chunk", SummaryChunk{
				ProjectPath: projectPath,
				Chunk:       chunk,
				Provider:    provider.ID,
			})
		}
		s.emit("ai:summary_done", map[string]string{"projectPath": projectPath})
	}()

	return nil
}

func (s *Service) collectChangeContext(projectPath string, staged bool) (ChangeContext, error) {
	if s.patches == nil {
		return ChangeContext{}, fmt.Errorf("fonte de patches não configurada")
	}

	preflight, err := s.patches.Preflight(projectPath)
	if err != nil {
		return ChangeContext{}, err
	}

	patch, err := s.patches.GetCompactPatch(projectPath, staged)
	if err != nil {
		return ChangeContext{}, err
	}

	return ChangeContext{
		Branch:        preflight.Branch,
		PatchText:     patch.Text,
		OmittedFiles:  patch.OmittedFiles,
		TotalFiles:    patch.TotalFiles,
		IncludedFiles: patch.IncludedFiles,
		WasTruncated:  patch.WasTruncated,
	}, nil
}

// SetProvider configura/ativa o provedor escolhido. Chave recebida vai para o
// keychain e nunca fica no snapshot exposto à UI.
func (s *Service) SetProvider(provider Provider) error {
	id := strings.ToLower(strings.TrimSpace(provider.ID))
	if id == "" {
		return fmt.Errorf("provider id inválido")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.providers[id]
	if !ok {
		return fmt.Errorf("provider %q não suportado", id)
	}

	if provider.Model == "" {
		provider.Model = current.meta.Model
	}
	if provider.Name == "" {
		provider.Name = current.meta.Name
	}
	if provider.Endpoint == "" {
		provider.Endpoint = current.meta.Endpoint
	}

	apiKey := strings.TrimSpace(provider.APIKey)
	if apiKey != "" {
		if err := s.keys.Set(id, apiKey); err != nil {
			return fmt.Errorf("falha ao guardar chave no keychain: %w", err)
		}
	} else {
		apiKey = s.keys.Get(id)
	}
	provider.APIKey = ""

	var client providerClient
	switch id {
	case "openai":
		c, err := newOpenAIProvider(apiKey, provider.Model)
		if err != nil {
			return err
		}
		client = c
	case "gemini":
		c, err := newGeminiProvider(apiKey, provider.Model)
		if err != nil {
			return err
		}
		client = c
	case "ollama":
		client = newOllamaProvider(provider.Endpoint, provider.Model)
	default:
		return fmt.Errorf("provider %q não suportado", id)
	}

	provider.Enabled = true
	s.providers[id] = providerRegistration{
		meta:   provider,
		client: client,
	}
	s.activeProvider = id
	return nil
}

// ListProviders lista os provedores em ordem estável, sem chaves.
func (s *Service) ListProviders() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := make([]Provider, 0, len(ids))
	for _, id := range ids {
		meta := s.providers[id].meta
		meta.APIKey = ""
		list = append(list, meta)
	}
	return list
}

// Cancel interrompe a geração em andamento do projeto, se houver.
func (s *Service) Cancel(projectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.cancels[projectPath]
	if !ok {
		return nil
	}
	cancel()
	delete(s.cancels, projectPath)
	return nil
}

func (s *Service) getActiveProvider() (Provider, providerClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.providers[s.activeProvider]
	if !ok || reg.client == nil {
		return Provider{}, nil, fmt.Errorf("nenhum provider de IA ativo configurado")
	}
	return reg.meta, reg.client, nil
}

func (s *Service) clearCancel(projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, projectPath)
}
