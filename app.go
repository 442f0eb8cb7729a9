package main

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"devdeck/internal/ai"
	"devdeck/internal/config"
	"devdeck/internal/database"
	fw "devdeck/internal/filewatcher"
	ga "devdeck/internal/gitactivity"
	"devdeck/internal/gitops"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// HydrationPayload é o estado inicial enviado ao frontend no DomReady.
type HydrationPayload struct {
	Theme        string                `json:"theme"`
	Language     string                `json:"language"`
	FontSize     int                   `json:"fontSize"`
	LayoutState  string                `json:"layoutState,omitempty"`
	Version      string                `json:"version"`
	GitAvailable bool                  `json:"gitAvailable"`
	Repositories []database.Repository `json:"repositories"`
	AIProviders  []ai.Provider         `json:"aiProviders"`
}

// App é a raiz de composição: todos os serviços são criados no Startup e
// injetados uns nos outros; nenhum estado global.
type App struct {
	ctx context.Context

	db          *database.Service
	gitOps      *gitops.Service
	ai          *ai.Service
	fileWatcher *fw.Service
	gitActivity *ga.Service
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// Startup inicializa banco, core Git, IA e watcher, nessa ordem.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	log.Println("[DevDeck] Starting up...")

	if err := config.EnsureDataDirs(); err != nil {
		log.Printf("[DevDeck] Error creating data dirs: %v", err)
	}

	dbService, err := database.NewService()
	if err != nil {
		log.Printf("[DevDeck] Error initializing database: %v", err)
	} else {
		a.db = dbService
	}

	// Core Git: runtime resolvido uma vez no startup, injetado no serviço.
	gitRuntime := gitops.ResolveRuntime(nil)
	a.gitOps = gitops.NewService(a.emitEvent, gitRuntime)
	log.Println("[DevDeck] Git orchestration initialized")

	a.ai = ai.NewService(a.emitEvent, a.gitOps)
	log.Println("[DevDeck] AI service initialized")

	a.gitActivity = ga.NewService(200, 900*time.Millisecond)

	fwService, err := fw.NewService(a.emitEvent, a.gitOps)
	if err != nil {
		log.Printf("[DevDeck] Error initializing file watcher: %v", err)
	} else {
		a.fileWatcher = fwService
		a.fileWatcher.OnChange(a.recordWatcherEvent)

		// Auto-watch do repositório ativo, se houver.
		if a.db != nil {
			if repo, err := a.db.GetActiveRepository(); err == nil && repo.Path != "" {
				if watchErr := a.fileWatcher.Watch(repo.Path); watchErr != nil {
					log.Printf("[DevDeck] Could not auto-watch repository: %v", watchErr)
				}
			}
		}
	}

	log.Println("[DevDeck] Startup complete")
}

// DomReady is called when the frontend DOM is ready
func (a *App) DomReady(ctx context.Context) {
	a.emitEvent("app:hydration", a.getHydrationPayload())
}

// Shutdown drena a fila de comandos Git e fecha watcher e banco.
func (a *App) Shutdown(ctx context.Context) {
	log.Println("[DevDeck] Shutting down...")

	if a.fileWatcher != nil {
		if err := a.fileWatcher.Close(); err != nil {
			log.Printf("[DevDeck] Error closing file watcher: %v", err)
		}
	}

	if a.gitOps != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.gitOps.Close(drainCtx); err != nil {
			log.Printf("[DevDeck] Error closing git service: %v", err)
		}
		cancel()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("[DevDeck] Error closing database: %v", err)
		}
	}
}

// emitEvent é a ponte única para o runtime Wails; segura antes do Startup
// completar e em testes sem contexto.
func (a *App) emitEvent(eventName string, data interface{}) {
	if a.ctx == nil || strings.TrimSpace(eventName) == "" {
		return
	}
	runtime.EventsEmit(a.ctx, eventName, data)
}

// recordWatcherEvent alimenta o feed e o journal com mudanças externas.
func (a *App) recordWatcherEvent(event fw.RepoEvent) {
	if a.gitActivity == nil {
		return
	}

	stored, ok := a.gitActivity.Append(ga.FromWatcherEvent(event))
	if !ok {
		return
	}

	a.emitEvent("activity:event", stored)

	if a.db != nil {
		record := &database.GitEventRecord{
			EventID:   stored.ID,
			RepoPath:  stored.RepoPath,
			Type:      string(stored.Type),
			Branch:    stored.Branch,
			Message:   stored.Message,
			Source:    stored.Source,
			CommandID: stored.Details.CommandID,
			CreatedAt: stored.Timestamp,
		}
		if err := a.db.SaveGitEvent(record); err != nil {
			log.Printf("[DevDeck] Error persisting git event: %v", err)
		}
	}
}

func (a *App) getHydrationPayload() HydrationPayload {
	payload := HydrationPayload{
		Theme:    "dark",
		Language: "pt-BR",
		FontSize: 14,
		Version:  config.AppVersion,
	}

	if a.db != nil {
		if cfg, err := a.db.GetConfig(); err == nil {
			payload.Theme = cfg.Theme
			payload.Language = cfg.Language
			payload.FontSize = cfg.FontSize
			payload.LayoutState = cfg.LayoutState
		}
		if repos, err := a.db.ListRepositories(); err == nil {
			payload.Repositories = repos
		}
	}

	if a.gitOps != nil {
		if repos := payload.Repositories; len(repos) > 0 {
			if preflight, err := a.gitOps.Preflight(repos[0].Path); err == nil {
				payload.GitAvailable = preflight.GitAvailable
			}
		} else {
			payload.GitAvailable = true
		}
	}

	if a.ai != nil {
		payload.AIProviders = a.ai.ListProviders()
	}

	return payload
}

// bindingContext é o contexto de requisição dos bindings: o Wails v2 não
// entrega contexto por chamada, então os comandos ficam amarrados ao ciclo de
// vida da aplicação e são cancelados em bloco no shutdown.
func (a *App) bindingContext() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

func (a *App) gitService() (*gitops.Service, error) {
	if a.gitOps == nil {
		return nil, gitops.NewBindingError(gitops.CodeServiceUnavailable, "Serviço Git não inicializado", "")
	}
	return a.gitOps, nil
}

// ===== Bindings: leitura Git =====

// GitPreflight valida o projeto e resolve raiz/branch do repositório.
func (a *App) GitPreflight(projectPath string) (gitops.PreflightResult, error) {
	svc, err := a.gitService()
	if err != nil {
		return gitops.PreflightResult{}, err
	}
	return svc.Preflight(projectPath)
}

// GitStatus retorna o snapshot de status do repositório.
func (a *App) GitStatus(projectPath string) (gitops.StatusSnapshot, error) {
	svc, err := a.gitService()
	if err != nil {
		return gitops.StatusSnapshot{}, err
	}
	return svc.GetStatus(projectPath)
}

// GitDiff retorna o diff textual (staged ou working tree), opcionalmente de
// um único arquivo.
func (a *App) GitDiff(projectPath string, staged bool, filePath string) (string, error) {
	svc, err := a.gitService()
	if err != nil {
		return "", err
	}
	return svc.GetDiff(projectPath, staged, filePath)
}

// GitCompactPatch retorna o diff compactado dentro dos orçamentos de IA.
func (a *App) GitCompactPatch(projectPath string, staged bool) (gitops.CompactPatchResult, error) {
	svc, err := a.gitService()
	if err != nil {
		return gitops.CompactPatchResult{}, err
	}
	return svc.GetCompactPatch(projectPath, staged)
}

// GitCommitLog retorna o histórico estruturado com numstat agregado.
func (a *App) GitCommitLog(projectPath string, limit int) ([]gitops.GitCommit, error) {
	svc, err := a.gitService()
	if err != nil {
		return nil, err
	}
	return svc.GetCommitLog(projectPath, limit)
}

// GitListBranches lista branches locais e remote-only.
func (a *App) GitListBranches(projectPath string) ([]gitops.BranchSummary, error) {
	svc, err := a.gitService()
	if err != nil {
		return nil, err
	}
	return svc.ListBranches(projectPath)
}

// GitListRemotes lista remotes configurados.
func (a *App) GitListRemotes(projectPath string) ([]gitops.RemoteSummary, error) {
	svc, err := a.gitService()
	if err != nil {
		return nil, err
	}
	return svc.ListRemotes(projectPath)
}

// GitListTags lista tags do repositório.
func (a *App) GitListTags(projectPath string) ([]gitops.TagSummary, error) {
	svc, err := a.gitService()
	if err != nil {
		return nil, err
	}
	return svc.ListTags(projectPath)
}

// GitListStashes lista entradas do stash.
func (a *App) GitListStashes(projectPath string) ([]gitops.StashSummary, error) {
	svc, err := a.gitService()
	if err != nil {
		return nil, err
	}
	return svc.ListStashes(projectPath)
}

// GitQueueDepth expõe a profundidade total da fila de escrita (diagnóstico).
func (a *App) GitQueueDepth() int {
	if a.gitOps == nil {
		return 0
	}
	return a.gitOps.QueueDepth()
}

// ===== Bindings: escrita Git (serializada por repositório) =====

// GitStageFiles adiciona arquivos ao stage.
func (a *App) GitStageFiles(projectPath string, files []string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.StageFiles(a.bindingContext(), projectPath, files)
}

// GitUnstageFiles remove arquivos do stage.
func (a *App) GitUnstageFiles(projectPath string, files []string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.UnstageFiles(a.bindingContext(), projectPath, files)
}

// GitDiscardFiles descarta alterações locais dos arquivos.
func (a *App) GitDiscardFiles(projectPath string, files []string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.DiscardFiles(a.bindingContext(), projectPath, files)
}

// GitCreateCommit cria um commit com a mensagem dada e retorna o hash.
func (a *App) GitCreateCommit(projectPath string, message string) (string, error) {
	svc, err := a.gitService()
	if err != nil {
		return "", err
	}
	hash, err := svc.CreateCommit(a.bindingContext(), projectPath, message)
	if err != nil {
		return "", err
	}
	a.recordCommandEvent(ga.EventTypeCommitCreated, projectPath, "", "Commit criado: "+firstLine(message))
	return hash, nil
}

// GitCheckoutBranch troca de branch com os fallbacks automáticos (tracking
// de origin, limpeza de lock obsoleto, auto-stash).
func (a *App) GitCheckoutBranch(projectPath string, branch string, opts gitops.CheckoutOptions) (gitops.CheckoutResult, error) {
	svc, err := a.gitService()
	if err != nil {
		return gitops.CheckoutResult{}, err
	}
	result, err := svc.CheckoutBranch(a.bindingContext(), projectPath, branch, opts)
	if err != nil {
		return result, err
	}
	a.recordCommandEvent(ga.EventTypeCheckout, projectPath, branch, "Checkout para "+branch)
	return result, nil
}

// GitCreateBranch cria uma branch local a partir do HEAD.
func (a *App) GitCreateBranch(projectPath string, name string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	if err := svc.CreateBranch(a.bindingContext(), projectPath, name); err != nil {
		return err
	}
	a.recordCommandEvent(ga.EventTypeBranchCreated, projectPath, name, "Branch criada: "+name)
	return nil
}

// GitDeleteBranch remove uma branch local.
func (a *App) GitDeleteBranch(projectPath string, name string, force bool) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.DeleteBranch(a.bindingContext(), projectPath, name, force)
}

// GitAddRemote adiciona um remote.
func (a *App) GitAddRemote(projectPath string, name string, remoteURL string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.AddRemote(a.bindingContext(), projectPath, name, remoteURL)
}

// GitSetRemoteURL troca a URL de um remote existente.
func (a *App) GitSetRemoteURL(projectPath string, name string, remoteURL string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.SetRemoteURL(a.bindingContext(), projectPath, name, remoteURL)
}

// GitRemoveRemote remove um remote.
func (a *App) GitRemoveRemote(projectPath string, name string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.RemoveRemote(a.bindingContext(), projectPath, name)
}

// GitCreateTag cria uma tag leve no HEAD.
func (a *App) GitCreateTag(projectPath string, name string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.CreateTag(a.bindingContext(), projectPath, name)
}

// GitDeleteTag remove uma tag local.
func (a *App) GitDeleteTag(projectPath string, name string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.DeleteTag(a.bindingContext(), projectPath, name)
}

// GitCreateStash guarda as alterações locais em um stash.
func (a *App) GitCreateStash(projectPath string, message string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	if err := svc.CreateStash(a.bindingContext(), projectPath, message); err != nil {
		return err
	}
	a.recordCommandEvent(ga.EventTypeStash, projectPath, "", "Stash criado")
	return nil
}

// GitApplyStash aplica um stash mantendo a entrada.
func (a *App) GitApplyStash(projectPath string, stashRef string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.ApplyStash(a.bindingContext(), projectPath, stashRef)
}

// GitPopStash aplica e remove um stash.
func (a *App) GitPopStash(projectPath string, stashRef string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.PopStash(a.bindingContext(), projectPath, stashRef)
}

// GitDropStash descarta um stash.
func (a *App) GitDropStash(projectPath string, stashRef string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.DropStash(a.bindingContext(), projectPath, stashRef)
}

// GitPush envia a branch atual, criando upstream quando não existe.
func (a *App) GitPush(projectPath string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	if err := svc.Push(a.bindingContext(), projectPath); err != nil {
		return err
	}
	a.recordCommandEvent(ga.EventTypePush, projectPath, "", "Push concluído")
	return nil
}

// GitPull atualiza a branch atual a partir do upstream.
func (a *App) GitPull(projectPath string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	if err := svc.Pull(a.bindingContext(), projectPath); err != nil {
		return err
	}
	a.recordCommandEvent(ga.EventTypePull, projectPath, "", "Pull concluído")
	return nil
}

// GitFetch busca e poda refs de todos os remotes.
func (a *App) GitFetch(projectPath string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	if err := svc.Fetch(a.bindingContext(), projectPath); err != nil {
		return err
	}
	a.recordCommandEvent(ga.EventTypeFetch, projectPath, "", "Fetch concluído")
	return nil
}

// GitInitRepository inicializa um repositório novo com .gitignore padrão.
func (a *App) GitInitRepository(projectPath string, initialBranch string) error {
	svc, err := a.gitService()
	if err != nil {
		return err
	}
	return svc.InitRepository(a.bindingContext(), projectPath, initialBranch)
}

// GitInitialCommit faz o primeiro commit de um repositório recém criado,
// adicionando todo o conteúdo ao stage.
func (a *App) GitInitialCommit(projectPath string, message string) (string, error) {
	svc, err := a.gitService()
	if err != nil {
		return "", err
	}
	hash, err := svc.CreateInitialCommit(a.bindingContext(), projectPath, message)
	if err != nil {
		return "", err
	}
	a.recordCommandEvent(ga.EventTypeCommitCreated, projectPath, "", "Commit inicial criado")
	return hash, nil
}

func (a *App) recordCommandEvent(eventType ga.EventType, repoPath, branch, message string) {
	if a.gitActivity == nil {
		return
	}
	stored, ok := a.gitActivity.Append(ga.NewCommandEvent(eventType, repoPath, branch, message, ""))
	if !ok {
		return
	}
	a.emitEvent("activity:event", stored)

	if a.db != nil {
		_ = a.db.SaveGitEvent(&database.GitEventRecord{
			EventID:   stored.ID,
			RepoPath:  stored.RepoPath,
			Type:      string(stored.Type),
			Branch:    stored.Branch,
			Message:   stored.Message,
			Source:    stored.Source,
			CreatedAt: stored.Timestamp,
		})
	}
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

// ===== Bindings: IA =====

// AIGenerateCommitMessage gera mensagem de commit a partir do patch staged.
func (a *App) AIGenerateCommitMessage(projectPath string) (string, error) {
	if a.ai == nil {
		return "", gitops.NewBindingError(gitops.CodeServiceUnavailable, "Serviço de IA não inicializado", "")
	}
	return a.ai.GenerateCommitMessage(a.ctx, projectPath)
}

// AISummarizeChanges inicia o resumo em streaming das alterações.
func (a *App) AISummarizeChanges(projectPath string, staged bool) error {
	if a.ai == nil {
		return gitops.NewBindingError(gitops.CodeServiceUnavailable, "Serviço de IA não inicializado", "")
	}
	return a.ai.SummarizeChanges(a.ctx, projectPath, staged)
}

// AISetProvider configura e ativa um provedor de IA.
func (a *App) AISetProvider(provider ai.Provider) error {
	if a.ai == nil {
		return gitops.NewBindingError(gitops.CodeServiceUnavailable, "Serviço de IA não inicializado", "")
	}
	return a.ai.SetProvider(provider)
}

// AIListProviders lista os provedores disponíveis (sem chaves).
func (a *App) AIListProviders() []ai.Provider {
	if a.ai == nil {
		return nil
	}
	return a.ai.ListProviders()
}

// AICancelGeneration cancela a geração em andamento do projeto.
func (a *App) AICancelGeneration(projectPath string) error {
	if a.ai == nil {
		return nil
	}
	return a.ai.Cancel(projectPath)
}

// ===== Bindings: repositórios acompanhados =====

// ListRepositories lista os repositórios registrados no dashboard.
func (a *App) ListRepositories() ([]database.Repository, error) {
	if a.db == nil {
		return nil, errors.New("banco de dados indisponível")
	}
	return a.db.ListRepositories()
}

// AddRepository registra um repositório e inicia o watch.
func (a *App) AddRepository(path string, name string) (*database.Repository, error) {
	if a.db == nil {
		return nil, errors.New("banco de dados indisponível")
	}

	// O caminho precisa ser um repositório Git válido antes de persistir.
	if a.gitOps != nil {
		if _, err := a.gitOps.Preflight(path); err != nil {
			return nil, err
		}
	}

	repo := &database.Repository{Path: path, Name: name}
	if err := a.db.AddRepository(repo); err != nil {
		return nil, err
	}

	if a.fileWatcher != nil {
		if err := a.fileWatcher.Watch(repo.Path); err != nil {
			log.Printf("[DevDeck] Could not watch %s: %v", repo.Path, err)
		}
	}
	return repo, nil
}

// RemoveRepository remove um repositório acompanhado e para o watch.
func (a *App) RemoveRepository(id uint) error {
	if a.db == nil {
		return errors.New("banco de dados indisponível")
	}

	repo, err := a.db.GetRepository(id)
	if err != nil {
		return err
	}

	if a.fileWatcher != nil {
		_ = a.fileWatcher.Unwatch(repo.Path)
	}
	return a.db.RemoveRepository(id)
}

// SetActiveRepository troca o repositório ativo do dashboard.
func (a *App) SetActiveRepository(id uint) error {
	if a.db == nil {
		return errors.New("banco de dados indisponível")
	}

	if err := a.db.SetActiveRepository(id); err != nil {
		return err
	}

	if repo, err := a.db.GetRepository(id); err == nil && a.fileWatcher != nil {
		if err := a.fileWatcher.Watch(repo.Path); err != nil {
			log.Printf("[DevDeck] Could not watch %s: %v", repo.Path, err)
		}
	}
	return nil
}

// RenameRepository atualiza o rótulo de um repositório.
func (a *App) RenameRepository(id uint, name string) error {
	if a.db == nil {
		return errors.New("banco de dados indisponível")
	}
	return a.db.RenameRepository(id, name)
}

// SetRepositoryColor atualiza a cor de um repositório.
func (a *App) SetRepositoryColor(id uint, color string) error {
	if a.db == nil {
		return errors.New("banco de dados indisponível")
	}
	return a.db.SetRepositoryColor(id, color)
}

// ===== Bindings: feed de atividades =====

// ListActivity lista o feed em memória (mais recente primeiro).
func (a *App) ListActivity(repoPath string, eventType string, limit int) []ga.Event {
	if a.gitActivity == nil {
		return nil
	}
	return a.gitActivity.List(ga.ListOptions{
		Limit:    limit,
		Type:     ga.EventType(eventType),
		RepoPath: repoPath,
	})
}

// ListActivityJournal lista o histórico persistido de um repositório.
func (a *App) ListActivityJournal(repoPath string, limit int) ([]database.GitEventRecord, error) {
	if a.db == nil {
		return nil, errors.New("banco de dados indisponível")
	}
	return a.db.ListGitEvents(repoPath, limit)
}

// ClearActivity limpa o feed em memória e o journal do repositório.
func (a *App) ClearActivity(repoPath string) error {
	if a.gitActivity != nil {
		a.gitActivity.Clear()
	}
	if a.db != nil {
		return a.db.ClearGitEvents(repoPath)
	}
	return nil
}

// ===== Bindings: configuração =====

// GetUserConfig retorna a configuração do usuário.
func (a *App) GetUserConfig() (*database.UserConfig, error) {
	if a.db == nil {
		return nil, errors.New("banco de dados indisponível")
	}
	return a.db.GetConfig()
}

// UpdateUserConfig persiste a configuração do usuário.
func (a *App) UpdateUserConfig(cfg database.UserConfig) error {
	if a.db == nil {
		return errors.New("banco de dados indisponível")
	}

	current, err := a.db.GetConfig()
	if err != nil {
		return err
	}

	cfg.ID = current.ID
	cfg.UserID = current.UserID
	return a.db.UpdateConfig(&cfg)
}

// WatchRepository inicia manualmente o watch de um caminho.
func (a *App) WatchRepository(projectPath string) error {
	if a.fileWatcher == nil {
		return errors.New("watcher indisponível")
	}
	return a.fileWatcher.Watch(projectPath)
}

// UnwatchRepository para o watch de um caminho.
func (a *App) UnwatchRepository(projectPath string) error {
	if a.fileWatcher == nil {
		return nil
	}
	return a.fileWatcher.Unwatch(projectPath)
}
