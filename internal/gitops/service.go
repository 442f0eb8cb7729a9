package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventEmitter repassa eventos do core para a camada de UI (Wails runtime).
type EventEmitter func(eventName string, data interface{})

const (
	defaultReadTimeout  = 8 * time.Second
	defaultWriteTimeout = 12 * time.Second
	syncTimeout         = 60 * time.Second

	maxDiffBytes = 256000

	preflightCacheTTL   = 2 * time.Second
	repoContextCacheTTL = 5 * time.Second
)

type preflightCacheEntry struct {
	value     PreflightResult
	expiresAt time.Time
}

type repoContextCacheEntry struct {
	value     RepoContext
	expiresAt time.Time
}

// Service encapsula a orquestração de comandos Git do dashboard: fila write
// serializada por repositório, recuperação de index.lock, mapeamento de
// paths e parsing de saída.
type Service struct {
	emit       EventEmitter
	runtime    *Runtime
	runGit     gitRunner
	sleep      backoffSleeper
	commandSeq uint64

	queueMu        sync.Mutex
	queues         map[string]*repoQueue
	workerWG       sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	closed         atomic.Bool

	cacheMu          sync.RWMutex
	preflightCache   map[string]preflightCacheEntry
	repoContextCache map[string]repoContextCacheEntry
}

// NewService cria o serviço com o Runtime resolvido no startup.
func NewService(emit EventEmitter, rt *Runtime) *Service {
	if rt == nil {
		rt = ResolveRuntime(nil)
	}
	svc := newServiceWithDeps(emit, rt.runGit, sleepWithContext)
	svc.runtime = rt
	return svc
}

func newServiceWithDeps(emit EventEmitter, runner gitRunner, sleeper backoffSleeper) *Service {
	if emit == nil {
		emit = func(string, interface{}) {}
	}
	if runner == nil {
		rt := ResolveRuntime(nil)
		runner = rt.runGit
	}
	if sleeper == nil {
		sleeper = sleepWithContext
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &Service{
		emit:             emit,
		runGit:           runner,
		sleep:            sleeper,
		queues:           make(map[string]*repoQueue),
		shutdownCtx:      shutdownCtx,
		shutdownCancel:   shutdownCancel,
		preflightCache:   make(map[string]preflightCacheEntry),
		repoContextCache: make(map[string]repoContextCacheEntry),
	}
}

// Preflight valida o caminho de projeto e resolve raiz/branch do repositório.
func (s *Service) Preflight(projectPath string) (PreflightResult, error) {
	result := PreflightResult{GitAvailable: true}

	normalizedPath := strings.TrimSpace(projectPath)
	if normalizedPath == "" {
		return PreflightResult{}, NewBindingError(
			CodeRepoNotResolved,
			"Repositório não resolvido.",
			"Selecione um repositório Git antes de executar ações.",
		)
	}

	absPath, err := filepath.Abs(normalizedPath)
	if err != nil {
		return PreflightResult{}, NewBindingError(
			CodeRepoNotFound,
			"Não foi possível resolver o caminho do repositório.",
			err.Error(),
		)
	}
	absPath = filepath.Clean(absPath)

	if cached, ok := s.getCachedPreflight(absPath); ok {
		return cached, nil
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return PreflightResult{}, NewBindingError(
			CodeRepoNotFound,
			"Caminho do repositório não encontrado.",
			err.Error(),
		)
	}
	if !stat.IsDir() {
		return PreflightResult{}, NewBindingError(
			CodeRepoNotFound,
			"Caminho informado não é um diretório.",
			absPath,
		)
	}

	rootOut, rootErrOut, rootExitCode, rootErr := s.runGit(context.Background(), defaultReadTimeout, "", "-C", absPath, "rev-parse", "--show-toplevel")
	if rootErr != nil {
		return PreflightResult{}, NewBindingError(
			CodeRepoNotGit,
			"Caminho informado não é um repositório Git válido.",
			formatCommandFailureDetails(rootErrOut, rootExitCode, rootErr),
		)
	}
	repoRoot := strings.TrimSpace(rootOut)
	if repoRoot == "" {
		return PreflightResult{}, NewBindingError(
			CodeRepoNotGit,
			"Não foi possível determinar a raiz do repositório Git.",
			absPath,
		)
	}

	branchOut, _, _, branchErr := s.runGit(context.Background(), defaultReadTimeout, "", "-C", repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	branch := strings.TrimSpace(branchOut)
	if branchErr != nil {
		branch = ""
	}

	result.RepoPath = absPath
	result.RepoRoot = repoRoot
	result.Branch = branch

	if gitDir, gitDirErr := resolveGitDir(repoRoot); gitDirErr == nil {
		if _, mergeErr := os.Stat(filepath.Join(gitDir, "MERGE_HEAD")); mergeErr == nil {
			result.MergeActive = true
		}
	}

	s.setCachedPreflight(absPath, result)
	if cleanedRoot := filepath.Clean(strings.TrimSpace(repoRoot)); cleanedRoot != "" && cleanedRoot != absPath {
		s.setCachedPreflight(cleanedRoot, result)
	}

	return result, nil
}

func (s *Service) beginCommand(action string) (string, time.Time) {
	startedAt := time.Now()
	seq := atomic.AddUint64(&s.commandSeq, 1)
	commandID := fmt.Sprintf("gop_%d_%s", seq, uuid.NewString()[:8])
	return commandID, startedAt
}

func wrapWriteCommandError(code string, message string, stderr string, exitCode int, runErr error) error {
	if bindingErr := AsBindingError(runErr); bindingErr != nil {
		return bindingErr
	}
	return NewBindingError(
		code,
		message,
		formatCommandFailureDetails(stderr, exitCode, runErr),
	)
}

func formatCommandFailureDetails(stderr string, exitCode int, err error) string {
	parts := make([]string, 0, 3)

	trimmedStderr := strings.TrimSpace(stderr)
	if trimmedStderr != "" {
		parts = append(parts, trimmedStderr)
	}
	if exitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit_code=%d", exitCode))
	}
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		parts = append(parts, err.Error())
	}

	return strings.Join(parts, " | ")
}

func (s *Service) emitCommandFailure(commandID string, repoPath string, action string, args []string, startedAt time.Time, err error) {
	s.emitCommandDiagnostic(
		newCommandDiagnosticState(commandID, repoPath, action, args, startedAt),
		commandStatusFailed,
		err,
	)
}

func (s *Service) emitStatusChanged(repoPath string, reason string, sourceEvent string) {
	s.emit("gitops:status_changed", buildEventPayload(repoPath, reason, sourceEvent))
}

func (s *Service) emitRefsChanged(repoPath string, reason string, sourceEvent string) {
	s.emit("gitops:refs_changed", buildEventPayload(repoPath, reason, sourceEvent))
}

func (s *Service) emitPostWriteReconciliation(repoPath string, action string, includeRefs bool) {
	s.InvalidateRepoCache(repoPath)
	s.emitStatusChanged(repoPath, "post_write_reconcile", action)
	if includeRefs {
		s.emitRefsChanged(repoPath, "post_write_reconcile", action)
	}
}

func buildEventPayload(repoPath string, reason string, sourceEvent string) map[string]string {
	payload := map[string]string{
		"repoPath": strings.TrimSpace(repoPath),
	}
	if trimmedReason := strings.TrimSpace(reason); trimmedReason != "" {
		payload["reason"] = trimmedReason
	}
	if trimmedSourceEvent := strings.TrimSpace(sourceEvent); trimmedSourceEvent != "" {
		payload["sourceEvent"] = trimmedSourceEvent
	}
	return payload
}

// InvalidateRepoCache descarta preflight/contexto cacheados de um projeto.
// Chamado pelo filewatcher quando o .git muda por fora do app.
func (s *Service) InvalidateRepoCache(repoPath string) {
	normalized := filepath.Clean(strings.TrimSpace(repoPath))

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if normalized == "" || normalized == "." {
		s.preflightCache = make(map[string]preflightCacheEntry)
		s.repoContextCache = make(map[string]repoContextCacheEntry)
		return
	}

	delete(s.preflightCache, normalized)
	delete(s.repoContextCache, normalized)
}

func (s *Service) getCachedPreflight(repoPath string) (PreflightResult, bool) {
	s.cacheMu.RLock()
	entry, ok := s.preflightCache[filepath.Clean(strings.TrimSpace(repoPath))]
	s.cacheMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return PreflightResult{}, false
	}
	return entry.value, true
}

func (s *Service) setCachedPreflight(repoPath string, value PreflightResult) {
	key := filepath.Clean(strings.TrimSpace(repoPath))
	if key == "" || key == "." {
		return
	}

	s.cacheMu.Lock()
	s.preflightCache[key] = preflightCacheEntry{
		value:     value,
		expiresAt: time.Now().Add(preflightCacheTTL),
	}
	s.cacheMu.Unlock()
}

func (s *Service) getCachedRepoContext(projectPath string) (RepoContext, bool) {
	s.cacheMu.RLock()
	entry, ok := s.repoContextCache[filepath.Clean(strings.TrimSpace(projectPath))]
	s.cacheMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return RepoContext{}, false
	}
	return entry.value, true
}

func (s *Service) setCachedRepoContext(projectPath string, value RepoContext) {
	key := filepath.Clean(strings.TrimSpace(projectPath))
	if key == "" || key == "." {
		return
	}

	s.cacheMu.Lock()
	s.repoContextCache[key] = repoContextCacheEntry{
		value:     value,
		expiresAt: time.Now().Add(repoContextCacheTTL),
	}
	s.cacheMu.Unlock()
}
