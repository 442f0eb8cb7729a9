package filewatcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceDelay = 200 * time.Millisecond
	dedupeWindow  = 900 * time.Millisecond
)

// Service implementa Watcher usando fsnotify sobre o diretório .git de cada
// projeto. Eventos relevantes invalidam os caches do core Git e são
// repassados para a UI.
type Service struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	handlers []func(RepoEvent)
	debounce map[string]*time.Timer
	recent   map[string]time.Time
	projects map[string]string // projectPath -> gitDir monitorado
	loopOn   bool
	done     chan struct{}
	closed   bool
	rawLogs  bool

	invalidate CacheInvalidator
	emitEvent  func(eventName string, data interface{})
}

// NewService cria o watcher. O invalidator é opcional; quando presente, todo
// evento emitido derruba o cache do repositório correspondente antes de
// chegar na UI.
func NewService(emitEvent func(eventName string, data interface{}), invalidate CacheInvalidator) (*Service, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Service{
		watcher:    watcher,
		handlers:   make([]func(RepoEvent), 0),
		debounce:   make(map[string]*time.Timer),
		recent:     make(map[string]time.Time),
		projects:   make(map[string]string),
		done:       make(chan struct{}),
		rawLogs:    readEnvBool("DEVDECK_FILEWATCHER_DEBUG"),
		invalidate: invalidate,
		emitEvent:  emitEvent,
	}, nil
}

// Watch inicia o monitoramento do .git de um projeto. Idempotente.
func (s *Service) Watch(projectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("watcher encerrado")
	}

	projectPath = filepath.Clean(projectPath)
	if _, alreadyWatching := s.projects[projectPath]; alreadyWatching {
		return nil
	}

	gitDir, err := resolveGitDir(projectPath)
	if err != nil {
		return fmt.Errorf("%s não é um repositório Git", projectPath)
	}

	for _, p := range collectWatchPaths(gitDir) {
		if err := s.watcher.Add(p); err != nil {
			log.Printf("[filewatcher] could not watch %s: %v", p, err)
		}
	}

	s.projects[projectPath] = gitDir

	if !s.loopOn {
		s.loopOn = true
		go s.eventLoop()
	}
	return nil
}

// Unwatch para o monitoramento de um projeto.
func (s *Service) Unwatch(projectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectPath = filepath.Clean(projectPath)
	gitDir, exists := s.projects[projectPath]
	if !exists {
		return nil
	}

	for _, p := range collectWatchPaths(gitDir) {
		_ = s.watcher.Remove(p)
	}
	delete(s.projects, projectPath)
	return nil
}

// OnChange registra um handler para receber eventos.
func (s *Service) OnChange(handler func(event RepoEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// CurrentBranch lê a branch atual direto de .git/HEAD, sem invocar git.
func (s *Service) CurrentBranch(projectPath string) (string, error) {
	return readCurrentBranch(projectPath)
}

// Close encerra todos os watchers e timers pendentes.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, timer := range s.debounce {
		timer.Stop()
	}
	close(s.done)
	return s.watcher.Close()
}

func (s *Service) eventLoop() {
	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if s.rawLogs {
				log.Printf("[filewatcher][raw] op=%s path=%s", event.Op.String(), event.Name)
			}

			// Git atualiza refs via lock+rename; todas as operações contam.
			if !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) &&
				!event.Has(fsnotify.Remove) &&
				!event.Has(fsnotify.Chmod) {
				continue
			}

			key := normalizeGitEventPath(event.Name)
			s.mu.Lock()
			if timer, exists := s.debounce[key]; exists {
				timer.Stop()
			}
			ev := event
			s.debounce[key] = time.AfterFunc(debounceDelay, func() {
				s.handleDebouncedEvent(ev)
			})
			s.mu.Unlock()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[filewatcher] error: %v", err)
		}
	}
}

func (s *Service) handleDebouncedEvent(event fsnotify.Event) {
	// Subpasta nova em refs (ex.: refs/heads/feature) ganha watch dinâmico
	// para não perder branches com slash no nome.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			s.mu.Lock()
			if !s.closed {
				if err := s.watcher.Add(event.Name); err != nil {
					log.Printf("[filewatcher] could not watch new directory %s: %v", event.Name, err)
				}
			}
			s.mu.Unlock()
		}
	}

	normalizedPath := normalizeGitEventPath(event.Name)
	projectPath := s.findProjectPath(normalizedPath)
	if projectPath == "" {
		return
	}

	repoEvent := classifyEvent(normalizedPath, projectPath)
	if repoEvent == nil {
		return
	}
	if !s.shouldEmit(*repoEvent) {
		return
	}

	if s.invalidate != nil {
		s.invalidate.InvalidateRepoCache(projectPath)
	}

	s.mu.RLock()
	handlers := make([]func(RepoEvent), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler(*repoEvent)
	}

	if s.emitEvent != nil {
		s.emitEvent("watch:"+repoEvent.Type, repoEvent)
	}
}

// shouldEmit deduplica eventos semanticamente iguais dentro da janela: um
// commit toca HEAD, index e refs/heads quase ao mesmo tempo.
func (s *Service) shouldEmit(event RepoEvent) bool {
	key := semanticEventKey(event)
	now := time.Now()
	cutoff := now.Add(-3 * dedupeWindow)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ts := range s.recent {
		if ts.Before(cutoff) {
			delete(s.recent, k)
		}
	}

	if last, exists := s.recent[key]; exists && now.Sub(last) <= dedupeWindow {
		return false
	}
	s.recent[key] = now
	return true
}

func semanticEventKey(event RepoEvent) string {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(event.Type)
	b.WriteString("|")
	b.WriteString(normalizeGitEventPath(event.Path))
	if branch, ok := event.Details["branch"]; ok && branch != "" {
		b.WriteString("|branch=")
		b.WriteString(branch)
	}
	if ref, ok := event.Details["ref"]; ok && ref != "" {
		b.WriteString("|ref=")
		b.WriteString(ref)
	}
	return b.String()
}

func (s *Service) findProjectPath(eventPath string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cleanEventPath := filepath.Clean(eventPath)
	for projectPath, gitDir := range s.projects {
		cleanGitDir := filepath.Clean(gitDir)
		if cleanEventPath == cleanGitDir ||
			strings.HasPrefix(cleanEventPath, cleanGitDir+string(os.PathSeparator)) {
			return projectPath
		}
	}
	return ""
}

func classifyEvent(eventPath, projectPath string) *RepoEvent {
	name := filepath.Base(eventPath)
	now := time.Now()

	base := RepoEvent{
		ProjectPath: projectPath,
		Path:        eventPath,
		Timestamp:   now,
		Details:     map[string]string{},
	}

	switch {
	case name == "HEAD":
		branch, _ := readCurrentBranch(projectPath)
		base.Type = EventBranchChanged
		base.Details["branch"] = branch
		return &base

	case strings.Contains(eventPath, filepath.Join("refs", "heads")):
		base.Type = EventCommit
		base.Details["ref"] = name
		return &base

	case strings.Contains(eventPath, filepath.Join("refs", "remotes")):
		base.Type = EventFetch
		base.Details["ref"] = name
		return &base

	case name == "MERGE_HEAD":
		base.Type = EventMerge
		return &base

	case name == "FETCH_HEAD":
		base.Type = EventFetch
		return &base

	case name == "index":
		base.Type = EventIndex
		return &base
	}

	return nil
}

// readCurrentBranch lê .git/HEAD: "ref: refs/heads/main" vira "main";
// hash direto indica detached HEAD.
func readCurrentBranch(projectPath string) (string, error) {
	gitDir, err := resolveGitDir(projectPath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, "ref: refs/heads/") {
		return strings.TrimPrefix(content, "ref: refs/heads/"), nil
	}
	if len(content) >= 8 {
		return content[:8] + " (detached)", nil
	}
	return content, nil
}

// resolveGitDir trata .git diretório (repo padrão) e .git arquivo com
// "gitdir: <path>" (worktree/submodule).
func resolveGitDir(projectPath string) (string, error) {
	gitPath := filepath.Join(projectPath, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		return filepath.Clean(gitPath), nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("failed to read .git file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(strings.ToLower(content), "gitdir:") {
		return "", fmt.Errorf("invalid .git file format")
	}

	gitDir := strings.TrimSpace(content[len("gitdir:"):])
	if gitDir == "" {
		return "", fmt.Errorf("empty gitdir in .git file")
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(projectPath, gitDir)
	}
	return filepath.Clean(gitDir), nil
}

func collectWatchPaths(gitDir string) []string {
	paths := []string{gitDir}
	candidates := []string{
		filepath.Join(gitDir, "refs", "heads"),
		filepath.Join(gitDir, "refs", "remotes"),
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		paths = append(paths, candidate)
		entries, _ := os.ReadDir(candidate)
		for _, entry := range entries {
			if entry.IsDir() {
				paths = append(paths, filepath.Join(candidate, entry.Name()))
			}
		}
	}

	unique := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		clean := filepath.Clean(path)
		if _, exists := seen[clean]; exists {
			continue
		}
		seen[clean] = struct{}{}
		unique = append(unique, clean)
	}
	return unique
}

// normalizeGitEventPath colapsa "<ref>.lock" no ref final: git escreve via
// lock+rename e o evento interessante é o do ref.
func normalizeGitEventPath(path string) string {
	clean := filepath.Clean(path)
	if strings.HasSuffix(clean, ".lock") {
		return strings.TrimSuffix(clean, ".lock")
	}
	return clean
}

func readEnvBool(key string) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}
