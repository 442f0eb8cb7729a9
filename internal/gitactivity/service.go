package gitactivity

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxEvents    = 200
	defaultDedupeWindow = 750 * time.Millisecond
	maxListLimit        = 500

	// echoWindow cobre o intervalo entre um comando do app e o reflexo dele
	// nos arquivos de .git observados pelo watcher.
	echoWindow = 2 * time.Second
)

// echoTargets mapeia cada comando do app para os tipos de evento que o
// watcher vai reportar como consequência dele. Um push mexe em refs remotas,
// um commit mexe no index e no HEAD, e assim por diante; esses reflexos não
// devem aparecer duplicados no feed.
var echoTargets = map[EventType][]EventType{
	EventTypeCommitCreated: {EventTypeCommitCreated, EventTypeIndexUpdated},
	EventTypeCheckout:      {EventTypeBranchChanged, EventTypeIndexUpdated},
	EventTypeBranchCreated: {EventTypeBranchChanged},
	EventTypeStash:         {EventTypeIndexUpdated},
	EventTypePush:          {EventTypeFetch},
	EventTypePull:          {EventTypeCommitCreated, EventTypeFetch, EventTypeIndexUpdated, EventTypeBranchChanged},
	EventTypeFetch:         {EventTypeFetch},
}

// Service mantém o feed de atividades em memória. Eventos de comando (ações
// deliberadas do usuário via app) entram sempre; eventos do watcher passam
// por duas barreiras: supressão de eco de comandos recentes e deduplicação
// por janela. O buffer é circular: eventos antigos caem quando o limite
// estoura.
type Service struct {
	mu           sync.RWMutex
	events       []Event
	lastSeen     map[string]time.Time
	echoUntil    map[string]time.Time
	maxEvents    int
	dedupeWindow time.Duration
	seq          uint64
}

// NewService cria o feed com defaults adequados para a UI.
func NewService(maxEvents int, dedupeWindow time.Duration) *Service {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	if dedupeWindow <= 0 {
		dedupeWindow = defaultDedupeWindow
	}

	return &Service{
		events:       make([]Event, 0, maxEvents),
		lastSeen:     make(map[string]time.Time),
		echoUntil:    make(map[string]time.Time),
		maxEvents:    maxEvents,
		dedupeWindow: dedupeWindow,
	}
}

// Append adiciona um evento ao feed; retorna false quando o evento foi
// descartado como eco de um comando recente ou como duplicata na janela.
func (s *Service) Append(event Event) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := event.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	event.Timestamp = now

	if event.Type == "" {
		event.Type = EventTypeUnknown
	}
	if event.RepoPath != "" {
		event.RepoPath = filepath.Clean(event.RepoPath)
	}
	if event.RepoName == "" && event.RepoPath != "" {
		event.RepoName = filepath.Base(event.RepoPath)
	}

	if event.Source == SourceCommand {
		s.registerEcho(event, now)
	} else {
		if s.isEchoOfCommand(event, now) {
			return Event{}, false
		}
		if !s.passesDedupe(&event, now) {
			return Event{}, false
		}
	}

	s.seq++
	event.ID = fmt.Sprintf("act_%d_%d", now.UnixMilli(), s.seq)
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		overflow := len(s.events) - s.maxEvents
		s.events = append([]Event(nil), s.events[overflow:]...)
	}

	s.pruneWindows(now)

	return cloneEvent(event), true
}

// registerEcho marca os tipos de evento do watcher que este comando vai
// provocar, para que não dupliquem o feed.
func (s *Service) registerEcho(event Event, now time.Time) {
	for _, echoed := range echoTargets[event.Type] {
		s.echoUntil[echoKey(event.RepoPath, echoed)] = now.Add(echoWindow)
	}
}

func (s *Service) isEchoOfCommand(event Event, now time.Time) bool {
	until, ok := s.echoUntil[echoKey(event.RepoPath, event.Type)]
	return ok && now.Before(until)
}

// passesDedupe registra a chave do evento e recusa repetições dentro da
// janela. A chave pode vir pronta do chamador; senão é derivada dos campos
// que identificam a mudança.
func (s *Service) passesDedupe(event *Event, now time.Time) bool {
	key := strings.TrimSpace(event.DedupeKey)
	if key == "" {
		key = strings.Join([]string{
			string(event.Type),
			strings.TrimSpace(event.RepoPath),
			strings.TrimSpace(event.Branch),
			strings.TrimSpace(event.Details.Ref),
			strings.TrimSpace(event.Message),
		}, "|")
	}
	event.DedupeKey = key

	if last, ok := s.lastSeen[key]; ok && now.Sub(last) <= s.dedupeWindow {
		return false
	}
	s.lastSeen[key] = now
	return true
}

// List retorna eventos em ordem cronológica reversa (mais recente primeiro).
func (s *Service) List(opts ListOptions) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	repoFilter := ""
	if opts.RepoPath != "" {
		repoFilter = filepath.Clean(opts.RepoPath)
	}

	result := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if opts.Type != "" && event.Type != opts.Type {
			continue
		}
		if repoFilter != "" && filepath.Clean(event.RepoPath) != repoFilter {
			continue
		}

		result = append(result, cloneEvent(event))
		if len(result) >= limit {
			break
		}
	}

	return result
}

// Get retorna um evento pelo ID.
func (s *Service) Get(eventID string) (*Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID == eventID {
			event := cloneEvent(s.events[i])
			return &event, true
		}
	}
	return nil, false
}

// Clear remove todos os eventos do feed.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
	s.lastSeen = make(map[string]time.Time)
	s.echoUntil = make(map[string]time.Time)
}

// Count retorna a quantidade de eventos armazenados.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// pruneWindows descarta entradas vencidas das janelas de dedupe e de eco;
// sem isso sessões longas acumulam chaves de repositórios já esquecidos.
func (s *Service) pruneWindows(now time.Time) {
	expiration := s.dedupeWindow * 6
	if expiration < 2*time.Second {
		expiration = 2 * time.Second
	}
	for key, ts := range s.lastSeen {
		if now.Sub(ts) > expiration {
			delete(s.lastSeen, key)
		}
	}
	for key, until := range s.echoUntil {
		if now.After(until) {
			delete(s.echoUntil, key)
		}
	}
}

func echoKey(repoPath string, eventType EventType) string {
	return strings.TrimSpace(repoPath) + "\x1f" + string(eventType)
}

func cloneEvent(event Event) Event {
	cloned := event
	if event.Details.Extra != nil {
		cloned.Details.Extra = make(map[string]string, len(event.Details.Extra))
		for k, v := range event.Details.Extra {
			cloned.Details.Extra[k] = v
		}
	}
	return cloned
}
