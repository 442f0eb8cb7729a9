package gitactivity

import "time"

// EventType representa o tipo canônico de atividade Git no feed.
type EventType string

const (
	EventTypeBranchCreated EventType = "branch_created"
	EventTypeBranchChanged EventType = "branch_changed"
	EventTypeCommitCreated EventType = "commit_created"
	EventTypeCheckout      EventType = "checkout"
	EventTypeIndexUpdated  EventType = "index_updated"
	EventTypeMerge         EventType = "merge"
	EventTypeFetch         EventType = "fetch"
	EventTypePush          EventType = "push"
	EventTypePull          EventType = "pull"
	EventTypeStash         EventType = "stash"
	EventTypeUnknown       EventType = "unknown"
)

// Origem do evento no feed.
const (
	SourceWatcher = "watcher"
	SourceCommand = "command"
)

// EventDetails contém metadados extras do evento.
type EventDetails struct {
	Ref        string            `json:"ref,omitempty"`
	CommitHash string            `json:"commitHash,omitempty"`
	CommandID  string            `json:"commandId,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Event é a unidade do feed de atividades Git: mudanças detectadas por fora
// (watcher) e comandos executados pelo próprio app.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	RepoPath  string       `json:"repoPath"`
	RepoName  string       `json:"repoName"`
	Branch    string       `json:"branch,omitempty"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source,omitempty"` // "watcher" ou "command"
	DedupeKey string       `json:"dedupeKey,omitempty"`
	Details   EventDetails `json:"details,omitempty"`
}

// ListOptions controla filtros da listagem.
type ListOptions struct {
	Limit    int
	Type     EventType
	RepoPath string
}
