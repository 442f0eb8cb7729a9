package filewatcher

import "time"

// Tipos de evento detectados dentro do .git.
const (
	EventBranchChanged = "branch_changed"
	EventCommit        = "commit"
	EventMerge         = "merge"
	EventFetch         = "fetch"
	EventIndex         = "index"
)

// RepoEvent é um evento externo detectado no .git de um repositório
// monitorado (commit feito no terminal, checkout por outra ferramenta, etc.).
type RepoEvent struct {
	Type        string            `json:"type"`
	ProjectPath string            `json:"projectPath"`
	Path        string            `json:"path"`
	Timestamp   time.Time         `json:"timestamp"`
	Details     map[string]string `json:"details,omitempty"`
}

// CacheInvalidator é o recorte do core Git que o watcher aciona quando o
// repositório muda por fora do app. Satisfeito por *gitops.Service.
type CacheInvalidator interface {
	InvalidateRepoCache(projectPath string)
}

// Watcher define a superfície do monitoramento de repositórios.
type Watcher interface {
	Watch(projectPath string) error
	Unwatch(projectPath string) error
	OnChange(handler func(event RepoEvent))
	CurrentBranch(projectPath string) (string, error)
	Close() error
}
