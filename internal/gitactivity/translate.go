package gitactivity

import (
	"fmt"
	"strings"

	"devdeck/internal/filewatcher"
)

// FromWatcherEvent converte um evento do monitor de .git no formato do feed.
// Eventos de fora do app (commit no terminal, fetch por outra ferramenta)
// entram com Source "watcher".
func FromWatcherEvent(event filewatcher.RepoEvent) Event {
	out := Event{
		RepoPath:  event.ProjectPath,
		Timestamp: event.Timestamp,
		Source:    SourceWatcher,
	}

	switch event.Type {
	case filewatcher.EventBranchChanged:
		out.Type = EventTypeBranchChanged
		out.Branch = event.Details["branch"]
		out.Message = fmt.Sprintf("Branch alterada para %s", fallbackLabel(out.Branch))
	case filewatcher.EventCommit:
		out.Type = EventTypeCommitCreated
		out.Details.Ref = event.Details["ref"]
		out.Message = fmt.Sprintf("Novo commit em %s", fallbackLabel(out.Details.Ref))
	case filewatcher.EventFetch:
		out.Type = EventTypeFetch
		out.Details.Ref = event.Details["ref"]
		out.Message = "Referências remotas atualizadas"
	case filewatcher.EventMerge:
		out.Type = EventTypeMerge
		out.Message = "Merge em andamento"
	case filewatcher.EventIndex:
		out.Type = EventTypeIndexUpdated
		out.Message = "Stage atualizado"
	default:
		out.Type = EventTypeUnknown
		out.Message = "Atividade no repositório"
	}

	return out
}

// NewCommandEvent cria um evento do feed para um comando de escrita executado
// pelo próprio app, amarrado ao commandID da fila.
func NewCommandEvent(eventType EventType, repoPath, branch, message, commandID string) Event {
	return Event{
		Type:     eventType,
		RepoPath: repoPath,
		Branch:   branch,
		Message:  message,
		Source:   SourceCommand,
		Details: EventDetails{
			CommandID: commandID,
		},
	}
}

func fallbackLabel(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(desconhecida)"
	}
	return value
}
