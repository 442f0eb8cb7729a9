package gitactivity

import (
	"testing"
	"time"
)

func TestAppendDeduplicatesWithinWindow(t *testing.T) {
	service := NewService(20, 500*time.Millisecond)
	baseTime := time.Now()

	_, ok := service.Append(Event{
		Type:      EventTypeBranchChanged,
		RepoPath:  "/tmp/repo",
		Branch:    "main",
		Message:   "branch changed",
		Timestamp: baseTime,
		DedupeKey: "branch|/tmp/repo|main",
	})
	if !ok {
		t.Fatalf("expected first event to be accepted")
	}

	_, ok = service.Append(Event{
		Type:      EventTypeBranchChanged,
		RepoPath:  "/tmp/repo",
		Branch:    "main",
		Message:   "branch changed duplicate",
		Timestamp: baseTime.Add(120 * time.Millisecond),
		DedupeKey: "branch|/tmp/repo|main",
	})
	if ok {
		t.Fatalf("expected duplicate event inside dedupe window to be ignored")
	}

	if got := service.Count(); got != 1 {
		t.Fatalf("expected count=1, got %d", got)
	}
}

func TestCommandEventsBypassDedupe(t *testing.T) {
	service := NewService(20, 500*time.Millisecond)
	baseTime := time.Now()

	first := NewCommandEvent(EventTypeFetch, "/tmp/repo", "", "Fetch concluído", "cmd-1")
	first.Timestamp = baseTime
	second := NewCommandEvent(EventTypeFetch, "/tmp/repo", "", "Fetch concluído", "cmd-2")
	second.Timestamp = baseTime.Add(100 * time.Millisecond)

	if _, ok := service.Append(first); !ok {
		t.Fatalf("expected first command event to be accepted")
	}
	if _, ok := service.Append(second); !ok {
		t.Fatalf("deliberate repeated command must not be deduplicated")
	}
	if got := service.Count(); got != 2 {
		t.Fatalf("expected both command events stored, got %d", got)
	}
}

func TestWatcherEchoOfRecentCommandIsDropped(t *testing.T) {
	service := NewService(20, 100*time.Millisecond)
	baseTime := time.Now()

	commit := NewCommandEvent(EventTypeCommitCreated, "/tmp/repo", "main", "Commit criado", "cmd-1")
	commit.Timestamp = baseTime
	if _, ok := service.Append(commit); !ok {
		t.Fatalf("expected command event to be accepted")
	}

	// O commit do app mexe no index e no HEAD; o watcher reporta os dois.
	_, ok := service.Append(Event{
		Type:      EventTypeIndexUpdated,
		RepoPath:  "/tmp/repo",
		Message:   "Stage atualizado",
		Timestamp: baseTime.Add(300 * time.Millisecond),
		Source:    SourceWatcher,
	})
	if ok {
		t.Fatalf("index echo of the app's own commit must be dropped")
	}
	_, ok = service.Append(Event{
		Type:      EventTypeCommitCreated,
		RepoPath:  "/tmp/repo",
		Message:   "Novo commit em HEAD",
		Timestamp: baseTime.Add(500 * time.Millisecond),
		Source:    SourceWatcher,
	})
	if ok {
		t.Fatalf("commit echo of the app's own commit must be dropped")
	}

	// Outro repositório não é eco: a supressão é por chave de repositório.
	if _, ok := service.Append(Event{
		Type:      EventTypeIndexUpdated,
		RepoPath:  "/tmp/other",
		Message:   "Stage atualizado",
		Timestamp: baseTime.Add(300 * time.Millisecond),
		Source:    SourceWatcher,
	}); !ok {
		t.Fatalf("watcher event on another repository must be accepted")
	}
}

func TestWatcherEventAcceptedAfterEchoWindow(t *testing.T) {
	service := NewService(20, 100*time.Millisecond)
	baseTime := time.Now()

	push := NewCommandEvent(EventTypePush, "/tmp/repo", "main", "Push concluído", "cmd-1")
	push.Timestamp = baseTime
	if _, ok := service.Append(push); !ok {
		t.Fatalf("expected command event to be accepted")
	}

	external := Event{
		Type:      EventTypeFetch,
		RepoPath:  "/tmp/repo",
		Message:   "Referências remotas atualizadas",
		Timestamp: baseTime.Add(echoWindow + time.Second),
		Source:    SourceWatcher,
	}
	if _, ok := service.Append(external); !ok {
		t.Fatalf("external activity after the echo window must reach the feed")
	}
}

func TestAppendFillsRepoNameAndID(t *testing.T) {
	service := NewService(5, 0)

	stored, ok := service.Append(Event{
		Type:     EventTypePush,
		RepoPath: "/tmp/projects/devdeck",
		Message:  "push",
	})
	if !ok {
		t.Fatalf("expected event to be accepted")
	}
	if stored.RepoName != "devdeck" {
		t.Fatalf("expected repo name from path, got %q", stored.RepoName)
	}
	if stored.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestBufferDropsOldestOnOverflow(t *testing.T) {
	service := NewService(2, 0)
	now := time.Now()

	service.Append(Event{Type: EventTypeFetch, RepoPath: "/tmp/a", Message: "one", Timestamp: now, DedupeKey: "1"})
	service.Append(Event{Type: EventTypeFetch, RepoPath: "/tmp/a", Message: "two", Timestamp: now.Add(time.Second), DedupeKey: "2"})
	service.Append(Event{Type: EventTypeFetch, RepoPath: "/tmp/a", Message: "three", Timestamp: now.Add(2 * time.Second), DedupeKey: "3"})

	if service.Count() != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", service.Count())
	}

	items := service.List(ListOptions{Limit: 10})
	for _, item := range items {
		if item.Message == "one" {
			t.Fatalf("oldest event should have been evicted")
		}
	}
}

func TestListAppliesFiltersAndOrder(t *testing.T) {
	service := NewService(20, 0)
	now := time.Now()

	service.Append(Event{
		Type:      EventTypeFetch,
		RepoPath:  "/tmp/a",
		Message:   "fetch",
		Timestamp: now.Add(-2 * time.Second),
		DedupeKey: "fetch|/tmp/a",
	})
	service.Append(Event{
		Type:      EventTypeBranchChanged,
		RepoPath:  "/tmp/b",
		Message:   "branch b",
		Timestamp: now.Add(-1 * time.Second),
		DedupeKey: "branch|/tmp/b",
	})
	service.Append(Event{
		Type:      EventTypeBranchChanged,
		RepoPath:  "/tmp/a",
		Message:   "branch a",
		Timestamp: now,
		DedupeKey: "branch|/tmp/a",
	})

	items := service.List(ListOptions{
		Limit:    10,
		Type:     EventTypeBranchChanged,
		RepoPath: "/tmp/a",
	})

	if len(items) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(items))
	}
	if items[0].Message != "branch a" {
		t.Fatalf("expected most recent matching event, got %q", items[0].Message)
	}
}

func TestGetAndClear(t *testing.T) {
	service := NewService(5, 0)
	stored, ok := service.Append(Event{
		Type:      EventTypeIndexUpdated,
		RepoPath:  "/tmp/repo",
		Message:   "index",
		Timestamp: time.Now(),
		DedupeKey: "index|/tmp/repo",
	})
	if !ok {
		t.Fatalf("expected event to be appended")
	}

	got, found := service.Get(stored.ID)
	if !found || got == nil {
		t.Fatalf("expected event to be found by id")
	}
	if got.ID != stored.ID {
		t.Fatalf("expected id %q, got %q", stored.ID, got.ID)
	}

	service.Clear()
	if service.Count() != 0 {
		t.Fatalf("expected count=0 after clear")
	}
	if _, found := service.Get(stored.ID); found {
		t.Fatalf("expected event not found after clear")
	}
}
