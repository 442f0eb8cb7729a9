package database

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Service {
	t.Helper()
	t.Setenv("DEVDECK_DB_PATH", filepath.Join(t.TempDir(), "devdeck-test.db"))

	svc, err := NewService()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestGetConfigCreatesDefault(t *testing.T) {
	svc := newTestDB(t)

	cfg, err := svc.GetConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UserID != "local" || cfg.Theme != "dark" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	cfg.Theme = "light"
	cfg.AIProvider = "ollama"
	if err := svc.UpdateConfig(cfg); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	reloaded, err := svc.GetConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.Theme != "light" || reloaded.AIProvider != "ollama" {
		t.Errorf("config not persisted: %+v", reloaded)
	}
}

func TestAddRepositoryFillsDefaultsAndActivatesFirst(t *testing.T) {
	svc := newTestDB(t)

	repo := &Repository{Path: "/tmp/projects/devdeck"}
	if err := svc.AddRepository(repo); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if repo.Name != "devdeck" {
		t.Errorf("expected name from path, got %q", repo.Name)
	}
	if !repo.IsActive {
		t.Error("first repository must become active")
	}

	second := &Repository{Path: "/tmp/projects/other", Name: "Other"}
	if err := svc.AddRepository(second); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if second.IsActive {
		t.Error("second repository must not steal active flag")
	}
}

func TestAddRepositoryRejectsEmptyPath(t *testing.T) {
	svc := newTestDB(t)

	if err := svc.AddRepository(&Repository{Path: "  "}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSetActiveRepositorySwitchesFlag(t *testing.T) {
	svc := newTestDB(t)

	first := &Repository{Path: "/tmp/a"}
	second := &Repository{Path: "/tmp/b"}
	if err := svc.AddRepository(first); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := svc.AddRepository(second); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := svc.SetActiveRepository(second.ID); err != nil {
		t.Fatalf("set active failed: %v", err)
	}

	active, err := svc.GetActiveRepository()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("expected repo %d active, got %d", second.ID, active.ID)
	}
	if active.LastOpenedAt == nil {
		t.Error("activation must stamp last opened time")
	}
}

func TestRemoveActiveRepositoryPromotesReplacement(t *testing.T) {
	svc := newTestDB(t)

	first := &Repository{Path: "/tmp/a"}
	second := &Repository{Path: "/tmp/b"}
	if err := svc.AddRepository(first); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := svc.AddRepository(second); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := svc.RemoveRepository(first.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	active, err := svc.GetActiveRepository()
	if err != nil {
		t.Fatalf("expected a promoted active repository: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("expected repo %d promoted, got %d", second.ID, active.ID)
	}
}

func TestRemoveRepositoryDropsJournal(t *testing.T) {
	svc := newTestDB(t)

	repo := &Repository{Path: "/tmp/a"}
	if err := svc.AddRepository(repo); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := svc.SaveGitEvent(&GitEventRecord{
		EventID:   "act_1_1",
		RepoPath:  "/tmp/a",
		Type:      "commit_created",
		Message:   "commit",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("save event failed: %v", err)
	}

	if err := svc.RemoveRepository(repo.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	events, err := svc.ListGitEvents("/tmp/a", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("journal must be cleared with the repository, got %d events", len(events))
	}
}

func TestGetRepositoryByPathNormalizes(t *testing.T) {
	svc := newTestDB(t)

	repo := &Repository{Path: "/tmp/projects/devdeck"}
	if err := svc.AddRepository(repo); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	found, err := svc.GetRepositoryByPath("/tmp/projects/devdeck/")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found.ID != repo.ID {
		t.Errorf("expected repo %d, got %d", repo.ID, found.ID)
	}
}

func TestSaveGitEventListsNewestFirst(t *testing.T) {
	svc := newTestDB(t)

	base := time.Now().Add(-time.Minute)
	for i, msg := range []string{"one", "two", "three"} {
		if err := svc.SaveGitEvent(&GitEventRecord{
			EventID:   msg,
			RepoPath:  "/tmp/a",
			Type:      "fetch",
			Message:   msg,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	events, err := svc.ListGitEvents("/tmp/a", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "three" {
		t.Errorf("expected newest first, got %q", events[0].Message)
	}
}

func TestSaveGitEventRejectsNil(t *testing.T) {
	svc := newTestDB(t)
	if err := svc.SaveGitEvent(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}
