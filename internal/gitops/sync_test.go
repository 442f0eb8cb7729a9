package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPushWithConfiguredUpstream(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onSuccess("rev-parse --abbrev-ref --symbolic-full-name @{u}", "origin/main\n")
	runner.onSuccess("push", "")
	svc, recorder, _ := newTestService(t, runner)

	if err := svc.Push(context.Background(), repoDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.countCalls("push") != 1 {
		t.Errorf("expected plain push with upstream configured, got %v", runner.callKeys())
	}
	if recorder.count("gitops:refs_changed") == 0 {
		t.Error("push must emit refs_changed")
	}
}

func TestPushPublishesBranchWithoutUpstream(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onFailure("rev-parse --abbrev-ref --symbolic-full-name @{u}",
		"fatal: no upstream configured for branch 'main'", 128)
	runner.onSuccess("push -u origin main", "")
	svc, _, _ := newTestService(t, runner)

	if err := svc.Push(context.Background(), repoDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.countCalls("push -u origin main") != 1 {
		t.Errorf("expected push -u origin main, got %v", runner.callKeys())
	}
}

func TestPushDetachedHead(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := t.TempDir()
	runner.onSuccess("rev-parse --show-toplevel", repoDir+"\n")
	runner.onSuccess("rev-parse --abbrev-ref HEAD", "HEAD\n")
	svc, _, _ := newTestService(t, runner)

	err := svc.Push(context.Background(), repoDir)
	expectBindingCode(t, err, CodeDetachedHead)
	for _, key := range runner.callKeys() {
		if strings.HasPrefix(key, "push") {
			t.Fatalf("detached head must never push, got %v", runner.callKeys())
		}
	}
}

func TestPullBlockedByLocalChanges(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onFailure("pull",
		"error: Your local changes to the following files would be overwritten by merge:\n\tmain.go\nPlease commit your changes or stash them before you merge.", 1)
	svc, _, _ := newTestService(t, runner)

	err := svc.Pull(context.Background(), repoDir)
	expectBindingCode(t, err, CodeBlockedByChanges)
}

func TestFetchUsesPrune(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onSuccess("fetch --all --prune", "")
	svc, _, _ := newTestService(t, runner)

	if err := svc.Fetch(context.Background(), repoDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.countCalls("fetch --all --prune") != 1 {
		t.Errorf("expected pruning fetch, got %v", runner.callKeys())
	}
}

func TestInitRepositoryCreatesGitignore(t *testing.T) {
	runner := newScriptedRunner()
	projectDir := t.TempDir()
	runner.onSuccess("init -b main", "Initialized empty Git repository\n")
	svc, recorder, _ := newTestService(t, runner)

	if err := svc.InitRepository(context.Background(), projectDir, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.countCalls("init -b main") != 1 {
		t.Errorf("expected init -b main, got %v", runner.callKeys())
	}

	data, err := os.ReadFile(filepath.Join(projectDir, ".gitignore"))
	if err != nil {
		t.Fatalf(".gitignore not created: %v", err)
	}
	if !strings.Contains(string(data), "node_modules/") {
		t.Errorf("default .gitignore content missing, got %q", string(data))
	}
	if recorder.count("gitops:status_changed") == 0 {
		t.Error("init must emit status_changed")
	}
}

func TestInitRepositoryKeepsExistingGitignore(t *testing.T) {
	runner := newScriptedRunner()
	projectDir := t.TempDir()
	custom := "# personalizado\n*.tmp\n"
	if err := os.WriteFile(filepath.Join(projectDir, ".gitignore"), []byte(custom), 0o644); err != nil {
		t.Fatalf("failed to seed .gitignore: %v", err)
	}
	runner.onSuccess("init -b main", "")
	svc, _, _ := newTestService(t, runner)

	if err := svc.InitRepository(context.Background(), projectDir, "main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(projectDir, ".gitignore"))
	if string(data) != custom {
		t.Error("existing .gitignore must not be overwritten")
	}
}

func TestInitRepositoryRejectsExistingRepo(t *testing.T) {
	runner := newScriptedRunner()
	projectDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create .git dir: %v", err)
	}
	svc, _, _ := newTestService(t, runner)

	err := svc.InitRepository(context.Background(), projectDir, "main")
	expectBindingCode(t, err, CodeValidation)
	if len(runner.callKeys()) != 0 {
		t.Errorf("existing repo must fail before any git call, got %v", runner.callKeys())
	}
}

func TestInitRepositoryOldGitFallsBackToBranchRename(t *testing.T) {
	runner := newScriptedRunner()
	projectDir := t.TempDir()
	runner.onFailure("init -b main", "error: unknown option `b'", 129)
	runner.onSuccess("init", "Initialized empty Git repository\n")
	runner.onSuccess("branch -m main", "")
	svc, _, _ := newTestService(t, runner)

	if err := svc.InitRepository(context.Background(), projectDir, "main"); err != nil {
		t.Fatalf("expected fallback init to succeed: %v", err)
	}
	if runner.countCalls("init") != 1 || runner.countCalls("branch -m main") != 1 {
		t.Errorf("expected init + branch -m fallback, got %v", runner.callKeys())
	}
}

func TestInitRepositoryRejectsInvalidBranch(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	err := svc.InitRepository(context.Background(), t.TempDir(), "-bad")
	expectBindingCode(t, err, CodeValidation)
}

func TestCreateInitialCommitStagesEverything(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onFailure("rev-parse --verify HEAD", "fatal: Needed a single revision", 128)
	runner.onSuccess("add -A", "")
	runner.onSuccess("commit -F -", "")
	runner.onSuccess("rev-parse HEAD", "abcd1234abcd1234abcd1234abcd1234abcd1234\n")
	svc, recorder, _ := newTestService(t, runner)

	hash, err := svc.CreateInitialCommit(context.Background(), repoDir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "abcd1234abcd1234abcd1234abcd1234abcd1234" {
		t.Errorf("unexpected commit hash: %s", hash)
	}
	if runner.countCalls("add -A") != 1 {
		t.Errorf("expected add -A before commit, got %v", runner.callKeys())
	}

	runner.mu.Lock()
	for i, call := range runner.calls {
		if commandKey(call) == "commit -F -" && !strings.Contains(runner.stdins[i], "Initial commit") {
			t.Errorf("expected default message on stdin, got %q", runner.stdins[i])
		}
	}
	runner.mu.Unlock()

	if recorder.count("gitops:refs_changed") == 0 {
		t.Error("initial commit must emit refs_changed")
	}
}

func TestCreateInitialCommitRejectsExistingHistory(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onSuccess("rev-parse --verify HEAD", "abcd1234\n")
	svc, _, _ := newTestService(t, runner)

	_, err := svc.CreateInitialCommit(context.Background(), repoDir, "mensagem")
	expectBindingCode(t, err, CodeValidation)
	for _, key := range runner.callKeys() {
		if strings.HasPrefix(key, "commit") {
			t.Fatalf("repo with history must never commit, got %v", runner.callKeys())
		}
	}
}

func TestCreateInitialCommitEmptyProject(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onFailure("rev-parse --verify HEAD", "fatal: Needed a single revision", 128)
	runner.onSuccess("add -A", "")
	runner.on("commit -F -", scriptedResponse{
		stdout:   "On branch main\nnothing to commit, working tree clean\n",
		exitCode: 1,
		err:      fmt.Errorf("exit status 1"),
	})
	svc, _, _ := newTestService(t, runner)

	_, err := svc.CreateInitialCommit(context.Background(), repoDir, "mensagem")
	expectBindingCode(t, err, CodeValidation)
}
