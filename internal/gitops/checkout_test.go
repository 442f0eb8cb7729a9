package gitops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckoutBranchDirectSuccess(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onSuccess("checkout develop", "Switched to branch 'develop'\n")
	svc, recorder, _ := newTestService(t, runner)

	result, err := svc.CheckoutBranch(context.Background(), repoDir, "develop", CheckoutOptions{})
	if err != nil {
		t.Fatalf("unexpected checkout error: %v", err)
	}
	if result.Stashed || result.CleanedLock {
		t.Errorf("direct checkout must not trigger fallbacks: %+v", result)
	}
	if recorder.count("gitops:refs_changed") == 0 {
		t.Error("checkout must emit refs_changed")
	}
}

func TestCheckoutBranchTracksRemoteWhenLocalMissing(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onFailure("checkout feature/login",
		"error: pathspec 'feature/login' did not match any file(s) known to git", 1)
	runner.onSuccess("rev-parse --verify --quiet origin/feature/login", "abc123\n")
	runner.onSuccess("checkout -b feature/login --track origin/feature/login",
		"Branch 'feature/login' set up to track remote branch 'feature/login' from 'origin'.\n")
	svc, _, _ := newTestService(t, runner)

	result, err := svc.CheckoutBranch(context.Background(), repoDir, "feature/login", CheckoutOptions{})
	if err != nil {
		t.Fatalf("expected tracking fallback to succeed: %v", err)
	}
	if result.Stashed {
		t.Error("tracking fallback must not stash")
	}
	if runner.countCalls("checkout -b feature/login --track origin/feature/login") != 1 {
		t.Errorf("tracking checkout not invoked: %v", runner.callKeys())
	}
}

func TestCheckoutBranchUnknownEverywhere(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onFailure("checkout fantasma",
		"error: pathspec 'fantasma' did not match any file(s) known to git", 1)
	runner.onFailure("rev-parse --verify --quiet origin/fantasma", "", 1)
	svc, _, _ := newTestService(t, runner)

	_, err := svc.CheckoutBranch(context.Background(), repoDir, "fantasma", CheckoutOptions{})
	expectBindingCode(t, err, CodePathspecNotFound)
	if runner.countCalls("checkout -b fantasma --track origin/fantasma") != 0 {
		t.Error("must not attempt tracking checkout when remote ref is absent")
	}
}

func TestCheckoutBranchAutoStashesBlockingChanges(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	blocked := "error: Your local changes to the following files would be overwritten by checkout:\n\tmain.go\nPlease commit your changes or stash them before you switch branches."
	runner.onFailure("checkout develop", blocked, 1)
	runner.onSuccess("stash list", "")
	runner.onSuccess("stash list", "stash@{0}: On main: devdeck-auto-stash\n")
	runner.onSuccess("checkout develop", "Switched to branch 'develop'\n")
	svc, _, _ := newTestService(t, runner)

	result, err := svc.CheckoutBranch(context.Background(), repoDir, "develop", CheckoutOptions{})
	if err != nil {
		t.Fatalf("expected auto-stash fallback to succeed: %v", err)
	}
	if !result.Stashed {
		t.Error("expected Stashed=true after auto-stash")
	}
	if result.StashRef != "stash@{0}" {
		t.Errorf("expected stash ref stash@{0}, got %q", result.StashRef)
	}
	if result.StashMessage == "" {
		t.Error("auto-stash label missing from result")
	}

	stashPushed := false
	for _, key := range runner.callKeys() {
		if len(key) > len("stash push") && key[:len("stash push")] == "stash push" {
			stashPushed = true
		}
	}
	if !stashPushed {
		t.Fatalf("stash push never invoked: %v", runner.callKeys())
	}
}

func TestCheckoutBranchAutoStashDidNotCapture(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	blocked := "Please commit your changes or stash them before you switch branches."
	runner.onFailure("checkout develop", blocked, 1)
	// Contagem de stash não muda: o stash não capturou nada.
	runner.onSuccess("stash list", "")
	svc, _, _ := newTestService(t, runner)

	_, err := svc.CheckoutBranch(context.Background(), repoDir, "develop", CheckoutOptions{})
	expectBindingCode(t, err, CodeBlockedByChanges)
}

func TestCheckoutBranchRespectsDisableAutoStash(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	blocked := "Please commit your changes or stash them before you switch branches."
	runner.onFailure("checkout develop", blocked, 1)
	svc, _, _ := newTestService(t, runner)

	_, err := svc.CheckoutBranch(context.Background(), repoDir, "develop", CheckoutOptions{DisableAutoStash: true})
	expectBindingCode(t, err, CodeBlockedByChanges)

	for _, key := range runner.callKeys() {
		if len(key) >= len("stash") && key[:len("stash")] == "stash" {
			t.Fatalf("auto-stash disabled but stash command executed: %v", runner.callKeys())
		}
	}
}

func TestCheckoutBranchCleansStaleLock(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)

	gitDir := filepath.Join(repoDir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatalf("failed to create .git dir: %v", err)
	}
	lockPath := filepath.Join(gitDir, "index.lock")
	if err := os.WriteFile(lockPath, []byte(""), 0o644); err != nil {
		t.Fatalf("failed to create lock: %v", err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("failed to age lock: %v", err)
	}

	runner.onFailure("checkout develop", "fatal: Unable to create '"+lockPath+"': File exists.", 128)
	runner.onSuccess("checkout develop", "Switched to branch 'develop'\n")
	svc, _, _ := newTestService(t, runner)

	result, err := svc.CheckoutBranch(context.Background(), repoDir, "develop", CheckoutOptions{})
	if err != nil {
		t.Fatalf("expected lock cleanup fallback to succeed: %v", err)
	}
	if !result.CleanedLock {
		t.Error("expected CleanedLock=true after stale lock removal")
	}
	if _, statErr := os.Stat(lockPath); !os.IsNotExist(statErr) {
		t.Error("stale lock still on disk after checkout")
	}
}

func TestCheckoutBranchActiveLockFailsWithWaitMessage(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)

	gitDir := filepath.Join(repoDir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatalf("failed to create .git dir: %v", err)
	}
	lockPath := filepath.Join(gitDir, "index.lock")
	if err := os.WriteFile(lockPath, []byte(""), 0o644); err != nil {
		t.Fatalf("failed to create lock: %v", err)
	}

	runner.fallback = &scriptedResponse{
		stderr:   "fatal: Unable to create '" + lockPath + "': File exists.",
		exitCode: 128,
		err:      errExitStatus(128),
	}
	svc, _, _ := newTestService(t, runner)

	_, err := svc.CheckoutBranch(context.Background(), repoDir, "develop", CheckoutOptions{})
	bindingErr := expectBindingCode(t, err, CodeLockConflict)
	if !containsFold(bindingErr.Details, "aguarde") {
		t.Errorf("active lock failure must tell the user to wait, got %q", bindingErr.Details)
	}
	if _, statErr := os.Stat(lockPath); statErr != nil {
		t.Error("active lock must not be removed")
	}
}

func TestCheckoutBranchRespectsDisableLockCleanup(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onFailure("checkout develop", "fatal: Unable to create '/repo/.git/index.lock': File exists.", 128)
	svc, _, _ := newTestService(t, runner)

	_, err := svc.CheckoutBranch(context.Background(), repoDir, "develop", CheckoutOptions{DisableLockCleanup: true})
	expectBindingCode(t, err, CodeLockConflict)
	if runner.countCalls("checkout develop") != 1 {
		t.Errorf("disabled lock cleanup must not retry, got %v", runner.callKeys())
	}
}

func TestCheckoutBranchRejectsInvalidNames(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	for _, name := range []string{"", "  ", "-flag", "a b", "a..b"} {
		if _, err := svc.CheckoutBranch(context.Background(), t.TempDir(), name, CheckoutOptions{}); err == nil {
			t.Errorf("expected rejection for branch name %q", name)
		}
	}
	if len(runner.callKeys()) != 0 {
		t.Errorf("validation must fail before any git call, got %v", runner.callKeys())
	}
}
