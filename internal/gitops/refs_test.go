package gitops

import (
	"context"
	"strings"
	"testing"
)

func TestParseBranchListOrderingAndFiltering(t *testing.T) {
	raw := strings.Join([]string{
		"develop\x1f \x1forigin/develop",
		"main\x1f*\x1forigin/main",
		"origin/HEAD\x1f \x1f",
		"origin/develop\x1f \x1f",
		"origin/feature/login\x1f \x1f",
		"origin/main\x1f \x1f",
		"zeta\x1f \x1f",
	}, "\n")

	branches := parseBranchList(raw)

	if len(branches) == 0 || branches[0].Name != "main" || !branches[0].IsCurrent {
		t.Fatalf("current branch must come first, got %+v", branches)
	}
	for _, branch := range branches {
		if strings.HasSuffix(branch.Name, "/HEAD") {
			t.Errorf("origin/HEAD must be filtered out, got %+v", branch)
		}
		if branch.Name == "origin/develop" || branch.Name == "origin/main" {
			t.Errorf("remote ref with local counterpart must be filtered, got %+v", branch)
		}
	}

	names := make([]string, 0, len(branches))
	for _, branch := range branches {
		names = append(names, branch.Name)
	}
	want := []string{"main", "develop", "zeta", "origin/feature/login"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected ordering: got %v, want %v", names, want)
	}

	if branches[0].Upstream != "origin/main" {
		t.Errorf("expected upstream origin/main, got %q", branches[0].Upstream)
	}
	last := branches[len(branches)-1]
	if !last.IsRemote {
		t.Errorf("origin/feature/login must be remote-only, got %+v", last)
	}
}

func TestParseBranchListEmpty(t *testing.T) {
	if branches := parseBranchList("\n\n"); len(branches) != 0 {
		t.Errorf("expected empty list, got %v", branches)
	}
}

func TestParseRemoteList(t *testing.T) {
	raw := "origin\thttps://github.com/acme/devdeck.git (fetch)\n" +
		"origin\thttps://github.com/acme/devdeck.git (push)\n" +
		"mirror\tgit@backup.example.com:acme/devdeck.git (fetch)\n" +
		"mirror\tgit@backup.example.com:acme/devdeck.git (push)\n"

	remotes := parseRemoteList(raw)
	if len(remotes) != 2 {
		t.Fatalf("expected 2 remotes, got %+v", remotes)
	}
	if remotes[0].Name != "origin" || remotes[0].FetchURL != "https://github.com/acme/devdeck.git" {
		t.Errorf("unexpected origin entry: %+v", remotes[0])
	}
	if remotes[0].PushURL != "https://github.com/acme/devdeck.git" {
		t.Errorf("push URL missing: %+v", remotes[0])
	}
	if remotes[1].Name != "mirror" {
		t.Errorf("remote order must follow git output, got %+v", remotes)
	}
}

func TestValidateRefName(t *testing.T) {
	valid := []string{"main", "feature/login", "release-1.2", "hotfix_2026"}
	for _, name := range valid {
		if err := validateRefName(name); err != nil {
			t.Errorf("expected %q to be valid: %v", name, err)
		}
	}

	invalid := []string{"", "-flag-injection", "has space", "a..b", "trailing/", "ref.lock", "a@{1}", "tab\tchar"}
	for _, name := range invalid {
		if err := validateRefName(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestValidateRemoteURL(t *testing.T) {
	valid := []string{
		"https://github.com/acme/devdeck.git",
		"ssh://git@github.com/acme/devdeck.git",
		"git@github.com:acme/devdeck.git",
	}
	for _, remoteURL := range valid {
		if _, err := validateRemoteURL(remoteURL); err != nil {
			t.Errorf("expected %q to be valid: %v", remoteURL, err)
		}
	}

	invalid := []string{"", "   ", "-upload-pack=evil", "apenas-texto"}
	for _, remoteURL := range invalid {
		if _, err := validateRemoteURL(remoteURL); err == nil {
			t.Errorf("expected %q to be rejected", remoteURL)
		}
	}
}

func TestCreateBranchGoesThroughWriteQueue(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onSuccess("branch nova-feature", "")
	svc, recorder, _ := newTestService(t, runner)

	if err := svc.CreateBranch(context.Background(), repoDir, "nova-feature"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.countCalls("branch nova-feature") != 1 {
		t.Errorf("expected exactly one branch call, got %v", runner.callKeys())
	}
	if recorder.count("gitops:refs_changed") == 0 {
		t.Error("ref mutation must emit refs_changed")
	}
}

func TestDeleteBranchForceFlag(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onSuccess("branch -D velha", "")
	svc, _, _ := newTestService(t, runner)

	if err := svc.DeleteBranch(context.Background(), repoDir, "velha", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.countCalls("branch -D velha") != 1 {
		t.Errorf("expected forced delete, got %v", runner.callKeys())
	}
}

func TestAddRemoteRejectsInvalidName(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	err := svc.AddRemote(context.Background(), t.TempDir(), "-bad", "https://example.com/repo.git")
	expectBindingCode(t, err, CodeValidation)
	if len(runner.callKeys()) != 0 {
		t.Errorf("validation must fail before any git call, got %v", runner.callKeys())
	}
}

func TestListTags(t *testing.T) {
	runner := newScriptedRunner()
	repoDir := newTestRepo(t, runner)
	runner.onSuccess("tag --sort=-v:refname", "v2.0.0\nv1.1.0\nv1.0.0\n")
	svc, _, _ := newTestService(t, runner)

	tags, err := svc.ListTags(repoDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 3 || tags[0].Name != "v2.0.0" {
		t.Errorf("unexpected tag list: %+v", tags)
	}
}
