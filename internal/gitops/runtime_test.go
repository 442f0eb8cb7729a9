package gitops

import (
	"os"
	"strings"
	"testing"
)

func TestFilterForwardedEnvAllowList(t *testing.T) {
	baseEnv := []string{
		"HOME=/home/dev",
		"PATH=/usr/bin:/bin",
		"GIT_ASKPASS=/usr/bin/askpass",
		"AWS_SECRET_ACCESS_KEY=supersegredo",
		"DATABASE_URL=postgres://x",
		"GIT_TERMINAL_PROMPT=0",
		"MALFORMED_ENTRY",
	}

	env := filterForwardedEnv(baseEnv)
	joined := strings.Join(env, "\n")

	for _, want := range []string{"HOME=", "PATH=", "GIT_ASKPASS=", "GIT_TERMINAL_PROMPT="} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %s to be forwarded, got %v", want, env)
		}
	}
	for _, banned := range []string{"AWS_SECRET_ACCESS_KEY", "DATABASE_URL", "MALFORMED_ENTRY"} {
		if strings.Contains(joined, banned) {
			t.Errorf("%s must not leak into subprocess env", banned)
		}
	}
}

func TestPrependPathDirInjectsResolvedDir(t *testing.T) {
	sep := string(os.PathListSeparator)
	env := prependPathDir([]string{"PATH=/usr/bin" + sep + "/bin", "HOME=/home/dev"}, "/opt/git/bin")

	found := false
	for _, entry := range env {
		if strings.HasPrefix(entry, "PATH=") {
			found = true
			if !strings.HasPrefix(entry, "PATH=/opt/git/bin"+sep) {
				t.Errorf("resolved dir must come first in PATH, got %s", entry)
			}
		}
	}
	if !found {
		t.Fatal("PATH entry missing")
	}
}

func TestPrependPathDirIsIdempotent(t *testing.T) {
	sep := string(os.PathListSeparator)
	once := prependPathDir([]string{"PATH=/usr/bin"}, "/opt/git/bin")
	twice := prependPathDir(once, "/opt/git/bin")

	for _, entry := range twice {
		if strings.HasPrefix(entry, "PATH=") {
			if strings.Count(entry, "/opt/git/bin"+sep) > 1 {
				t.Errorf("dir duplicated in PATH: %s", entry)
			}
		}
	}
}

func TestPrependPathDirWithoutExistingPath(t *testing.T) {
	env := prependPathDir([]string{"HOME=/home/dev"}, "/opt/git/bin")

	found := false
	for _, entry := range env {
		if entry == "PATH=/opt/git/bin" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected synthesized PATH entry, got %v", env)
	}
}
