package gitops

import (
	"bytes"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const resolveTimeout = 5 * time.Second

// Runtime descreve o binário Git e o ambiente usado em todo subprocesso.
// É construído uma única vez no startup e injetado no Service; nenhum estado
// memoizado em variável de pacote.
type Runtime struct {
	// Binary é sempre o nome base do comando ("git"), nunca o caminho
	// absoluto resolvido; allow-listing fica na camada de invocação.
	Binary string
	Env    []string
}

// Variáveis repassadas para cada subprocesso git. O host suprime prompts de
// credencial configurando GIT_ASKPASS/GIT_TERMINAL_PROMPT antes do startup.
var forwardedEnvKeys = []string{
	"HOME",
	"USERPROFILE",
	"GIT_ASKPASS",
	"SSH_ASKPASS",
	"GIT_TERMINAL_PROMPT",
	"PATH",
	"Path",
}

// ResolveRuntime localiza o executável git via where/which usando o ambiente
// base fornecido. Se a resolução falhar, confia no PATH ambiente e segue com
// o nome do comando puro. Efeito colateral: um único spawn de subprocesso.
func ResolveRuntime(baseEnv []string) *Runtime {
	if baseEnv == nil {
		baseEnv = os.Environ()
	}

	env := filterForwardedEnv(baseEnv)
	rt := &Runtime{
		Binary: "git",
		Env:    env,
	}

	resolved, err := locateGitBinary(env)
	if err != nil {
		log.Printf("[GitOps] Warning: git não resolvido via where/which, usando PATH ambiente: %v", err)
		return rt
	}

	binDir := filepath.Dir(resolved)
	if binDir != "" && binDir != "." {
		rt.Env = prependPathDir(rt.Env, binDir)
	}
	return rt
}

func locateGitBinary(env []string) (string, error) {
	lookup := "which"
	if runtime.GOOS == "windows" {
		lookup = "where"
	}

	ctxCmd := exec.Command(lookup, "git")
	ctxCmd.Env = env

	var stdout bytes.Buffer
	ctxCmd.Stdout = &stdout
	if err := ctxCmd.Run(); err != nil {
		return "", err
	}

	// "where" pode listar múltiplos candidatos; o primeiro vence.
	first := strings.TrimSpace(strings.SplitN(stdout.String(), "\n", 2)[0])
	if first == "" {
		return "", exec.ErrNotFound
	}
	return filepath.Clean(first), nil
}

func filterForwardedEnv(baseEnv []string) []string {
	allowed := make(map[string]struct{}, len(forwardedEnvKeys))
	for _, key := range forwardedEnvKeys {
		allowed[key] = struct{}{}
	}

	env := make([]string, 0, len(forwardedEnvKeys))
	for _, entry := range baseEnv {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if _, keep := allowed[name]; keep {
			env = append(env, entry)
		}
	}
	return env
}

// prependPathDir injeta dir no início de Path e PATH (os dois nomes, por
// causa da case-sensitivity de variáveis de ambiente entre plataformas).
func prependPathDir(env []string, dir string) []string {
	updated := make([]string, 0, len(env)+1)
	touched := false

	for _, entry := range env {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || (name != "PATH" && name != "Path") {
			updated = append(updated, entry)
			continue
		}
		touched = true
		if pathListContains(value, dir) {
			updated = append(updated, entry)
			continue
		}
		updated = append(updated, name+"="+dir+string(os.PathListSeparator)+value)
	}

	if !touched {
		updated = append(updated, "PATH="+dir)
	}
	return updated
}

func pathListContains(pathList string, dir string) bool {
	cleanDir := filepath.Clean(dir)
	for _, part := range strings.Split(pathList, string(os.PathListSeparator)) {
		if part == "" {
			continue
		}
		if filepath.Clean(part) == cleanDir {
			return true
		}
	}
	return false
}
