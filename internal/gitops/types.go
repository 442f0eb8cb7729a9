package gitops

// PreflightResult descreve o estado de runtime para operar Git no dashboard.
type PreflightResult struct {
	GitAvailable bool   `json:"gitAvailable"`
	RepoPath     string `json:"repoPath"`
	RepoRoot     string `json:"repoRoot"`
	Branch       string `json:"branch,omitempty"`
	MergeActive  bool   `json:"mergeActive"`
}

// RepoContext mapeia o diretório de projeto visto pela UI para a raiz real do
// repositório. Imutável após o cálculo; recomputável a qualquer momento.
type RepoContext struct {
	// RepoRoot é o caminho absoluto da raiz do repositório.
	RepoRoot string `json:"repoRoot"`
	// ProjectRelativeToRepo é o caminho do diretório de projeto relativo à
	// raiz ("" quando coincidem) — caso monorepo em que a UI enxerga só uma
	// subpasta do checkout.
	ProjectRelativeToRepo string `json:"projectRelativeToRepo"`
}

// GitCommit é a projeção estruturada de um registro do log.
type GitCommit struct {
	Hash         string   `json:"hash"`
	ShortHash    string   `json:"shortHash"`
	Parents      []string `json:"parents,omitempty"`
	Author       string   `json:"author"`
	Date         string   `json:"date"`
	Message      string   `json:"message"`
	Additions    int      `json:"additions"`
	Deletions    int      `json:"deletions"`
	FilesChanged int      `json:"filesChanged"`
}

// CompactPatchResult é o diff compactado para consumo de IA.
// Invariante: IncludedFiles + len(OmittedFiles) == TotalFiles.
type CompactPatchResult struct {
	Text          string   `json:"text"`
	OmittedFiles  []string `json:"omittedFiles,omitempty"`
	TotalFiles    int      `json:"totalFiles"`
	IncludedFiles int      `json:"includedFiles"`
	WasTruncated  bool     `json:"wasTruncated"`
}

// CheckoutOptions controla os fallbacks automáticos da troca de branch.
type CheckoutOptions struct {
	DisableAutoStash   bool `json:"disableAutoStash,omitempty"`
	DisableLockCleanup bool `json:"disableLockCleanup,omitempty"`
}

// CheckoutResult descreve o desfecho de um checkout com fallbacks.
type CheckoutResult struct {
	Stashed      bool   `json:"stashed"`
	CleanedLock  bool   `json:"cleanedLock,omitempty"`
	StashRef     string `json:"stashRef,omitempty"`
	StashMessage string `json:"stashMessage,omitempty"`
}

// BranchSummary é a projeção plana de uma branch local ou remote-only.
// Recomputada a cada listagem — o estado do repositório muda por fora.
type BranchSummary struct {
	Name      string `json:"name"`
	IsCurrent bool   `json:"isCurrent"`
	IsRemote  bool   `json:"isRemote"`
	Upstream  string `json:"upstream,omitempty"`
}

// RemoteSummary é a projeção plana de um remote configurado.
type RemoteSummary struct {
	Name     string `json:"name"`
	FetchURL string `json:"fetchUrl"`
	PushURL  string `json:"pushUrl,omitempty"`
}

// TagSummary é a projeção plana de uma tag.
type TagSummary struct {
	Name string `json:"name"`
}

// StashSummary é a projeção plana de uma entrada de stash.
type StashSummary struct {
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// FileChange representa alteração de arquivo no status.
type FileChange struct {
	Path         string `json:"path"`
	OriginalPath string `json:"originalPath,omitempty"`
	Status       string `json:"status"`
}

// ConflictFile representa arquivo em conflito.
type ConflictFile struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// StatusSnapshot representa snapshot de status para o dashboard.
type StatusSnapshot struct {
	Branch     string         `json:"branch"`
	Ahead      int            `json:"ahead"`
	Behind     int            `json:"behind"`
	Staged     []FileChange   `json:"staged"`
	Unstaged   []FileChange   `json:"unstaged"`
	Conflicted []ConflictFile `json:"conflicted"`
}

// CommandResult é o payload de diagnóstico emitido por evento runtime.
type CommandResult struct {
	CommandID       string   `json:"commandId"`
	RepoPath        string   `json:"repoPath"`
	Action          string   `json:"action"`
	Args            []string `json:"args,omitempty"`
	DurationMs      int64    `json:"durationMs"`
	ExitCode        int      `json:"exitCode"`
	StderrSanitized string   `json:"stderrSanitized,omitempty"`
	Status          string   `json:"status"`
	Attempt         int      `json:"attempt,omitempty"`
	Error           string   `json:"error,omitempty"`
}
