package gitops

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	CodeServiceUnavailable = "E_SERVICE_UNAVAILABLE"
	CodeGitUnavailable     = "E_GIT_UNAVAILABLE"
	CodeRepoNotResolved    = "E_REPO_NOT_RESOLVED"
	CodeRepoNotFound       = "E_REPO_NOT_FOUND"
	CodeRepoNotGit         = "E_REPO_NOT_GIT"
	CodeInvalidPath        = "E_INVALID_PATH"
	CodeValidation         = "E_VALIDATION"
	CodeLockConflict       = "E_LOCK_CONFLICT"
	CodePathspecNotFound   = "E_PATHSPEC_NOT_FOUND"
	CodeBlockedByChanges   = "E_BLOCKED_BY_LOCAL_CHANGES"
	CodeDetachedHead       = "E_DETACHED_HEAD"
	CodeCommandFailed      = "E_COMMAND_FAILED"
	CodeTimeout            = "E_TIMEOUT"
	CodeCanceled           = "E_CANCELED"
	CodeUnknown            = "E_UNKNOWN"
)

// BindingError implementa o contrato normalizado de erro para bindings.
type BindingError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BindingError) Error() string {
	if e == nil {
		return ""
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":"%s","message":"%s","details":"%s"}`, e.Code, sanitizeJSONText(e.Message), sanitizeJSONText(e.Details))
	}
	return string(payload)
}

func NewBindingError(code, message, details string) *BindingError {
	return &BindingError{
		Code:    strings.TrimSpace(code),
		Message: strings.TrimSpace(message),
		Details: strings.TrimSpace(details),
	}
}

func AsBindingError(err error) *BindingError {
	if err == nil {
		return nil
	}

	var bindingErr *BindingError
	if errors.As(err, &bindingErr) && bindingErr != nil {
		return bindingErr
	}

	raw := strings.TrimSpace(err.Error())
	if raw == "" {
		return nil
	}

	var parsed BindingError
	if parseErr := json.Unmarshal([]byte(raw), &parsed); parseErr == nil && strings.TrimSpace(parsed.Code) != "" {
		return &parsed
	}

	return nil
}

// NormalizeBindingError garante que todo erro devolvido ao caller tenha
// código e mensagem legível nomeando a ação tentada.
func NormalizeBindingError(err error, action string) *BindingError {
	if err == nil {
		return nil
	}

	if bindingErr := AsBindingError(err); bindingErr != nil {
		if strings.TrimSpace(bindingErr.Message) == "" {
			bindingErr.Message = fallbackActionMessage(action)
		}
		if strings.TrimSpace(bindingErr.Code) == "" {
			bindingErr.Code = CodeUnknown
		}
		return bindingErr
	}

	return NewBindingError(
		CodeUnknown,
		fallbackActionMessage(action),
		err.Error(),
	)
}

func fallbackActionMessage(action string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed == "" {
		return "Falha ao executar operação Git"
	}
	return "Falha ao executar operação Git (" + trimmed + ")"
}

// newValidationError falha rápido para argumentos obrigatórios vazios;
// nenhum subprocesso é disparado nesses casos.
func newValidationError(field string) *BindingError {
	return NewBindingError(
		CodeValidation,
		"Argumento obrigatório ausente.",
		fmt.Sprintf("O campo %q não pode ser vazio.", field),
	)
}

func sanitizeJSONText(input string) string {
	output := strings.ReplaceAll(input, `"`, `'`)
	output = strings.ReplaceAll(output, "\n", " ")
	return strings.TrimSpace(output)
}
