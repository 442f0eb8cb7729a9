package ai

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "devdeck-ai"

// KeyStore guarda chaves de API no keychain do sistema operacional. Env vars
// funcionam como fallback somente-leitura para quem configura por shell.
type KeyStore struct{}

var providerEnvKeys = map[string][]string{
	"openai": {"DEVDECK_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"gemini": {"DEVDECK_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Get resolve a chave do provider: keychain primeiro, env depois.
func (KeyStore) Get(providerID string) string {
	id := strings.ToLower(strings.TrimSpace(providerID))
	if id == "" {
		return ""
	}

	if stored, err := keyring.Get(keyringService, id); err == nil {
		if trimmed := strings.TrimSpace(stored); trimmed != "" {
			return trimmed
		}
	}

	for _, envKey := range providerEnvKeys[id] {
		if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
			return value
		}
	}
	return ""
}

// Set grava a chave no keychain.
func (KeyStore) Set(providerID string, apiKey string) error {
	id := strings.ToLower(strings.TrimSpace(providerID))
	if id == "" {
		return fmt.Errorf("provider id vazio")
	}
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return fmt.Errorf("chave de API vazia")
	}
	return keyring.Set(keyringService, id, trimmedKey)
}

// Delete remove a chave do keychain. Chave inexistente não é erro.
func (KeyStore) Delete(providerID string) error {
	id := strings.ToLower(strings.TrimSpace(providerID))
	if id == "" {
		return fmt.Errorf("provider id vazio")
	}
	if err := keyring.Delete(keyringService, id); err != nil && err != keyring.ErrNotFound {
		return err
	}
	return nil
}
