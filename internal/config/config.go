package config

import (
	"os"
	"path/filepath"
)

const (
	// AppName é o nome do aplicativo
	AppName = "DevDeck"

	// AppVersion é a versão atual
	AppVersion = "1.0.0"

	// AppBundleID é o bundle identifier macOS
	AppBundleID = "com.devdeck.app"

	// DBFileName é o nome do arquivo SQLite
	DBFileName = "devdeck.db"

	// MaxTrackedRepos é o número máximo de repositórios monitorados ao mesmo tempo
	MaxTrackedRepos = 30

	// EventJournalRetention é quantos eventos Git ficam persistidos por repositório
	EventJournalRetention = 1000
)

// DataDir retorna o diretório raiz de dados do app. Usa o diretório de
// configuração da plataforma (Application Support no macOS, XDG no Linux).
func DataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = home
	}
	return filepath.Join(base, AppName)
}

// DBPath retorna o caminho do arquivo SQLite
func DBPath() string {
	return filepath.Join(DataDir(), DBFileName)
}

// LogDir retorna o diretório de logs
func LogDir() string {
	return filepath.Join(DataDir(), "logs")
}

// CacheDir retorna o diretório de cache
func CacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(DataDir(), "cache")
	}
	return filepath.Join(base, AppName)
}

// EnsureDataDirs cria os diretórios necessários se não existirem
func EnsureDataDirs() error {
	dirs := []string{
		DataDir(),
		LogDir(),
		CacheDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
