package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"devdeck/internal/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Service encapsula o acesso ao SQLite via GORM.
type Service struct {
	db *gorm.DB
}

var ErrRepoLimit = errors.New("tracked repository limit reached")

// NewService cria e inicializa o serviço de banco de dados.
func NewService() (*Service, error) {
	dbPath, db, err := openWritableDatabase()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&UserConfig{},
		&Repository{},
		&GitEventRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	svc := &Service{db: db}

	os.Chmod(dbPath, 0600)

	log.Printf("[db] database initialized at %s", dbPath)
	return svc, nil
}

// openWritableDatabase tenta os caminhos candidatos em ordem e faz um probe
// de escrita: em sandboxes o arquivo pode abrir readonly sem erro.
func openWritableDatabase() (string, *gorm.DB, error) {
	candidates := make([]string, 0, 4)
	if override := strings.TrimSpace(os.Getenv("DEVDECK_DB_PATH")); override != "" {
		candidates = append(candidates, override)
	}
	candidates = append(candidates, config.DBPath())

	if cwd, err := os.Getwd(); err == nil && strings.TrimSpace(cwd) != "" {
		candidates = append(candidates, filepath.Join(cwd, ".devdeck", config.DBFileName))
	}
	candidates = append(candidates, filepath.Join(os.TempDir(), config.AppName, config.DBFileName))

	var lastErr error
	for _, candidate := range candidates {
		path := strings.TrimSpace(candidate)
		if path == "" {
			continue
		}

		if !isLikelyWritable(path) {
			lastErr = fmt.Errorf("path not writable: %s", path)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			lastErr = err
			continue
		}

		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB, err := db.DB()
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB.Exec("PRAGMA journal_mode=WAL")
		sqlDB.Exec("PRAGMA busy_timeout=5000")
		sqlDB.Exec("PRAGMA synchronous=NORMAL")
		sqlDB.Exec("PRAGMA foreign_keys=ON")

		probeErr := db.Exec("CREATE TABLE IF NOT EXISTS _devdeck_write_probe (id INTEGER PRIMARY KEY AUTOINCREMENT)").Error
		if probeErr == nil {
			probeErr = db.Exec("INSERT INTO _devdeck_write_probe DEFAULT VALUES").Error
		}
		if probeErr == nil {
			_ = db.Exec("DELETE FROM _devdeck_write_probe WHERE id = (SELECT MAX(id) FROM _devdeck_write_probe)").Error
		}

		if probeErr != nil {
			lastErr = probeErr
			_ = sqlDB.Close()
			continue
		}

		return path, db, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no database path candidates available")
	}

	return "", nil, fmt.Errorf("failed to open writable database: %w", lastErr)
}

func isLikelyWritable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Close fecha a conexão com o banco.
func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// === UserConfig ===

// GetConfig retorna a configuração do usuário, criando a padrão se não existir.
func (s *Service) GetConfig() (*UserConfig, error) {
	var cfg UserConfig
	result := s.db.First(&cfg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			cfg = UserConfig{
				UserID:   "local",
				Theme:    "dark",
				Language: "pt-BR",
				FontSize: 14,
			}
			if err := s.db.Create(&cfg).Error; err != nil {
				return nil, err
			}
			return &cfg, nil
		}
		return nil, result.Error
	}
	return &cfg, nil
}

// UpdateConfig atualiza a configuração do usuário.
func (s *Service) UpdateConfig(cfg *UserConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	return s.db.Save(cfg).Error
}

// === Repository ===

// ListRepositories retorna os repositórios acompanhados, ativo primeiro.
func (s *Service) ListRepositories() ([]Repository, error) {
	var repos []Repository
	result := s.db.Order("is_active DESC, last_opened_at DESC, id DESC").Find(&repos)
	return repos, result.Error
}

// GetRepository retorna um repositório por ID.
func (s *Service) GetRepository(id uint) (*Repository, error) {
	var repo Repository
	result := s.db.First(&repo, id)
	if result.Error != nil {
		return nil, result.Error
	}
	return &repo, nil
}

// GetRepositoryByPath retorna um repositório pelo caminho no disco.
func (s *Service) GetRepositoryByPath(path string) (*Repository, error) {
	var repo Repository
	result := s.db.Where("path = ?", filepath.Clean(path)).First(&repo)
	if result.Error != nil {
		return nil, result.Error
	}
	return &repo, nil
}

// GetActiveRepository retorna o repositório ativo no dashboard.
func (s *Service) GetActiveRepository() (*Repository, error) {
	var repo Repository
	result := s.db.Where("is_active = ?", true).First(&repo)
	if result.Error != nil {
		return nil, result.Error
	}
	return &repo, nil
}

// AddRepository registra um repositório novo; o caminho é único.
func (s *Service) AddRepository(repo *Repository) error {
	if repo == nil {
		return fmt.Errorf("repository is nil")
	}

	repo.Path = filepath.Clean(strings.TrimSpace(repo.Path))
	if repo.Path == "" || repo.Path == "." {
		return fmt.Errorf("repository path is required")
	}

	repo.Name = strings.TrimSpace(repo.Name)
	if repo.Name == "" {
		repo.Name = filepath.Base(repo.Path)
	}
	repo.UserID = strings.TrimSpace(repo.UserID)
	if repo.UserID == "" {
		repo.UserID = "local"
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Repository{}).Count(&count).Error; err != nil {
			return err
		}
		if count >= config.MaxTrackedRepos {
			return ErrRepoLimit
		}

		// Primeiro repositório entra como ativo.
		if count == 0 {
			repo.IsActive = true
		}
		return tx.Create(repo).Error
	})
}

// RenameRepository atualiza o rótulo exibido de um repositório.
func (s *Service) RenameRepository(id uint, name string) error {
	newName := strings.TrimSpace(name)
	if newName == "" {
		return fmt.Errorf("repository name cannot be empty")
	}
	return s.db.Model(&Repository{}).Where("id = ?", id).Update("name", newName).Error
}

// SetRepositoryColor atualiza a cor de um repositório.
func (s *Service) SetRepositoryColor(id uint, color string) error {
	return s.db.Model(&Repository{}).Where("id = ?", id).Update("color", color).Error
}

// SetActiveRepository define o repositório ativo e desativa os demais.
func (s *Service) SetActiveRepository(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var target Repository
		if err := tx.First(&target, id).Error; err != nil {
			return err
		}

		if err := tx.Model(&Repository{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return err
		}

		now := time.Now()
		return tx.Model(&Repository{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_active":      true,
			"last_opened_at": now,
		}).Error
	})
}

// RemoveRepository remove um repositório acompanhado e seu journal. Se era o
// ativo, promove o aberto mais recentemente.
func (s *Service) RemoveRepository(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var target Repository
		if err := tx.First(&target, id).Error; err != nil {
			return err
		}

		if err := tx.Where("repo_path = ?", target.Path).Delete(&GitEventRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Repository{}, id).Error; err != nil {
			return err
		}

		if !target.IsActive {
			return nil
		}

		var replacement Repository
		err := tx.Order("last_opened_at DESC, id DESC").First(&replacement).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Model(&Repository{}).Where("id = ?", replacement.ID).Update("is_active", true).Error
	})
}

// === GitEventRecord ===

// SaveGitEvent persiste um evento do feed e aplica a retenção por repositório.
func (s *Service) SaveGitEvent(record *GitEventRecord) error {
	if record == nil {
		return fmt.Errorf("git event is nil")
	}
	record.RepoPath = filepath.Clean(record.RepoPath)

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		// Mantém apenas os N eventos mais recentes por repositório.
		return tx.Exec(`
			DELETE FROM git_event_records
			WHERE repo_path = ?
			  AND id NOT IN (
				SELECT id
				FROM git_event_records
				WHERE repo_path = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			  )
		`, record.RepoPath, record.RepoPath, config.EventJournalRetention).Error
	})
}

// ListGitEvents lista o journal de um repositório em ordem decrescente.
func (s *Service) ListGitEvents(repoPath string, limit int) ([]GitEventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.db.Order("created_at DESC, id DESC").Limit(limit)
	if strings.TrimSpace(repoPath) != "" {
		query = query.Where("repo_path = ?", filepath.Clean(repoPath))
	}

	var records []GitEventRecord
	err := query.Find(&records).Error
	return records, err
}

// ClearGitEvents apaga o journal de um repositório (ou de todos, se vazio).
func (s *Service) ClearGitEvents(repoPath string) error {
	if strings.TrimSpace(repoPath) == "" {
		return s.db.Where("1 = 1").Delete(&GitEventRecord{}).Error
	}
	return s.db.Where("repo_path = ?", filepath.Clean(repoPath)).Delete(&GitEventRecord{}).Error
}
