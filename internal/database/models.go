package database

import "time"

// UserConfig armazena preferências do usuário do dashboard.
type UserConfig struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"uniqueIndex;not null" json:"userId"`
	Theme       string    `gorm:"default:dark" json:"theme"`
	Language    string    `gorm:"default:pt-BR" json:"language"`
	AIProvider  string    `gorm:"default:''" json:"aiProvider"` // "openai" | "gemini" | "ollama"
	AIModel     string    `gorm:"default:''" json:"aiModel"`
	FontSize    int       `gorm:"default:14" json:"fontSize"`
	LayoutState string    `gorm:"type:text" json:"layoutState,omitempty"` // layout do painel serializado
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Repository é um repositório Git acompanhado pelo dashboard.
type Repository struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       string     `gorm:"index;not null" json:"userId"`
	Name         string     `gorm:"not null" json:"name"`
	Path         string     `gorm:"uniqueIndex;not null" json:"path"`
	Remote       string     `json:"remote,omitempty"`
	Color        string     `gorm:"default:''" json:"color,omitempty"`
	IsActive     bool       `gorm:"default:false" json:"isActive"`
	LastOpenedAt *time.Time `json:"lastOpenedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// GitEventRecord é a forma persistida de um evento do feed de atividades,
// para o histórico sobreviver a restarts do app.
type GitEventRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"index;not null" json:"eventId"`
	RepoPath  string    `gorm:"index;not null" json:"repoPath"`
	Type      string    `gorm:"index;not null" json:"type"`
	Branch    string    `json:"branch,omitempty"`
	Message   string    `gorm:"type:text" json:"message"`
	Source    string    `json:"source,omitempty"`
	CommandID string    `json:"commandId,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}
