package repository

import "time"

// ReleaseModel 是 Release 的数据库持久化模型。
type ReleaseModel struct {
	ID           string `gorm:"primaryKey"`
	JobID        string `gorm:"uniqueIndex"`
	AppName      string `gorm:"index"`
	Image        string
	Port         int
	RegistryAuth string
	Domain       string
	GitRepo      string
	GitRef       string
	Status       string
	Message      string `gorm:"type:text"`
	Resources    string // JSON 序列化的 []domain.ResourceOutcome
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ReleaseModel) TableName() string { return "releases" }
