package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
	"gorm.io/gorm"
)

var _ port.ReleaseRepository = (*ReleaseRepo)(nil)

type ReleaseRepo struct {
	db *gorm.DB
}

func NewReleaseRepo(db *gorm.DB) *ReleaseRepo {
	return &ReleaseRepo{db: db}
}

func (r *ReleaseRepo) Save(ctx context.Context, release *domain.Release) error {
	m, err := releaseToModel(release)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Create(m)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *ReleaseRepo) FindByJobID(ctx context.Context, jobID string) (*domain.Release, error) {
	var m ReleaseModel
	result := r.db.WithContext(ctx).First(&m, "job_id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReleaseNotFound
		}
		return nil, result.Error
	}
	return modelToRelease(&m)
}

// FindByApp 按创建时间倒序返回应用的发布记录。
func (r *ReleaseRepo) FindByApp(ctx context.Context, appName string, limit int) ([]*domain.Release, error) {
	var models []ReleaseModel
	err := r.db.WithContext(ctx).
		Where("app_name = ?", appName).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	releases := make([]*domain.Release, 0, len(models))
	for i := range models {
		rel, err := modelToRelease(&models[i])
		if err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

func (r *ReleaseRepo) Update(ctx context.Context, release *domain.Release) error {
	m, err := releaseToModel(release)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(m).Error
}

func releaseToModel(r *domain.Release) (*ReleaseModel, error) {
	resourcesJSON, err := json.Marshal(r.Resources)
	if err != nil {
		return nil, err
	}
	return &ReleaseModel{
		ID:           r.ID,
		JobID:        r.JobID,
		AppName:      r.AppName,
		Image:        r.Image,
		Port:         r.Port,
		RegistryAuth: r.RegistryAuth,
		Domain:       r.Domain,
		GitRepo:      r.GitRepo,
		GitRef:       r.GitRef,
		Status:       string(r.Status),
		Message:      r.Message,
		Resources:    string(resourcesJSON),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func modelToRelease(m *ReleaseModel) (*domain.Release, error) {
	var resources []domain.ResourceOutcome
	if m.Resources != "" && m.Resources != "null" {
		if err := json.Unmarshal([]byte(m.Resources), &resources); err != nil {
			return nil, err
		}
	}
	return &domain.Release{
		ID:           m.ID,
		JobID:        m.JobID,
		AppName:      m.AppName,
		Image:        m.Image,
		Port:         m.Port,
		RegistryAuth: m.RegistryAuth,
		Domain:       m.Domain,
		GitRepo:      m.GitRepo,
		GitRef:       m.GitRef,
		Status:       domain.ReleaseStatus(m.Status),
		Message:      m.Message,
		Resources:    resources,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}
