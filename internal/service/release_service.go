package service

import (
	"context"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
)

const (
	defaultReleaseLimit = 20
	maxReleaseLimit     = 100
)

type ReleaseService struct {
	releaseRepo port.ReleaseRepository // nil 表示未配置数据库
}

func NewReleaseService(releaseRepo port.ReleaseRepository) *ReleaseService {
	return &ReleaseService{releaseRepo: releaseRepo}
}

// ListReleases 返回应用最近的发布记录，新的在前。
func (s *ReleaseService) ListReleases(ctx context.Context, appName string, limit int) ([]*domain.Release, error) {
	if s.releaseRepo == nil {
		return nil, domain.ErrHistoryDisabled
	}
	if err := domain.ValidateK8sName(appName); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultReleaseLimit
	}
	if limit > maxReleaseLimit {
		limit = maxReleaseLimit
	}
	return s.releaseRepo.FindByApp(ctx, appName, limit)
}

func (s *ReleaseService) GetRelease(ctx context.Context, jobID string) (*domain.Release, error) {
	if s.releaseRepo == nil {
		return nil, domain.ErrHistoryDisabled
	}
	if _, err := domain.ParseJobID(jobID); err != nil {
		return nil, err
	}
	return s.releaseRepo.FindByJobID(ctx, jobID)
}
