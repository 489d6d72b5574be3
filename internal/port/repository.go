package port

import (
	"context"

	"github.com/chiwei-platform/deployd/internal/domain"
)

type ReleaseRepository interface {
	Save(ctx context.Context, release *domain.Release) error
	FindByJobID(ctx context.Context, jobID string) (*domain.Release, error)
	FindByApp(ctx context.Context, appName string, limit int) ([]*domain.Release, error)
	Update(ctx context.Context, release *domain.Release) error
}
