package service

import (
	"context"
	"errors"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
)

type StatusService struct {
	resolver      port.StatusResolver
	buildsEnabled bool
	now           func() time.Time
}

func NewStatusService(resolver port.StatusResolver, buildsEnabled bool) *StatusService {
	return &StatusService{resolver: resolver, buildsEnabled: buildsEnabled, now: time.Now}
}

// Resolve 按 JobID 推断状态。开启构建时先看同名构建 Job，
// 构建已成功或不存在时再看应用 Deployment。
func (s *StatusService) Resolve(ctx context.Context, rawJobID string) (*domain.JobState, error) {
	id, err := domain.ParseJobID(rawJobID)
	if err != nil {
		return nil, err
	}

	buildSucceeded := false
	if s.buildsEnabled {
		st, err := s.resolver.JobStatus(ctx, rawJobID)
		switch {
		case err == nil && st.Status != domain.JobStatusCompleted:
			return s.state(rawJobID, st), nil
		case err == nil:
			buildSucceeded = true
		case !errors.Is(err, domain.ErrJobNotFound):
			return nil, err
		}
	}

	st, err := s.resolver.DeploymentStatus(ctx, id.App)
	if err != nil {
		// 构建刚成功、收敛尚未写入 Deployment
		if buildSucceeded && errors.Is(err, domain.ErrDeploymentNotFound) {
			return s.state(rawJobID, domain.ResourceStatus{
				Status:  domain.JobStatusRunning,
				Phase:   domain.PhaseDeploying,
				Message: "build succeeded, waiting for deployment",
			}), nil
		}
		return nil, err
	}
	return s.state(rawJobID, st), nil
}

func (s *StatusService) state(jobID string, st domain.ResourceStatus) *domain.JobState {
	return &domain.JobState{
		JobID:     jobID,
		Status:    st.Status,
		Phase:     st.Phase,
		Message:   st.Message,
		Timestamp: s.now().UTC(),
	}
}
