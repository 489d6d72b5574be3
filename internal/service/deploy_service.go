package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/metrics"
	"github.com/chiwei-platform/deployd/internal/port"
	"github.com/google/uuid"
)

// DeployConfig 是部署请求补全默认值所需的服务端配置。
type DeployConfig struct {
	BaseDomain     string
	DefaultPort    int
	RegistrySecret string
	TLS            bool
}

type DeployService struct {
	deployer port.Deployer
	executor port.BuildExecutor     // nil 表示未开启构建
	releases port.ReleaseRepository // nil 表示不记录发布历史
	events   port.EventPublisher
	cfg      DeployConfig
	now      func() time.Time
}

func NewDeployService(
	deployer port.Deployer,
	executor port.BuildExecutor,
	releases port.ReleaseRepository,
	events port.EventPublisher,
	cfg DeployConfig,
) *DeployService {
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = domain.DefaultAppPort
	}
	if events == nil {
		events = discardEvents{}
	}
	return &DeployService{
		deployer: deployer,
		executor: executor,
		releases: releases,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

type DeployRequest struct {
	AppName      string `json:"app_name"`
	Image        string `json:"image_name"`
	Port         int    `json:"port"`
	RegistryAuth string `json:"registry_auth"`
	Domain       string `json:"domain"`

	// 构建变体：带 git_repo 时先用 Kaniko 构建镜像再部署
	GitRepo    string `json:"git_repo"`
	GitRef     string `json:"git_ref"`
	ContextDir string `json:"context_dir"`
}

const (
	DeployStatusCompleted = "completed"
	DeployStatusStarted   = "started"
)

type DeployResult struct {
	JobID     string                   `json:"job_id"`
	Status    string                   `json:"status"`
	Domain    string                   `json:"domain"`
	URL       string                   `json:"url"`
	Resources []domain.ResourceOutcome `json:"resources,omitempty"`
}

// Deploy 校验请求并收敛三类资源；带 git_repo 时只提交构建，由构建回调完成收敛。
// 校验失败时不会触达集群。
func (s *DeployService) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	spec, err := s.buildSpec(req)
	if err != nil {
		metrics.DeployRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if req.GitRepo != "" {
		if err := s.validateBuild(req); err != nil {
			metrics.DeployRequestsTotal.WithLabelValues("invalid").Inc()
			return nil, err
		}
	}

	jobID := domain.NewJobID(spec.AppName, s.now()).String()
	result := &DeployResult{
		JobID:  jobID,
		Domain: spec.Domain,
		URL:    spec.URL(s.cfg.TLS),
	}
	s.events.Publish(jobID, domain.LevelInfo, fmt.Sprintf("deploy accepted: %s (%s)", spec.AppName, spec.Image))

	if req.GitRepo != "" {
		if err := s.submitBuild(ctx, jobID, req, spec); err != nil {
			metrics.DeployRequestsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		metrics.DeployRequestsTotal.WithLabelValues(DeployStatusStarted).Inc()
		result.Status = DeployStatusStarted
		return result, nil
	}

	// 客户端断开不打断收敛，避免留下半套资源
	report, err := s.converge(context.WithoutCancel(ctx), jobID, spec)

	rel := newRelease(jobID, req, spec)
	rel.Resources = report.Resources
	if err != nil {
		rel.Status = domain.ReleaseStatusFailed
		rel.Message = err.Error()
	} else {
		rel.Status = domain.ReleaseStatusDeployed
	}
	s.saveRelease(ctx, rel)

	if err != nil {
		metrics.DeployRequestsTotal.WithLabelValues("failed").Inc()
		return nil, &domain.ConvergenceError{JobID: jobID, Report: report, Err: err}
	}
	metrics.DeployRequestsTotal.WithLabelValues(DeployStatusCompleted).Inc()
	result.Status = DeployStatusCompleted
	result.Resources = report.Resources
	return result, nil
}

func (s *DeployService) buildSpec(req DeployRequest) (domain.DeploySpec, error) {
	if req.AppName == "" {
		return domain.DeploySpec{}, fmt.Errorf("%w: app_name is required", domain.ErrInvalidInput)
	}
	if req.Image == "" {
		return domain.DeploySpec{}, fmt.Errorf("%w: image_name is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateAppName(req.AppName); err != nil {
		return domain.DeploySpec{}, err
	}

	spec := domain.DeploySpec{
		AppName:      req.AppName,
		Image:        req.Image,
		Port:         req.Port,
		RegistryAuth: req.RegistryAuth,
		Domain:       req.Domain,
	}
	if spec.Port == 0 {
		spec.Port = s.cfg.DefaultPort
	}
	if spec.RegistryAuth == "" {
		spec.RegistryAuth = s.cfg.RegistrySecret
	}
	if spec.Domain == "" {
		spec.Domain = domain.DefaultDomain(spec.AppName, s.cfg.BaseDomain)
	}

	if err := domain.ValidatePort(spec.Port); err != nil {
		return domain.DeploySpec{}, err
	}
	if err := domain.ValidateDomain(spec.Domain); err != nil {
		return domain.DeploySpec{}, err
	}
	return spec, nil
}

func (s *DeployService) validateBuild(req DeployRequest) error {
	if s.executor == nil {
		return domain.ErrBuildsDisabled
	}
	if err := domain.ValidateGitRepo(req.GitRepo); err != nil {
		return err
	}
	if err := domain.ValidateGitRef(req.GitRef); err != nil {
		return err
	}
	return domain.ValidateContextDir(req.ContextDir)
}

func (s *DeployService) submitBuild(ctx context.Context, jobID string, req DeployRequest, spec domain.DeploySpec) error {
	sub := &port.BuildSubmission{
		JobID: jobID,
		Source: domain.BuildSource{
			GitRepo:    req.GitRepo,
			GitRef:     req.GitRef,
			ContextDir: req.ContextDir,
		},
		Spec: spec,
	}

	rel := newRelease(jobID, req, spec)
	if _, err := s.executor.Submit(ctx, sub); err != nil {
		s.events.Publish(jobID, domain.LevelError, fmt.Sprintf("build submission failed: %v", err))
		rel.Status = domain.ReleaseStatusFailed
		rel.Message = err.Error()
		s.saveRelease(ctx, rel)
		return fmt.Errorf("submit build: %w", err)
	}

	s.events.Publish(jobID, domain.LevelInfo, fmt.Sprintf("build submitted: %s", req.GitRepo))
	rel.Status = domain.ReleaseStatusBuilding
	s.saveRelease(ctx, rel)
	return nil
}

// converge 调用 Deployer 并把每个资源的结果作为事件推送给订阅者。
func (s *DeployService) converge(ctx context.Context, jobID string, spec domain.DeploySpec) (*domain.ConvergenceReport, error) {
	report, err := s.deployer.Deploy(ctx, spec)
	if report == nil {
		report = &domain.ConvergenceReport{}
	}

	for _, o := range report.Resources {
		switch o.Action {
		case domain.ActionFailed:
			s.events.Publish(jobID, domain.LevelError, fmt.Sprintf("%s %s failed: %s", o.Kind, o.Name, o.Error))
		case domain.ActionSkipped:
			s.events.Publish(jobID, domain.LevelWarn, fmt.Sprintf("%s %s skipped", o.Kind, o.Name))
		default:
			s.events.Publish(jobID, domain.LevelInfo, fmt.Sprintf("%s %s %s", o.Kind, o.Name, o.Action))
		}
	}

	if err != nil {
		slog.Error("deploy failed", "job_id", jobID, "app", spec.AppName, "error", err)
		s.events.Publish(jobID, domain.LevelError, fmt.Sprintf("deploy failed: %v", err))
		return report, err
	}
	slog.Info("deploy completed", "job_id", jobID, "app", spec.AppName)
	s.events.Publish(jobID, domain.LevelInfo, fmt.Sprintf("deploy completed: %s", spec.URL(s.cfg.TLS)))
	return report, nil
}

// OnBuildStatusChange 是构建 Informer 的回调：构建成功后收敛 Job 注解里保存的部署意图。
func (s *DeployService) OnBuildStatusChange(ctx context.Context, update port.BuildUpdate) {
	switch update.Status {
	case domain.BuildStatusRunning:
		s.events.Publish(update.JobID, domain.LevelInfo, "build running")

	case domain.BuildStatusFailed:
		msg := "build failed"
		if update.Message != "" {
			msg = fmt.Sprintf("build failed: %s", update.Message)
		}
		slog.Warn("build failed", "job_id", update.JobID, "message", update.Message)
		s.events.Publish(update.JobID, domain.LevelError, msg)
		s.updateRelease(ctx, update.JobID, domain.ReleaseStatusFailed, msg, nil)

	case domain.BuildStatusSucceeded:
		s.events.Publish(update.JobID, domain.LevelInfo, "build succeeded")
		if update.Spec == nil {
			msg := "build succeeded but the deploy spec is missing from the job"
			slog.Error(msg, "job_id", update.JobID)
			s.events.Publish(update.JobID, domain.LevelError, msg)
			s.updateRelease(ctx, update.JobID, domain.ReleaseStatusFailed, msg, nil)
			return
		}
		report, err := s.converge(ctx, update.JobID, *update.Spec)
		if err != nil {
			s.updateRelease(ctx, update.JobID, domain.ReleaseStatusFailed, err.Error(), report.Resources)
			return
		}
		s.updateRelease(ctx, update.JobID, domain.ReleaseStatusDeployed, "", report.Resources)
	}
}

func newRelease(jobID string, req DeployRequest, spec domain.DeploySpec) *domain.Release {
	return &domain.Release{
		ID:           uuid.New().String(),
		JobID:        jobID,
		AppName:      spec.AppName,
		Image:        spec.Image,
		Port:         spec.Port,
		RegistryAuth: spec.RegistryAuth,
		Domain:       spec.Domain,
		GitRepo:      req.GitRepo,
		GitRef:       req.GitRef,
	}
}

// saveRelease 写入发布历史。历史只用于审计，失败不影响部署结果。
func (s *DeployService) saveRelease(ctx context.Context, rel *domain.Release) {
	if s.releases == nil {
		return
	}
	now := s.now()
	rel.CreatedAt = now
	rel.UpdatedAt = now
	if err := s.releases.Save(context.WithoutCancel(ctx), rel); err != nil {
		slog.Warn("save release failed", "job_id", rel.JobID, "error", err)
	}
}

func (s *DeployService) updateRelease(ctx context.Context, jobID string, status domain.ReleaseStatus, msg string, resources []domain.ResourceOutcome) {
	if s.releases == nil {
		return
	}
	rel, err := s.releases.FindByJobID(ctx, jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrReleaseNotFound) {
			slog.Warn("find release failed", "job_id", jobID, "error", err)
		}
		return
	}
	rel.Status = status
	rel.Message = msg
	if resources != nil {
		rel.Resources = resources
	}
	rel.UpdatedAt = s.now()
	if err := s.releases.Update(ctx, rel); err != nil {
		slog.Warn("update release failed", "job_id", jobID, "error", err)
	}
}

type discardEvents struct{}

func (discardEvents) Publish(string, domain.LogLevel, string) {}
