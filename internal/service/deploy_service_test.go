package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
	"github.com/google/go-cmp/cmp"
)

// --- stubs ---

type stubDeployer struct {
	calls  int
	specs  []domain.DeploySpec
	report *domain.ConvergenceReport
	err    error
	ctxErr error // 调用时 ctx.Err()
}

func (s *stubDeployer) Deploy(ctx context.Context, spec domain.DeploySpec) (*domain.ConvergenceReport, error) {
	s.calls++
	s.specs = append(s.specs, spec)
	s.ctxErr = ctx.Err()
	if s.report != nil {
		return s.report, s.err
	}
	r := &domain.ConvergenceReport{}
	r.Add(domain.KindDeployment, spec.AppName, domain.ActionCreated, nil)
	r.Add(domain.KindService, spec.AppName, domain.ActionCreated, nil)
	r.Add(domain.KindIngress, spec.AppName+"-ingress", domain.ActionCreated, nil)
	return r, s.err
}

type stubExecutor struct {
	submitted []*port.BuildSubmission
	err       error
}

func (s *stubExecutor) Submit(_ context.Context, sub *port.BuildSubmission) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.submitted = append(s.submitted, sub)
	return sub.JobID, nil
}

func (s *stubExecutor) Watch(ctx context.Context, _ port.BuildStatusCallback) error {
	<-ctx.Done()
	return ctx.Err()
}

type stubReleaseRepo struct {
	mu       sync.Mutex
	releases map[string]*domain.Release
	saveErr  error
	updates  int
}

func newStubReleaseRepo() *stubReleaseRepo {
	return &stubReleaseRepo{releases: make(map[string]*domain.Release)}
}

func (s *stubReleaseRepo) Save(_ context.Context, r *domain.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *r
	s.releases[r.JobID] = &cp
	return nil
}

func (s *stubReleaseRepo) FindByJobID(_ context.Context, jobID string) (*domain.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.releases[jobID]
	if !ok {
		return nil, domain.ErrReleaseNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *stubReleaseRepo) FindByApp(_ context.Context, appName string, limit int) ([]*domain.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Release
	for _, r := range s.releases {
		if r.AppName == appName && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubReleaseRepo) Update(_ context.Context, r *domain.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	cp := *r
	s.releases[r.JobID] = &cp
	return nil
}

type recordedEvent struct {
	jobID   string
	level   domain.LogLevel
	message string
}

type stubPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *stubPublisher) Publish(jobID string, level domain.LogLevel, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{jobID, level, message})
}

func (s *stubPublisher) count(level domain.LogLevel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.level == level {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDeployService(deployer port.Deployer, executor port.BuildExecutor, repo port.ReleaseRepository, pub port.EventPublisher) *DeployService {
	svc := NewDeployService(deployer, executor, repo, pub, DeployConfig{
		BaseDomain:     "localhost",
		RegistrySecret: "regcred",
	})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// --- tests ---

func TestDeploy_DemoExample(t *testing.T) {
	deployer := &stubDeployer{}
	repo := newStubReleaseRepo()
	pub := &stubPublisher{}
	svc := newTestDeployService(deployer, nil, repo, pub)

	result, err := svc.Deploy(context.Background(), DeployRequest{AppName: "demo", Image: "nginx:1.25"})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	wantJobID := "demo-1714564800000"
	if result.JobID != wantJobID {
		t.Errorf("JobID = %s, want %s", result.JobID, wantJobID)
	}
	if result.Status != DeployStatusCompleted || result.Domain != "demo.localhost" || result.URL != "http://demo.localhost" {
		t.Errorf("result = %+v", result)
	}
	if len(result.Resources) != 3 {
		t.Errorf("resources = %v", result.Resources)
	}

	want := domain.DeploySpec{
		AppName:      "demo",
		Image:        "nginx:1.25",
		Port:         3000,
		RegistryAuth: "regcred",
		Domain:       "demo.localhost",
	}
	if diff := cmp.Diff([]domain.DeploySpec{want}, deployer.specs); diff != "" {
		t.Errorf("deploy spec mismatch (-want +got):\n%s", diff)
	}

	rel, err := repo.FindByJobID(context.Background(), wantJobID)
	if err != nil {
		t.Fatalf("release not recorded: %v", err)
	}
	if rel.Status != domain.ReleaseStatusDeployed || len(rel.Resources) != 3 {
		t.Errorf("release = %+v", rel)
	}

	// accepted + 3 个资源 + completed
	if got := pub.count(domain.LevelInfo); got != 5 {
		t.Errorf("info events = %d, want 5", got)
	}
}

func TestDeploy_InvalidInput_NoClusterCalls(t *testing.T) {
	tests := []struct {
		name string
		req  DeployRequest
		want string
	}{
		{"missing app_name", DeployRequest{Image: "nginx"}, "app_name is required"},
		{"missing image_name", DeployRequest{AppName: "demo"}, "image_name is required"},
		{"invalid app_name", DeployRequest{AppName: "Demo_App", Image: "nginx"}, "not a valid k8s resource name"},
		{"bad port", DeployRequest{AppName: "demo", Image: "nginx", Port: 70000}, "port 70000"},
		{"bad domain", DeployRequest{AppName: "demo", Image: "nginx", Domain: "not a domain"}, "domain"},
		{"builds disabled", DeployRequest{AppName: "demo", Image: "nginx", GitRepo: "https://github.com/example/repo"}, "builds are not enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deployer := &stubDeployer{}
			pub := &stubPublisher{}
			svc := newTestDeployService(deployer, nil, nil, pub)

			_, err := svc.Deploy(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
			if deployer.calls != 0 {
				t.Errorf("deployer called %d times, want 0", deployer.calls)
			}
			if len(pub.events) != 0 {
				t.Errorf("events published for invalid request: %v", pub.events)
			}
		})
	}
}

func TestDeploy_ExplicitFields(t *testing.T) {
	deployer := &stubDeployer{}
	svc := newTestDeployService(deployer, nil, nil, &stubPublisher{})
	svc.cfg.TLS = true

	result, err := svc.Deploy(context.Background(), DeployRequest{
		AppName:      "shop",
		Image:        "registry.local/shop:1.0",
		Port:         8080,
		RegistryAuth: "harbor",
		Domain:       "shop.example.com",
	})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	spec := deployer.specs[0]
	if spec.Port != 8080 || spec.RegistryAuth != "harbor" || spec.Domain != "shop.example.com" {
		t.Errorf("spec = %+v", spec)
	}
	if result.URL != "https://shop.example.com" {
		t.Errorf("URL = %s", result.URL)
	}
}

func TestDeploy_ConvergenceFailure(t *testing.T) {
	report := &domain.ConvergenceReport{}
	report.Add(domain.KindDeployment, "demo", domain.ActionCreated, nil)
	report.Add(domain.KindService, "demo", domain.ActionFailed, errors.New("forbidden"))
	report.Add(domain.KindIngress, "demo-ingress", domain.ActionSkipped, nil)
	deployer := &stubDeployer{report: report, err: errors.New("apply Service: forbidden")}
	repo := newStubReleaseRepo()
	pub := &stubPublisher{}
	svc := newTestDeployService(deployer, nil, repo, pub)

	_, err := svc.Deploy(context.Background(), DeployRequest{AppName: "demo", Image: "nginx"})

	var ce *domain.ConvergenceError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want ConvergenceError", err)
	}
	if ce.JobID != "demo-1714564800000" || ce.Report != report {
		t.Errorf("ConvergenceError = %+v", ce)
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		t.Error("convergence failure must not be classified as invalid input")
	}

	rel, _ := repo.FindByJobID(context.Background(), ce.JobID)
	if rel == nil || rel.Status != domain.ReleaseStatusFailed {
		t.Errorf("release = %+v, want failed", rel)
	}
	if pub.count(domain.LevelError) != 2 {
		t.Errorf("error events = %d, want 2", pub.count(domain.LevelError))
	}
	if pub.count(domain.LevelWarn) != 1 {
		t.Errorf("warn events = %d, want 1", pub.count(domain.LevelWarn))
	}
}

func TestDeploy_DetachedFromRequestCancel(t *testing.T) {
	deployer := &stubDeployer{}
	svc := newTestDeployService(deployer, nil, nil, &stubPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Deploy(ctx, DeployRequest{AppName: "demo", Image: "nginx"}); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if deployer.ctxErr != nil {
		t.Errorf("convergence context was cancelled: %v", deployer.ctxErr)
	}
}

func TestDeploy_ReleaseSaveFailureIgnored(t *testing.T) {
	repo := newStubReleaseRepo()
	repo.saveErr = errors.New("db down")
	svc := newTestDeployService(&stubDeployer{}, nil, repo, &stubPublisher{})

	if _, err := svc.Deploy(context.Background(), DeployRequest{AppName: "demo", Image: "nginx"}); err != nil {
		t.Fatalf("history failure should not fail the deploy: %v", err)
	}
}

func TestDeploy_BuildVariant(t *testing.T) {
	deployer := &stubDeployer{}
	executor := &stubExecutor{}
	repo := newStubReleaseRepo()
	svc := newTestDeployService(deployer, executor, repo, &stubPublisher{})

	result, err := svc.Deploy(context.Background(), DeployRequest{
		AppName:    "demo",
		Image:      "registry.local/demo:main",
		GitRepo:    "https://github.com/example/demo",
		GitRef:     "main",
		ContextDir: "apps/demo",
	})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if result.Status != DeployStatusStarted {
		t.Errorf("status = %s, want started", result.Status)
	}
	if deployer.calls != 0 {
		t.Errorf("deployer called %d times before build finished", deployer.calls)
	}
	if len(executor.submitted) != 1 {
		t.Fatalf("submitted %d builds, want 1", len(executor.submitted))
	}
	sub := executor.submitted[0]
	if sub.JobID != result.JobID || sub.Source.ContextDir != "apps/demo" || sub.Spec.Image != "registry.local/demo:main" {
		t.Errorf("submission = %+v", sub)
	}

	rel, _ := repo.FindByJobID(context.Background(), result.JobID)
	if rel == nil || rel.Status != domain.ReleaseStatusBuilding || rel.GitRepo != "https://github.com/example/demo" {
		t.Errorf("release = %+v", rel)
	}
}

func TestDeploy_BuildValidation(t *testing.T) {
	tests := []struct {
		name string
		req  DeployRequest
	}{
		{"ssh repo", DeployRequest{GitRepo: "git@github.com:example/demo.git"}},
		{"bad ref", DeployRequest{GitRepo: "https://github.com/example/demo", GitRef: "main;rm -rf"}},
		{"traversal", DeployRequest{GitRepo: "https://github.com/example/demo", ContextDir: "../etc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &stubExecutor{}
			svc := newTestDeployService(&stubDeployer{}, executor, nil, &stubPublisher{})
			tt.req.AppName = "demo"
			tt.req.Image = "registry.local/demo:main"

			_, err := svc.Deploy(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
			if len(executor.submitted) != 0 {
				t.Error("build must not be submitted")
			}
		})
	}
}

func TestDeploy_BuildSubmitFailure(t *testing.T) {
	executor := &stubExecutor{err: errors.New("jobs.batch is forbidden")}
	repo := newStubReleaseRepo()
	svc := newTestDeployService(&stubDeployer{}, executor, repo, &stubPublisher{})

	_, err := svc.Deploy(context.Background(), DeployRequest{
		AppName: "demo",
		Image:   "registry.local/demo:main",
		GitRepo: "https://github.com/example/demo",
	})
	if err == nil || errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want internal error", err)
	}
	rel, _ := repo.FindByJobID(context.Background(), "demo-1714564800000")
	if rel == nil || rel.Status != domain.ReleaseStatusFailed {
		t.Errorf("release = %+v, want failed", rel)
	}
}

func TestOnBuildStatusChange(t *testing.T) {
	spec := &domain.DeploySpec{AppName: "demo", Image: "registry.local/demo:main", Port: 3000, Domain: "demo.localhost"}
	jobID := "demo-1714564800000"

	tests := []struct {
		name        string
		update      port.BuildUpdate
		wantDeploys int
		wantStatus  domain.ReleaseStatus
		wantErrors  int
	}{
		{
			name:        "running only publishes",
			update:      port.BuildUpdate{JobID: jobID, Status: domain.BuildStatusRunning},
			wantDeploys: 0,
			wantStatus:  domain.ReleaseStatusBuilding,
		},
		{
			name:        "failed marks release",
			update:      port.BuildUpdate{JobID: jobID, Status: domain.BuildStatusFailed, Message: "BackoffLimitExceeded"},
			wantDeploys: 0,
			wantStatus:  domain.ReleaseStatusFailed,
			wantErrors:  1,
		},
		{
			name:        "succeeded converges stored spec",
			update:      port.BuildUpdate{JobID: jobID, Status: domain.BuildStatusSucceeded, Spec: spec},
			wantDeploys: 1,
			wantStatus:  domain.ReleaseStatusDeployed,
		},
		{
			name:        "succeeded without spec fails",
			update:      port.BuildUpdate{JobID: jobID, Status: domain.BuildStatusSucceeded},
			wantDeploys: 0,
			wantStatus:  domain.ReleaseStatusFailed,
			wantErrors:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deployer := &stubDeployer{}
			repo := newStubReleaseRepo()
			repo.releases[jobID] = &domain.Release{JobID: jobID, AppName: "demo", Status: domain.ReleaseStatusBuilding}
			pub := &stubPublisher{}
			svc := newTestDeployService(deployer, &stubExecutor{}, repo, pub)

			svc.OnBuildStatusChange(context.Background(), tt.update)

			if deployer.calls != tt.wantDeploys {
				t.Errorf("deploy calls = %d, want %d", deployer.calls, tt.wantDeploys)
			}
			rel, _ := repo.FindByJobID(context.Background(), jobID)
			if rel.Status != tt.wantStatus {
				t.Errorf("release status = %s, want %s", rel.Status, tt.wantStatus)
			}
			if got := pub.count(domain.LevelError); got != tt.wantErrors {
				t.Errorf("error events = %d, want %d", got, tt.wantErrors)
			}
			for _, e := range pub.events {
				if e.jobID != jobID {
					t.Errorf("event for wrong job: %+v", e)
				}
			}
		})
	}
}

func TestNewDeployService_NilPublisher(t *testing.T) {
	svc := NewDeployService(&stubDeployer{}, nil, nil, nil, DeployConfig{BaseDomain: "localhost"})
	if _, err := svc.Deploy(context.Background(), DeployRequest{AppName: "demo", Image: "nginx"}); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
}
