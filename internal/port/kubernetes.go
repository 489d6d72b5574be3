package port

import (
	"context"
	"io"

	"github.com/chiwei-platform/deployd/internal/domain"
)

// Deployer 负责将 DeploySpec 收敛为 Deployment + Service + Ingress。
// 出错时同样返回报告，调用方据此得知哪些资源已落地。
type Deployer interface {
	Deploy(ctx context.Context, spec domain.DeploySpec) (*domain.ConvergenceReport, error)
}

// StatusResolver 从集群对象推断部署状态。
type StatusResolver interface {
	// DeploymentStatus 不存在时返回 domain.ErrDeploymentNotFound。
	DeploymentStatus(ctx context.Context, appName string) (domain.ResourceStatus, error)
	// JobStatus 不存在时返回 domain.ErrJobNotFound。
	JobStatus(ctx context.Context, jobName string) (domain.ResourceStatus, error)
}

// LogStreamer 打开某个 Job 对应 Pod 的跟随日志流。
type LogStreamer interface {
	StreamLogs(ctx context.Context, jobID domain.JobID) (io.ReadCloser, error)
}
