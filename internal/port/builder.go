package port

import (
	"context"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
)

// BuildSubmission 是提交一次 Kaniko 构建所需的全部信息。
// Spec 随 Job 一起保存，构建成功后据此收敛。
type BuildSubmission struct {
	JobID  string
	Source domain.BuildSource
	Spec   domain.DeploySpec
}

// BuildUpdate 是构建 Job 的一次状态变更。
type BuildUpdate struct {
	JobID   string
	Status  domain.BuildStatus
	Message string
	Spec    *domain.DeploySpec // Job 注解中的部署意图，缺失或损坏时为 nil
}

// BuildStatusCallback 在 Job 状态变更时被调用。
type BuildStatusCallback func(ctx context.Context, update BuildUpdate)

// BuildExecutor 负责驱动 Kaniko Job 的生命周期。
type BuildExecutor interface {
	// Submit 创建 Kaniko Job 并返回 Job 名称。
	Submit(ctx context.Context, sub *BuildSubmission) (jobName string, err error)
	// Watch 启动 Informer 监听，状态变更时调用 callback。
	Watch(ctx context.Context, callback BuildStatusCallback) error
}

// LogQuerier 查询历史日志（如 Loki）。
type LogQuerier interface {
	QueryJobLogs(ctx context.Context, namespace, jobID string, start, end time.Time, limit int) (string, error)
	QueryAppLogs(ctx context.Context, namespace, appName string, start, end time.Time, limit int) (string, error)
}
