package domain

// BuildStatus 是 Kaniko 构建 Job 的状态机枚举。
// 状态流转：Pending → Running → (Succeeded | Failed)
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSucceeded || s == BuildStatusFailed
}

// BuildSource 描述构建变体的源码位置。
type BuildSource struct {
	GitRepo    string `json:"git_repo"`
	GitRef     string `json:"git_ref,omitempty"` // branch / tag / commit
	ContextDir string `json:"context_dir,omitempty"`
}
