package domain

import "time"

// JobStatus 由每次查询时的实时计数推断，没有显式的状态转移表。
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

const (
	PhaseDeploying = "Deploying"
	PhaseDeployed  = "Deployed"
	PhaseFailed    = "Failed"

	// 构建 Job 的阶段
	PhasePending   = "Pending"
	PhaseRunning   = "Running"
	PhaseSucceeded = "Succeeded"
)

// ResourceStatus 是从单个集群对象（Deployment 或 Job）推断出的状态。
type ResourceStatus struct {
	Status  JobStatus
	Phase   string
	Message string
}

// JobState 是 GET /status/{jobId} 的响应。
type JobState struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
