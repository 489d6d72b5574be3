package domain

import "time"

// ReleaseStatus 是一次部署请求的记录状态。
type ReleaseStatus string

const (
	ReleaseStatusBuilding ReleaseStatus = "building"
	ReleaseStatusDeployed ReleaseStatus = "deployed"
	ReleaseStatusFailed   ReleaseStatus = "failed"
)

// Release 代表一次部署请求的历史快照，仅用于审计与排障，
// 集群中的 Deployment / Service / Ingress 才是事实来源。
type Release struct {
	ID           string            `json:"id"`
	JobID        string            `json:"job_id"`
	AppName      string            `json:"app_name"`
	Image        string            `json:"image_name"`
	Port         int               `json:"port"`
	RegistryAuth string            `json:"registry_auth,omitempty"`
	Domain       string            `json:"domain"`
	GitRepo      string            `json:"git_repo,omitempty"`
	GitRef       string            `json:"git_ref,omitempty"`
	Status       ReleaseStatus     `json:"status"`
	Message      string            `json:"message,omitempty"`
	Resources    []ResourceOutcome `json:"resources,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
