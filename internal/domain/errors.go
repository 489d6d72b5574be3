package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("unavailable")
	ErrAlreadyExists = errors.New("already exists")

	// 404 文案对外可见，保持与 API 约定一致。
	ErrDeploymentNotFound = fmt.Errorf("Deployment %w", ErrNotFound)
	ErrJobNotFound        = fmt.Errorf("Job %w", ErrNotFound)
	ErrPodNotFound        = fmt.Errorf("pod %w", ErrNotFound)
	ErrReleaseNotFound    = fmt.Errorf("release %w", ErrNotFound)

	ErrBuildsDisabled  = fmt.Errorf("%w: builds are not enabled on this server", ErrInvalidInput)
	ErrHistoryDisabled = fmt.Errorf("release history %w: DATABASE_URL not configured", ErrUnavailable)
	ErrLogsDisabled    = fmt.Errorf("log history %w: LOKI_URL not configured", ErrUnavailable)
)

// ConvergenceError 表示三资源收敛中途失败，携带已完成部分的报告。
type ConvergenceError struct {
	JobID  string
	Report *ConvergenceReport
	Err    error
}

func (e *ConvergenceError) Error() string {
	return e.Err.Error()
}

func (e *ConvergenceError) Unwrap() error {
	return e.Err
}
