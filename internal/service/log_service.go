package service

import (
	"context"
	"io"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
)

const (
	defaultHistoryLimit = 1000
	maxHistoryLimit     = 5000
)

type LogService struct {
	streamer   port.LogStreamer
	logQuerier port.LogQuerier // nil 表示未配置 Loki
	namespace  string
	now        func() time.Time
}

func NewLogService(streamer port.LogStreamer, logQuerier port.LogQuerier, namespace string) *LogService {
	return &LogService{
		streamer:   streamer,
		logQuerier: logQuerier,
		namespace:  namespace,
		now:        time.Now,
	}
}

// Stream 打开 JobID 对应 Pod 的跟随日志流，调用方负责关闭。
func (s *LogService) Stream(ctx context.Context, rawJobID string) (io.ReadCloser, error) {
	id, err := domain.ParseJobID(rawJobID)
	if err != nil {
		return nil, err
	}
	return s.streamer.StreamLogs(ctx, id)
}

// History 从 Loki 查询 JobID 的历史日志：先查构建 Pod，没有再查应用 Pod。
// 时间窗口为 [创建时间 - 1m, 现在]，limit 上限 5000。
func (s *LogService) History(ctx context.Context, rawJobID string, limit int) (string, error) {
	if s.logQuerier == nil {
		return "", domain.ErrLogsDisabled
	}
	id, err := domain.ParseJobID(rawJobID)
	if err != nil {
		return "", err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	start := id.CreatedAt.Add(-1 * time.Minute)
	end := s.now()

	logs, err := s.logQuerier.QueryJobLogs(ctx, s.namespace, rawJobID, start, end, limit)
	if err != nil {
		return "", err
	}
	if logs != "" {
		return logs, nil
	}
	return s.logQuerier.QueryAppLogs(ctx, s.namespace, id.App, start, end, limit)
}
