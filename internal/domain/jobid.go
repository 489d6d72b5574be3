package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobID 关联一次部署请求与之后的 status / logs 查询。
// 字符串形式为 {app}-{创建时间毫秒}，解析时只剥离最后一个数字段，
// 因此带连字符的应用名（如 v1-2）也能还原。
type JobID struct {
	App       string
	CreatedAt time.Time
}

func NewJobID(app string, now time.Time) JobID {
	return JobID{App: app, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC()}
}

func (id JobID) String() string {
	return fmt.Sprintf("%s-%d", id.App, id.CreatedAt.UnixMilli())
}

// ParseJobID 还原 JobID。单独的 "v1-2" 仍有歧义，会被解析为 app "v1"、时间戳 2。
func ParseJobID(s string) (JobID, error) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return JobID{}, fmt.Errorf("%w: malformed job id %q", ErrInvalidInput, s)
	}
	digits := s[i+1:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return JobID{}, fmt.Errorf("%w: malformed job id %q", ErrInvalidInput, s)
		}
	}
	ms, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return JobID{}, fmt.Errorf("%w: malformed job id %q", ErrInvalidInput, s)
	}
	return JobID{App: s[:i], CreatedAt: time.UnixMilli(ms).UTC()}, nil
}
