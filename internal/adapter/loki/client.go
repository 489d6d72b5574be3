package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
)

var _ port.LogQuerier = (*Client)(nil)

const (
	queryRangePath = "/loki/api/v1/query_range"
	maxErrorBody   = 512
)

// Client 查询 Loki 里已经落盘的 Pod 日志，用于 Pod 被回收后的历史回看。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// QueryJobLogs 按 Pod 名前缀匹配构建 Job 的日志（Job controller 生成的 Pod 名为 {jobID}-xxxxx）。
func (c *Client) QueryJobLogs(ctx context.Context, namespace, jobID string, start, end time.Time, limit int) (string, error) {
	selector := fmt.Sprintf(`{namespace=%q, pod=~%q}`, namespace, regexp.QuoteMeta(jobID)+"-.*")
	return c.queryRange(ctx, selector, start, end, limit)
}

func (c *Client) QueryAppLogs(ctx context.Context, namespace, appName string, start, end time.Time, limit int) (string, error) {
	selector := fmt.Sprintf(`{namespace=%q, app=%q}`, namespace, appName)
	return c.queryRange(ctx, selector, start, end, limit)
}

func (c *Client) queryRange(ctx context.Context, selector string, start, end time.Time, limit int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rangeURL(selector, start, end, limit), nil)
	if err != nil {
		return "", fmt.Errorf("loki: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("loki %w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("loki %w: status %d: %s", domain.ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body rangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("loki: decode response: %w", err)
	}
	if body.Status != "success" {
		return "", fmt.Errorf("loki: query status %q", body.Status)
	}
	return joinLines(body.Data.Result), nil
}

func (c *Client) rangeURL(selector string, start, end time.Time, limit int) string {
	q := url.Values{}
	q.Set("query", selector)
	q.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	q.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	q.Set("direction", "forward")
	q.Set("limit", strconv.Itoa(limit))
	return c.baseURL + queryRangePath + "?" + q.Encode()
}

type rangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string        `json:"resultType"`
		Result     []streamValue `json:"result"`
	} `json:"data"`
}

// streamValue 的 Values 为 [[纳秒时间戳, 日志行], ...]
type streamValue struct {
	Values [][]string `json:"values"`
}

type line struct {
	ts   int64
	text string
}

// joinLines 合并多个 stream，按时间戳升序输出，时间戳相同时保持原顺序。
func joinLines(streams []streamValue) string {
	var lines []line
	for _, s := range streams {
		for _, v := range s.Values {
			if len(v) < 2 {
				continue
			}
			ts, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			lines = append(lines, line{ts: ts, text: v[1]})
		}
	}
	slices.SortStableFunc(lines, func(a, b line) int {
		switch {
		case a.ts < b.ts:
			return -1
		case a.ts > b.ts:
			return 1
		}
		return 0
	})

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.text)
		b.WriteByte('\n')
	}
	return b.String()
}
