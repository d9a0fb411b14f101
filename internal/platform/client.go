// Package platform 封装外部课程平台的 HTTP 客户端：幂等的开课/退课、
// 固定调用间隔限速与批量任务的分桶统计。
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"admitHub/internal/apperr"
	"admitHub/internal/config"
)

// Result 表示一次开课调用的结果。
type Result string

const (
	ResultCreated Result = "created" // 200：新建成功
	ResultExisted Result = "existed" // 207：此前已存在
	ResultAnomaly Result = "anomaly" // 其余 2xx：协议异常，只记录不回写
)

// Client 是课程平台客户端。所有调用之间保持固定间隔以遵守限速。
type Client struct {
	baseURL      string
	apiKey       string
	apiSecret    string
	httpClient   *http.Client
	callInterval time.Duration
	logger       *slog.Logger
}

// NewClient 根据配置构造客户端。
func NewClient(cfg config.PlatformConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond},
		callInterval: time.Duration(cfg.CallIntervalMS) * time.Millisecond,
		logger:       logger,
	}
}

type enrollRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Candidate 描述要开课的学员。
type Candidate struct {
	Email     string
	FirstName string
	LastName  string
	Username  string
}

// Enroll 将学员注册到指定课程。平台侧幂等：已存在返回 existed。
func (c *Client) Enroll(ctx context.Context, courseStub string, cand Candidate) (Result, error) {
	return c.post(ctx, courseStub, "register", cand)
}

// Unenroll 将学员从指定课程移除。
func (c *Client) Unenroll(ctx context.Context, courseStub string, cand Candidate) error {
	_, err := c.post(ctx, courseStub, "unenroll", cand)
	return err
}

func (c *Client) post(ctx context.Context, courseStub, action string, cand Candidate) (Result, error) {
	if c.baseURL == "" {
		return "", apperr.New(apperr.KindExternalRejected, "platform base url is not configured")
	}

	body, err := json.Marshal(enrollRequest{
		APIKey:    c.apiKey,
		APISecret: c.apiSecret,
		Email:     cand.Email,
		FirstName: cand.FirstName,
		LastName:  cand.LastName,
		Username:  cand.Username,
	})
	if err != nil {
		return "", fmt.Errorf("marshal platform request: %w", err)
	}

	targetURL := fmt.Sprintf("%s/%s/%s", c.baseURL, courseStub, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build platform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExternalUnavailable, "platform request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return ResultCreated, nil
	case resp.StatusCode == http.StatusMultiStatus:
		return ResultExisted, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Warn("unexpected 2xx from platform",
			slog.Int("status", resp.StatusCode),
			slog.String("url", targetURL),
		)
		return ResultAnomaly, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", apperr.Wrap(apperr.KindExternalUnavailable,
			fmt.Sprintf("platform status %d", resp.StatusCode), readErrorBody(resp.Body))
	default:
		return "", apperr.Wrap(apperr.KindExternalRejected,
			fmt.Sprintf("platform status %d", resp.StatusCode), readErrorBody(resp.Body))
	}
}

func readErrorBody(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, 8*1024))
	if err != nil || len(data) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.TrimSpace(string(data)))
}

// BulkSummary 是批量调用的分桶计数。FailedEmails 记录未成功的学员。
type BulkSummary struct {
	Created      int      `json:"created"`
	Existed      int      `json:"existed"`
	Failed       int      `json:"failed"`
	FailedEmails []string `json:"failed_emails,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// BulkEnroll 依次注册一组学员，累计 {created, existed, failed}，
// 单个失败不会中断批次。调用之间保持固定间隔。
func (c *Client) BulkEnroll(ctx context.Context, courseStub string, cands []Candidate) BulkSummary {
	var summary BulkSummary
	for i, cand := range cands {
		if i > 0 && c.callInterval > 0 {
			select {
			case <-ctx.Done():
				for _, rest := range cands[i:] {
					summary.Failed++
					summary.FailedEmails = append(summary.FailedEmails, rest.Email)
				}
				summary.Errors = append(summary.Errors, ctx.Err().Error())
				return summary
			case <-time.After(c.callInterval):
			}
		}

		result, err := c.Enroll(ctx, courseStub, cand)
		if err != nil {
			summary.Failed++
			summary.FailedEmails = append(summary.FailedEmails, cand.Email)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", cand.Email, err))
			c.logger.Warn("bulk enroll item failed",
				slog.String("email", cand.Email),
				slog.Any("error", err),
			)
			continue
		}
		switch result {
		case ResultCreated:
			summary.Created++
		case ResultExisted:
			summary.Existed++
		}
	}
	return summary
}
