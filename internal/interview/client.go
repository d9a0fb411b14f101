// Package interview 对接外部视频面试服务：创建面试邀请、解析回调载荷。
package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"admitHub/internal/apperr"
	"admitHub/internal/config"
)

// Client 是视频面试服务客户端。
type Client struct {
	baseURL         string
	templateID      string
	callbackBaseURL string
	httpClient      *http.Client
}

// NewClient 根据配置构造客户端。
func NewClient(cfg config.InterviewConfig) *Client {
	return &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		templateID:      cfg.TemplateID,
		callbackBaseURL: strings.TrimRight(strings.TrimSpace(cfg.CallbackBaseURL), "/"),
		httpClient:      &http.Client{Timeout: 15 * time.Second},
	}
}

// CandidateInfo 是提交给面试服务的候选人信息。
type CandidateInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

type createRequest struct {
	TemplateID  string        `json:"template_id"`
	JobID       string        `json:"job_id"`
	JobCode     string        `json:"job_code"`
	JobTitle    string        `json:"job_title"`
	CallbackURL string        `json:"callback_url"`
	Candidate   CandidateInfo `json:"candidate"`
}

// Invitation 是面试服务返回的邀请。
type Invitation struct {
	InterviewLink  string `json:"interview_link"`
	InterviewToken string `json:"interview_token"`
}

// CreateInterview 为一个申请步骤创建面试邀请。jobCode 标识具体的开班
// 步骤，jobTitle 是展示给候选人的标题；回调地址按外部面试 ID 拼装。
func (c *Client) CreateInterview(ctx context.Context, externalID, jobCode, jobTitle string, cand CandidateInfo) (*Invitation, error) {
	if c.baseURL == "" {
		return nil, apperr.New(apperr.KindExternalRejected, "interview base url is not configured")
	}

	body, err := json.Marshal(createRequest{
		TemplateID:  c.templateID,
		JobID:       externalID,
		JobCode:     jobCode,
		JobTitle:    jobTitle,
		CallbackURL: fmt.Sprintf("%s/webhooks/interview/%s", c.callbackBaseURL, externalID),
		Candidate:   cand,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal interview request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interviews", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build interview request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalUnavailable, "interview service request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var inv Invitation
		if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
			return nil, apperr.Wrap(apperr.KindExternalRejected, "decode interview response", err)
		}
		if inv.InterviewLink == "" {
			return nil, apperr.New(apperr.KindExternalRejected, "interview response is missing invitation link")
		}
		return &inv, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperr.New(apperr.KindExternalUnavailable,
			fmt.Sprintf("interview service status %d", resp.StatusCode))
	default:
		return nil, apperr.New(apperr.KindExternalRejected,
			fmt.Sprintf("interview service status %d", resp.StatusCode))
	}
}

// CallbackPayload 是面试服务回调的请求体。
type CallbackPayload struct {
	Status     string `json:"status"`
	ResultsURL string `json:"results_url,omitempty"`
}
