package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PushMessage 推送消息内容
type PushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// SendResult 单个 token 的发送结果
type SendResult struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// multicastRequest 推送网关批量发送请求
type multicastRequest struct {
	Tokens  []string    `json:"tokens"`
	Message PushMessage `json:"message"`
}

// multicastResponse 推送网关批量发送响应
type multicastResponse struct {
	Results []SendResult `json:"results"`
}

// PushClient 推送网关客户端（direct 渠道，一次批量调用返回每个 token 的结果）
type PushClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewPushClient 创建推送网关客户端
func NewPushClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *PushClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &PushClient{
		httpClient: client,
		logger:     logger,
	}
}

// SendMulticast 向一批 token 批量发送，单次调用，不按 token 重试
func (c *PushClient) SendMulticast(ctx context.Context, tokens []string, message PushMessage) ([]SendResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	request := multicastRequest{
		Tokens:  tokens,
		Message: message,
	}

	var response multicastResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/v1/messages:multicast")

	if err != nil {
		return nil, fmt.Errorf("failed to call push gateway: %w", err)
	}

	if resp.IsError() {
		c.logger.Error("Push gateway returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return nil, fmt.Errorf("push gateway error: status %d", resp.StatusCode())
	}

	return response.Results, nil
}
