// Package video implements the video-platform client over its REST API.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/talktime/talktime/internal/config"
	"github.com/talktime/talktime/internal/video/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) domain.Client {
	return &client{
		baseURL: cfg.Video.BaseURL,
		apiKey:  cfg.Video.APIKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("video.client"),
	}
}

var Module = fx.Module("video.client",
	fx.Provide(NewClient),
)

type createCallPayload struct {
	CallType string   `json:"call_type"`
	OrderID  string   `json:"order_id"`
	Members  []string `json:"members"`
}

type createCallResult struct {
	Call struct {
		CID string `json:"cid"`
	} `json:"call"`
}

func (c *client) CreateCall(ctx context.Context, req domain.CreateCallRequest) (domain.CreateCallResponse, error) {
	payload, err := json.Marshal(createCallPayload{
		CallType: req.CallType,
		OrderID:  req.OrderID,
		Members:  []string{req.UserID, req.ExpertID},
	})
	if err != nil {
		return domain.CreateCallResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/video/calls", bytes.NewReader(payload))
	if err != nil {
		return domain.CreateCallResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.CreateCallResponse{}, fmt.Errorf("%w: %v", domain.ErrCallCreateFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("video call create failed", zap.Int("status", resp.StatusCode))
		return domain.CreateCallResponse{}, domain.ErrCallCreateFailed
	}

	var out createCallResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.CreateCallResponse{}, err
	}
	return domain.CreateCallResponse{CallCID: out.Call.CID}, nil
}

func (c *client) EndCall(ctx context.Context, callCID string) error {
	endpoint := fmt.Sprintf("%s/video/calls/%s/end", c.baseURL, url.PathEscape(callCID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCallEndFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ErrCallEndFailed
	}
	return nil
}
