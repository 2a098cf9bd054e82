package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erp/reconciler/internal/domain/intake"
)

const douyinSearchListMethod = "order.searchList"

// DouyinFeedClient pulls modified orders through order.searchList
type DouyinFeedClient struct {
	config     *DouyinConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewDouyinFeedClient creates a feed client. httpClient may be nil.
func NewDouyinFeedClient(config *DouyinConfig, httpClient *http.Client) (*DouyinFeedClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &DouyinFeedClient{config: config, httpClient: httpClient, now: time.Now}, nil
}

// Platform returns the platform code
func (c *DouyinFeedClient) Platform() intake.PlatformCode {
	return intake.PlatformDouyin
}

// ListModified returns one page (1-based) of orders updated in [from, to)
func (c *DouyinFeedClient) ListModified(ctx context.Context, from, to time.Time, page, pageSize int) ([]intake.FeedOrder, bool, error) {
	params := map[string]any{
		"update_time_start": from.Unix(),
		"update_time_end":   to.Unix(),
		"page":              page - 1, // Douyin pages are 0-indexed
		"size":              pageSize,
		"order_by":          "update_time",
		"order_asc":         true,
	}

	body, err := c.call(ctx, douyinSearchListMethod, params)
	if err != nil {
		return nil, false, err
	}

	var resp DouyinOrderListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrPlatformInvalidResponse, err)
	}
	if !resp.IsSuccess() {
		return nil, false, fmt.Errorf("%w: douyin %d - %s", ErrPlatformRequestFailed, resp.ErrNo, resp.Message)
	}
	if resp.Data == nil {
		return nil, false, ErrPlatformInvalidResponse
	}

	orders := make([]intake.FeedOrder, 0, len(resp.Data.List))
	for _, raw := range resp.Data.List {
		var head DouyinOrder
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, false, fmt.Errorf("%w: order: %v", ErrPlatformInvalidResponse, err)
		}
		orders = append(orders, intake.FeedOrder{ExternalOrderID: head.OrderID, Payload: []byte(raw)})
	}
	hasNext := int64(page*pageSize) < resp.Data.Total
	return orders, hasNext, nil
}

func (c *DouyinFeedClient) call(ctx context.Context, method string, params map[string]any) ([]byte, error) {
	paramJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("douyin: marshal params: %w", err)
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	version := "2"

	requestBody := map[string]any{
		"app_key":      c.config.AppKey,
		"access_token": c.config.AccessToken,
		"method":       method,
		"param_json":   string(paramJSON),
		"timestamp":    timestamp,
		"v":            version,
		"sign":         c.config.Sign(method, string(paramJSON), timestamp, version),
		"sign_method":  "hmac-sha256",
	}
	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("douyin: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.config.APIBaseURL, "/") + "/" + strings.ReplaceAll(method, ".", "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("douyin: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return doRequest(c.httpClient, req)
}
