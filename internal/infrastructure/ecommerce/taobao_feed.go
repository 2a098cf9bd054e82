package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
)

// taobaoTradeFields lists the trade fields requested from the increment API
const taobaoTradeFields = "tid,tid_str,status,created,modified,pay_time,consign_time,end_time,payment," +
	"orders.oid,orders.oid_str,orders.num_iid,orders.sku_id,orders.outer_iid,orders.outer_sku_id," +
	"orders.title,orders.num,orders.price,orders.status,orders.refund_status"

// taobaoTransientCodes are router error codes that clear on retry
// (call limits and platform-side failures).
var taobaoTransientCodes = map[string]bool{
	"7":  true,
	"15": true,
}

// TaobaoFeedClient pulls modified trades through taobao.trades.sold.increment.get
type TaobaoFeedClient struct {
	config     *TaobaoConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewTaobaoFeedClient creates a feed client. httpClient may be nil.
func NewTaobaoFeedClient(config *TaobaoConfig, httpClient *http.Client) (*TaobaoFeedClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &TaobaoFeedClient{config: config, httpClient: httpClient, now: time.Now}, nil
}

// Platform returns the platform code
func (c *TaobaoFeedClient) Platform() intake.PlatformCode {
	return intake.PlatformTaobao
}

// ListModified returns one page (1-based) of trades modified in [from, to)
func (c *TaobaoFeedClient) ListModified(ctx context.Context, from, to time.Time, page, pageSize int) ([]intake.FeedOrder, bool, error) {
	params := map[string]string{
		"method":         "taobao.trades.sold.increment.get",
		"fields":         taobaoTradeFields,
		"start_modified": from.In(chinaStandardTime).Format(taobaoTimeLayout),
		"end_modified":   to.In(chinaStandardTime).Format(taobaoTimeLayout),
		"page_no":        strconv.Itoa(page),
		"page_size":      strconv.Itoa(pageSize),
		"use_has_next":   "true",
	}

	body, err := c.call(ctx, params)
	if err != nil {
		return nil, false, err
	}

	var resp TaobaoTradesIncrementResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrPlatformInvalidResponse, err)
	}
	if !resp.IsSuccess() {
		e := resp.ErrorResponse
		if taobaoTransientCodes[e.Code] || strings.HasPrefix(e.SubCode, "isp.") {
			return nil, false, fmt.Errorf("%w: taobao %s %s", shared.ErrTransientIntegration, e.Code, e.Msg)
		}
		return nil, false, fmt.Errorf("%w: taobao %s - %s", ErrPlatformRequestFailed, e.Code, e.Msg)
	}
	data := resp.TradesSoldIncrementGetResponse
	if data == nil {
		return nil, false, ErrPlatformInvalidResponse
	}

	var orders []intake.FeedOrder
	if data.Trades != nil {
		orders = make([]intake.FeedOrder, 0, len(data.Trades.Trade))
		for _, raw := range data.Trades.Trade {
			var head TaobaoTrade
			if err := json.Unmarshal(raw, &head); err != nil {
				return nil, false, fmt.Errorf("%w: trade: %v", ErrPlatformInvalidResponse, err)
			}
			id := head.TidStr
			if id == "" {
				id = numericID(head.Tid)
			}
			orders = append(orders, intake.FeedOrder{ExternalOrderID: id, Payload: []byte(raw)})
		}
	}
	return orders, data.HasNext, nil
}

func (c *TaobaoFeedClient) call(ctx context.Context, params map[string]string) ([]byte, error) {
	params["app_key"] = c.config.AppKey
	params["session"] = c.config.SessionKey
	params["timestamp"] = c.now().In(chinaStandardTime).Format(taobaoTimeLayout)
	params["format"] = "json"
	params["v"] = "2.0"
	params["sign_method"] = "md5"
	params["sign"] = c.config.Sign(params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIBaseURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("taobao: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doRequest(c.httpClient, req)
}
