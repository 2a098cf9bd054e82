package ecommerce

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/reconciler/internal/infrastructure/config"
)

func TestNewFeedClients_PollsConfiguredEndpoints(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "https://tb.example.test/router/rest",
		httpmock.NewStringResponder(http.StatusOK, `{"trades_sold_increment_get_response":{"total_results":1,"has_next":false,"trades":{"trade":[
			{"tid":2001,"status":"WAIT_SELLER_SEND_GOODS","modified":"2026-03-01 09:50:00"}
		]}}}`))
	transport.RegisterResponder(http.MethodPost, "https://dy.example.test/order/searchList",
		httpmock.NewStringResponder(http.StatusOK, `{"err_no":0,"message":"success","data":{"total":1,"shop_order_list":[
			{"order_id":"B7","order_status":2,"update_time":1772330000}
		]}}`))

	cfg := config.PollerConfig{
		Platforms:    []string{"TAOBAO", "DOUYIN"},
		Endpoints:    map[string]string{"taobao": "https://tb.example.test/router/rest", "douyin": "https://dy.example.test"},
		AccessTokens: map[string]string{"taobao": "s", "douyin": "t"},
		AppKeys:      map[string]string{"taobao": "k1", "douyin": "k2"},
		AppSecrets:   map[string]string{"taobao": "x1", "douyin": "x2"},
	}
	clients, err := NewFeedClients(cfg, &http.Client{Transport: transport})
	require.NoError(t, err)
	require.Len(t, clients, 2)

	var ids []string
	for _, c := range clients {
		orders, hasNext, err := c.ListModified(context.Background(), fixedNow.Add(-time.Hour), fixedNow, 1, 50)
		require.NoError(t, err)
		assert.False(t, hasNext)
		for _, o := range orders {
			ids = append(ids, o.ExternalOrderID)
		}
	}
	assert.Equal(t, []string{"2001", "B7"}, ids)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestFeedClient_UnmatchedEndpointIsTransient(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.ConnectionFailure)

	client, err := NewDouyinFeedClient(&DouyinConfig{
		AppKey: "k", AppSecret: "s", AccessToken: "t", APIBaseURL: "https://dy.example.test",
	}, &http.Client{Transport: transport})
	require.NoError(t, err)

	_, _, err = client.ListModified(context.Background(), fixedNow.Add(-time.Hour), fixedNow, 1, 50)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
