package ecommerce

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/infrastructure/config"
)

// NewFeedClients builds a feed client for every platform the poller is
// configured for. Credentials are keyed by lower-case platform code.
func NewFeedClients(cfg config.PollerConfig, httpClient *http.Client) ([]intake.FeedClient, error) {
	clients := make([]intake.FeedClient, 0, len(cfg.Platforms))
	for _, name := range cfg.Platforms {
		platform, err := intake.ParsePlatform(name)
		if err != nil {
			return nil, fmt.Errorf("poller platform %q: %w", name, err)
		}
		key := strings.ToLower(string(platform))

		switch platform {
		case intake.PlatformTaobao:
			c, err := NewTaobaoFeedClient(&TaobaoConfig{
				AppKey:     cfg.AppKeys[key],
				AppSecret:  cfg.AppSecrets[key],
				SessionKey: cfg.AccessTokens[key],
				APIBaseURL: cfg.Endpoints[key],
				Timeout:    cfg.RequestTimeout,
			}, httpClient)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		case intake.PlatformDouyin:
			c, err := NewDouyinFeedClient(&DouyinConfig{
				AppKey:      cfg.AppKeys[key],
				AppSecret:   cfg.AppSecrets[key],
				AccessToken: cfg.AccessTokens[key],
				APIBaseURL:  cfg.Endpoints[key],
				Timeout:     cfg.RequestTimeout,
			}, httpClient)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		default:
			return nil, fmt.Errorf("poller platform %s has no feed", platform)
		}
	}
	return clients, nil
}
