package ecommerce

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
)

// TaobaoConfig holds the credentials the Taobao feed client signs with
type TaobaoConfig struct {
	// AppKey is the application key from Taobao open platform
	AppKey string
	// AppSecret is the application secret from Taobao open platform
	AppSecret string
	// SessionKey is the seller's access token, supplied already valid
	SessionKey string
	// APIBaseURL is the router endpoint
	APIBaseURL string
	// Timeout bounds one HTTP request
	Timeout time.Duration
}

const (
	// TaobaoProductionAPIURL is the production API endpoint
	TaobaoProductionAPIURL = "https://gw.api.taobao.com/router/rest"
	// TaobaoSandboxAPIURL is the sandbox API endpoint
	TaobaoSandboxAPIURL = "https://gw.api.tbsandbox.com/router/rest"
)

// Errors for Taobao configuration
var (
	ErrTaobaoConfigMissingAppKey     = errors.New("taobao: app key is required")
	ErrTaobaoConfigMissingAppSecret  = errors.New("taobao: app secret is required")
	ErrTaobaoConfigMissingSessionKey = errors.New("taobao: session key is required")
)

// Validate validates the configuration and fills defaults
func (c *TaobaoConfig) Validate() error {
	if c.AppKey == "" {
		return ErrTaobaoConfigMissingAppKey
	}
	if c.AppSecret == "" {
		return ErrTaobaoConfigMissingAppSecret
	}
	if c.SessionKey == "" {
		return ErrTaobaoConfigMissingSessionKey
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = TaobaoProductionAPIURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// Sign generates the request signature.
// Taobao's legacy router requires MD5(secret + sorted key/value pairs + secret).
func (c *TaobaoConfig) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(c.AppSecret)
	for _, k := range keys {
		builder.WriteString(k)
		builder.WriteString(params[k])
	}
	builder.WriteString(c.AppSecret)

	hash := md5.Sum([]byte(builder.String()))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}
