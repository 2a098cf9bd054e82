package ecommerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DouyinConfig holds the credentials the Douyin feed client signs with
type DouyinConfig struct {
	// AppKey is the application key from Douyin open platform
	AppKey string
	// AppSecret is the application secret
	AppSecret string
	// AccessToken is the shop's access token, supplied already valid
	AccessToken string
	// APIBaseURL is the API host
	APIBaseURL string
	// Timeout bounds one HTTP request
	Timeout time.Duration
}

const (
	// DouyinProductionAPIURL is the production API endpoint
	DouyinProductionAPIURL = "https://openapi-fxg.jinritemai.com"
	// DouyinSandboxAPIURL is the sandbox API endpoint
	DouyinSandboxAPIURL = "https://openapi-sandbox.jinritemai.com"
)

// Errors for Douyin configuration
var (
	ErrDouyinConfigMissingAppKey      = errors.New("douyin: app key is required")
	ErrDouyinConfigMissingAppSecret   = errors.New("douyin: app secret is required")
	ErrDouyinConfigMissingAccessToken = errors.New("douyin: access token is required")
)

// Validate validates the configuration and fills defaults
func (c *DouyinConfig) Validate() error {
	if c.AppKey == "" {
		return ErrDouyinConfigMissingAppKey
	}
	if c.AppSecret == "" {
		return ErrDouyinConfigMissingAppSecret
	}
	if c.AccessToken == "" {
		return ErrDouyinConfigMissingAccessToken
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DouyinProductionAPIURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// Sign generates the HMAC-SHA256 signature over
// secret + method + param_json + timestamp + v + secret.
func (c *DouyinConfig) Sign(method, paramJSON, timestamp, v string) string {
	var builder strings.Builder
	builder.WriteString(c.AppSecret)
	builder.WriteString(method)
	builder.WriteString(paramJSON)
	builder.WriteString(timestamp)
	builder.WriteString(v)
	builder.WriteString(c.AppSecret)

	h := hmac.New(sha256.New, []byte(c.AppSecret))
	h.Write([]byte(builder.String()))
	return hex.EncodeToString(h.Sum(nil))
}
