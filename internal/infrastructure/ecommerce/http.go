package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/erp/reconciler/internal/domain/shared"
)

// maxResponseSize caps how much of a platform response is read
const maxResponseSize = 10 * 1024 * 1024

// Errors returned by the feed clients. Transient failures wrap
// shared.ErrTransientIntegration instead.
var (
	ErrPlatformRequestFailed   = errors.New("ecommerce: platform request failed")
	ErrPlatformInvalidResponse = errors.New("ecommerce: invalid platform response")
)

// doRequest sends req and returns the body. Network failures, HTTP 429 and
// HTTP 5xx are transient; other 4xx responses are permanent.
func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrTransientIntegration, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", shared.ErrTransientIntegration, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", shared.ErrTransientIntegration, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: HTTP %d", ErrPlatformRequestFailed, resp.StatusCode)
	}
	return body, nil
}

// IsTransient reports whether a feed error is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, shared.ErrTransientIntegration)
}
