package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxResponseSize はAPIレスポンスボディの最大サイズ（10MB）。
	maxResponseSize = 10 << 20
	userAgent       = "OrderTracker/1.0"
)

// ClientOptions はプラットフォームHTTPクライアントの共通設定。
type ClientOptions struct {
	// Timeout は1リクエストあたりのタイムアウト。
	Timeout time.Duration
	// RateLimit は全プラットフォーム共通の送信レート（req/sec）。0以下の場合は無制限。
	RateLimit float64
}

// apiClient はタイムアウトとレート制限付きのGETクライアント。
// 失敗はすべてErrUnavailableでラップして返す。
type apiClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

func newAPIClient(httpClient *http.Client, limiter *rate.Limiter, timeout time.Duration) *apiClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &apiClient{httpClient: httpClient, limiter: limiter, timeout: timeout}
}

// NewLimiter はClientOptionsからアダプタ間で共有するレートリミッタを生成する。
func NewLimiter(opts ClientOptions) *rate.Limiter {
	if opts.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(opts.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
}

func (c *apiClient) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	return body, nil
}
