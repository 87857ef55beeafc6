package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-cache/internal/logging"
	"github.com/any-hub/asset-cache/internal/version"
)

// errorBodyLimit 限制失败响应读入内存的字节数。
const errorBodyLimit = 64 * 1024

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
}

// Options 控制默认 HTTP 实现的超时与重试行为，零值字段使用默认值。
type Options struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	UserAgent      string
	Logger         *logrus.Logger

	// Client 非空时直接使用，忽略 Timeout/ConnectTimeout。
	Client *http.Client
}

// NewClient 返回带超时配置的 http.Client，底层 Transport 从共享模板克隆。
func NewClient(opts Options) *http.Client {
	timeout := 10 * time.Second
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	connectTimeout := 10 * time.Second
	if opts.ConnectTimeout > 0 {
		connectTimeout = opts.ConnectTimeout
	}

	transport := defaultTransport.Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// HTTPFetcher 是 NetworkFetcher 的默认实现：GET 请求、自动跟随重定向，
// 仅在连接层失败时按指数退避重试，HTTP 状态失败不重试。
type HTTPFetcher struct {
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	userAgent  string
	logger     *logrus.Entry
}

// NewHTTPFetcher 根据 Options 构建默认传输实现。
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		client = NewClient(opts)
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &HTTPFetcher{
		client:     client,
		maxRetries: maxRetries,
		backoff:    backoff,
		userAgent:  userAgent,
		logger:     logging.WithComponent(opts.Logger, "transport"),
	}
}

// FetchSync 执行同步 GET。返回 error 仅代表传输层失败（重试耗尽后）；
// 非 2xx 响应以 RawResult 形式返回，ErrorBody 含状态码与响应正文。
func (f *HTTPFetcher) FetchSync(ctx context.Context, key string) (*RawResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff << (attempt - 1)
			f.logger.WithFields(logrus.Fields{
				"action":   "fetch_retry",
				"key":      key,
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
			}).WithError(lastErr).Warn("upstream_retry")
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "*/*")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			if !isConnectFailure(err) {
				return nil, err
			}
			continue
		}
		return buildRawResult(key, resp), nil
	}

	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", key, f.maxRetries+1, lastErr)
}

// isConnectFailure 只识别建连失败与连接被重置/拒绝；超时、TLS 与证书错误不重试。
func isConnectFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func buildRawResult(key string, resp *http.Response) *RawResult {
	if resp.StatusCode/100 == 2 {
		return &RawResult{
			StatusCode:  resp.StatusCode,
			Body:        resp.Body,
			ContentType: resp.Header.Get("Content-Type"),
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	resp.Body.Close()

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return &RawResult{
		StatusCode:  resp.StatusCode,
		Body:        http.NoBody,
		ContentType: resp.Header.Get("Content-Type"),
		ErrorBody:   fmt.Sprintf("Unable to fetch %s. Failed with %d\n%s", key, resp.StatusCode, detail),
	}
}

func validateKey(raw string) error {
	if raw == "" {
		return errors.New("resource key required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https 资源: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("资源地址缺少 Host: %s", raw)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
