package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/statline-hub/statline-hub/internal/config"
	"github.com/statline-hub/statline-hub/internal/logging"
)

// defaultRetryStatuses 是默认可重试的状态码集合；其余 4xx 立即失败。
var defaultRetryStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Options 允许调用方覆盖单次请求的重试行为。
type Options struct {
	// MaxRetries 为 0 时使用配置默认值，负数表示完全禁用重试。
	MaxRetries int
	// RetryStatuses 为空时使用默认集合 {429, 500, 502, 503, 504}。
	RetryStatuses []int
}

// Fetcher 在共享客户端之上叠加有界重试与退避策略。
type Fetcher struct {
	manager *ClientManager
	logger  *logrus.Logger

	maxRetries int
	minWait    time.Duration
	maxWait    time.Duration

	// sleep 可在测试中替换，避免真实等待。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher 基于管理器与重试配置构建执行器。
func NewFetcher(manager *ClientManager, cfg config.ClientConfig, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		manager:    manager,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		minWait:    cfg.RetryMinWait.DurationValue(),
		maxWait:    cfg.RetryMaxWait.DurationValue(),
		sleep:      sleepContext,
	}
}

// Fetch 以默认策略执行单个 GET，失败时重试直至次数耗尽。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	return f.FetchWith(ctx, rawURL, Options{})
}

// FetchWith 执行 GET 请求。可重试状态码退避后重试；其余错误状态立即以
// StatusError 返回；传输层错误按同样的策略重试，耗尽后透传最后一个错误。
func (f *Fetcher) FetchWith(ctx context.Context, rawURL string, opts Options) (*http.Response, error) {
	maxRetries := f.maxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	} else if opts.MaxRetries < 0 {
		maxRetries = 0
	}

	retryable := defaultRetryStatuses
	if len(opts.RetryStatuses) > 0 {
		retryable = make(map[int]struct{}, len(opts.RetryStatuses))
		for _, code := range opts.RetryStatuses {
			retryable[code] = struct{}{}
		}
	}

	client := f.manager.Acquire()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < maxRetries {
				wait := f.backoff(attempt, nil)
				fields := logging.FetchFields("fetch_retry", rawURL, attempt+1)
				fields["wait_ms"] = wait.Milliseconds()
				fields["error"] = err.Error()
				f.logger.WithFields(fields).Warn("请求失败，准备重试")
				if sleepErr := f.sleep(ctx, wait); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			}
			return nil, lastErr
		}

		if _, ok := retryable[resp.StatusCode]; ok && attempt < maxRetries {
			wait := f.backoff(attempt, resp)
			drainBody(resp)
			fields := logging.FetchFields("fetch_retry", rawURL, attempt+1)
			fields["wait_ms"] = wait.Milliseconds()
			fields["status"] = resp.StatusCode
			f.logger.WithFields(fields).Warn("上游返回可重试状态码")
			if sleepErr := f.sleep(ctx, wait); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if resp.StatusCode >= http.StatusBadRequest {
			drainBody(resp)
			return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		}

		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("fetch: retries exhausted")
}

// FetchJSON 获取并解析 JSON 响应体到 v，任何失败都返回 error。
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// TryFetchJSON 与 FetchJSON 相同，但失败只记录日志并返回 false，
// v 保持调用方预填的默认值。用于能容忍缺数的调用点。
func (f *Fetcher) TryFetchJSON(ctx context.Context, rawURL string, v any) bool {
	if err := f.FetchJSON(ctx, rawURL, v); err != nil {
		f.logger.WithFields(logrus.Fields{
			"action": "fetch_json",
			"url":    rawURL,
			"error":  err.Error(),
		}).Error("JSON 获取失败，使用默认值")
		return false
	}
	return true
}

// backoff 计算第 attempt 次（从 0 起）重试前的等待时长：
// 优先采用 Retry-After 头（秒数形式），否则指数退避加最多 25% 抖动，
// 两种路径都以 maxWait 封顶。抖动用于打散并发调用方的重试风暴。
func (f *Fetcher) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if hint := resp.Header.Get("Retry-After"); hint != "" {
			if seconds, err := strconv.ParseFloat(hint, 64); err == nil && seconds >= 0 {
				wait := time.Duration(seconds * float64(time.Second))
				if wait > f.maxWait {
					return f.maxWait
				}
				return wait
			}
		}
	}

	wait := f.minWait << attempt
	if wait <= 0 || wait > f.maxWait {
		return f.maxWait
	}

	jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
	if wait+jitter > f.maxWait {
		return f.maxWait
	}
	return wait + jitter
}

// sleepContext 等待 d，同时响应取消，避免退避期间悬挂。
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

// drainBody 读空并关闭响应体，让底层连接可以被连接池复用。
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
