package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
)

// Lister 列出当前图片源里的全部截图
type Lister interface {
	List(ctx context.Context) ([]model.SourceImage, error)
}

// retryLister 列图失败时按指数退避重试
type retryLister struct {
	next      Lister
	attempts  int
	baseDelay time.Duration
	log       *zap.Logger
}

// WithRetry 包一层重试：第 n 次失败后等待 base * 2^(n-1)。最后一次的错误原样返回。
func WithRetry(l Lister, attempts int, baseDelay time.Duration, log *zap.Logger) Lister {
	if attempts <= 1 {
		return l
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &retryLister{next: l, attempts: attempts, baseDelay: baseDelay, log: log}
}

func (r *retryLister) List(ctx context.Context) ([]model.SourceImage, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		items, err := r.next.List(ctx)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}

		delay := retryDelay(r.baseDelay, attempt)
		r.log.Warn("Listing images failed, retry scheduled",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", r.attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("list images after %d attempts: %w", r.attempts, lastErr)
}

// retryDelay base * 2^(n-1)
func retryDelay(base time.Duration, n int) time.Duration {
	delay := base
	for i := 1; i < n; i++ {
		delay *= 2
	}
	return delay
}

// getBody 发 GET 请求并读出 2xx 响应体
func getBody(ctx context.Context, client *http.Client, url string, header http.Header, log *zap.Logger) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Warn("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: status %d: %s", url, resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func logOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
