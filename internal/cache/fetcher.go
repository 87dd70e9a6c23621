package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrInvalidKey 表示 key 不是可抓取的 http/https URL。
var ErrInvalidKey = errors.New("invalid cache key")

// Fetcher 从源站获取 blob。实现不应重试；失败必须以 error 返回，
// 与“成功但正文为空”区分开。
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FetcherFunc 让普通函数满足 Fetcher。
type FetcherFunc func(ctx context.Context, key string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// FetchError 记录源站返回的非 200 状态。
type FetchError struct {
	Key    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.Key, e.Status, http.StatusText(e.Status))
}

// HTTPFetcher 以 GET 请求抓取 key 指向的 URL。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 使用给定 client 构造抓取器；client 为 nil 时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	u, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: url must have http or https scheme: %s", ErrInvalidKey, key)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host: %s", ErrInvalidKey, key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Key: key, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}
