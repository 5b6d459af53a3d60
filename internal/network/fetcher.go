package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/annonay-escalade/offline-agent/internal/agent"
	"github.com/annonay-escalade/offline-agent/internal/cache"
)

// HTTPFetcher 通过 http.Client 执行请求，完整读取响应体后返回快照。
type HTTPFetcher struct {
	client *http.Client
}

// NewFetcher 基于 client 构建 Fetcher，client 为空时使用 NewClient(0)。
func NewFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = NewClient(0)
	}
	return &HTTPFetcher{client: client}
}

// Fetch 实现 agent.Fetcher。非 2xx 响应原样返回，只有传输错误才返回 error。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *agent.Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("network: request url is required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	target := req.CacheKey()
	outbound, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Header != nil {
		CopyHeaders(outbound.Header, req.Header)
		outbound.Header.Del("Host")
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	return &cache.Response{
		URL:    target,
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
	}, nil
}

var _ agent.Fetcher = (*HTTPFetcher)(nil)
