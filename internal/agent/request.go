package agent

import (
	"net/http"
	"net/url"
)

// Request 是被拦截的请求。只有 GET 请求参与缓存查找。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest 解析 rawURL 并构造请求，method 为空时按 GET 处理。
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: method, URL: u, Header: http.Header{}}, nil
}

// CacheKey 返回缓存键：去掉 fragment 的绝对 URL。
func (r *Request) CacheKey() string {
	if r == nil || r.URL == nil {
		return ""
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Cacheable 判断请求是否参与缓存查找。
func (r *Request) Cacheable() bool {
	return r != nil && r.URL != nil && (r.Method == "" || r.Method == http.MethodGet)
}
