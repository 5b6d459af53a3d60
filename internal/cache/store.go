package cache

import (
	"context"
	"errors"
	"net/http"
)

// Store 负责管理所有缓存分区（region）。分区名即代际标签，分区内以请求标识（绝对 URL）
// 为键保存响应快照。实现需保证单次 Put/Remove 的原子性，除此之外不提供事务语义。
type Store interface {
	// Open 打开指定名称的分区，不存在时创建。
	Open(ctx context.Context, name string) (*Region, error)

	// Names 按创建顺序返回当前所有分区名称。
	Names(ctx context.Context) ([]string, error)

	// Remove 删除整个分区及其全部条目，返回分区删除前是否存在。
	Remove(ctx context.Context, name string) (bool, error)

	// Get 读取分区内的条目。分区不存在返回 ErrRegionNotFound，条目不存在返回 ErrNotFound。
	Get(ctx context.Context, region, key string) (*Response, error)

	// Put 写入（或覆盖）分区内的条目，分区必须事先 Open。
	Put(ctx context.Context, region, key string, resp *Response) error

	// Entries 返回分区内所有条目的键，用于诊断与测试。
	Entries(ctx context.Context, region string) ([]string, error)

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Response 是写入缓存时的响应快照，缓存后不可变，也不记录任何过期元数据。
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// OK 判断状态码是否位于 2xx 区间。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone 深拷贝响应，避免调用方修改缓存中的快照。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		URL:    r.URL,
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return out
}

// sessionHeaders 属于单个客户端会话，共享缓存中不能保存。
var sessionHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// Shareable 返回去掉会话头的副本，写入缓存的快照会被重放给所有客户端。
func (r *Response) Shareable() *Response {
	out := r.Clone()
	if out == nil {
		return nil
	}
	for _, key := range sessionHeaders {
		out.Header.Del(key)
	}
	return out
}

var (
	// ErrNotFound 表示分区内不存在该条目。
	ErrNotFound = errors.New("cache entry not found")
	// ErrRegionNotFound 表示分区不存在（未创建或已被删除）。
	ErrRegionNotFound = errors.New("cache region not found")
	// ErrInvalidName 表示分区名或条目键不可用。
	ErrInvalidName = errors.New("invalid cache region name")
)

// IsMiss 判断错误是否只是未命中（条目或分区不存在）。
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRegionNotFound)
}

func validateRegionName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}
