package cache

import (
	"context"
	"errors"
)

// Region 是绑定到某个分区名的轻量句柄，所有操作都委托给 Store。
type Region struct {
	name  string
	store Store
}

// NewRegion 构造分区句柄，不做存在性检查；驱动的 Open 实现使用它返回结果。
func NewRegion(store Store, name string) *Region {
	return &Region{name: name, store: store}
}

// Name 返回分区名称（即代际标签）。
func (r *Region) Name() string {
	return r.name
}

// Get 读取分区内条目。
func (r *Region) Get(ctx context.Context, key string) (*Response, error) {
	return r.store.Get(ctx, r.name, key)
}

// Put 写入分区内条目，同键覆盖。Set-Cookie 等会话头不会写入。
func (r *Region) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("cache: nil response")
	}
	return r.store.Put(ctx, r.name, key, resp.Shareable())
}

// Entries 返回分区内全部键。
func (r *Region) Entries(ctx context.Context) ([]string, error) {
	return r.store.Entries(ctx, r.name)
}

// Match 在所有分区中按创建顺序查找 key 的精确匹配。
// 分区名只在查找开始时读取一次；若某个分区在查找过程中被并发删除，按未命中处理并继续下一个分区。
func Match(ctx context.Context, store Store, key string) (*Response, string, error) {
	names, err := store.Names(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, name := range names {
		resp, err := store.Get(ctx, name, key)
		switch {
		case err == nil:
			return resp, name, nil
		case IsMiss(err):
			continue
		default:
			return nil, "", err
		}
	}
	return nil, "", ErrNotFound
}
