package agent

import (
	"errors"
	"fmt"
)

// ErrInvalidState 表示事件与当前生命周期状态不匹配。
var ErrInvalidState = errors.New("agent: invalid state transition")

// ProvisionError 描述预热失败：资源拉取失败、状态码非 2xx 或写入缓存失败。
type ProvisionError struct {
	Generation string
	Asset      string
	Status     int
	Err        error
}

func (e *ProvisionError) Error() string {
	switch {
	case e.Asset == "":
		return fmt.Sprintf("provision %s: %v", e.Generation, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("provision %s: asset %s: %v", e.Generation, e.Asset, e.Err)
	default:
		return fmt.Sprintf("provision %s: asset %s: unexpected status %d", e.Generation, e.Asset, e.Status)
	}
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// ServeError 表示请求既未命中缓存，网络请求也失败。
type ServeError struct {
	URL string
	Err error
}

func (e *ServeError) Error() string {
	return fmt.Sprintf("serve %s: %v", e.URL, e.Err)
}

func (e *ServeError) Unwrap() error {
	return e.Err
}
