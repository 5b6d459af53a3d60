package agent

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// 编译期默认值：缓存代际标签与预热资源列表。
const DefaultGenerationTag = "qr-annonay-escalade-v1"

// DefaultAssets 是未配置资源列表时预热的文件，相对于作用域解析。
var DefaultAssets = []string{
	"index.html",
	"qr.png",
	"manifest.json",
	"icon.png",
}

// Config 描述一个代理实例的代际与资源。
type Config struct {
	// GenerationTag 同时是缓存分区名，为空时使用 DefaultGenerationTag。
	GenerationTag string
	// Assets 为空时使用 DefaultAssets。
	Assets []string
	// Scope 是资源解析的基准 URL，必须是绝对地址。
	Scope *url.URL
	// SkipWaitingOnInstall 为 true 时预热成功后立即请求跳过等待。
	SkipWaitingOnInstall bool
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.GenerationTag) == "" {
		c.GenerationTag = DefaultGenerationTag
	}
	if len(c.Assets) == 0 {
		c.Assets = append([]string(nil), DefaultAssets...)
	}
	return c
}

// ResolveAssets 将资源列表解析为绝对 URL，重复资源视为配置错误。
func (c Config) ResolveAssets() ([]*url.URL, error) {
	c = c.withDefaults()
	if c.Scope == nil || !c.Scope.IsAbs() {
		return nil, errors.New("agent scope must be an absolute URL")
	}

	seen := make(map[string]struct{}, len(c.Assets))
	out := make([]*url.URL, 0, len(c.Assets))
	for _, raw := range c.Assets {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", raw, err)
		}
		if strings.TrimSpace(raw) == "" {
			return nil, errors.New("asset entry is empty")
		}
		abs := c.Scope.ResolveReference(ref)
		abs.Fragment = ""
		abs.RawFragment = ""
		key := abs.String()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate asset %q", key)
		}
		seen[key] = struct{}{}
		out = append(out, abs)
	}
	return out, nil
}
