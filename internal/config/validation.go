package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/metrics"
)


// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ClientIdleTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ClientIdleTimeout", "必须大于 0")
	}
	if !slices.Contains(metrics.Exporters, g.MetricsExporter) {
		return newFieldError("Global.MetricsExporter", "仅支持 "+strings.Join(metrics.Exporters, "|"))
	}

	if err := c.Agent.validate(); err != nil {
		return err
	}
	return c.Storage.validate()
}

func (a AgentConfig) validate() error {
	switch strings.TrimSpace(a.GenerationTag) {
	case ".", "..":
		return newFieldError("Agent.GenerationTag", "不能为 . 或 ..")
	}
	seen := make(map[string]struct{}, len(a.Assets))
	for _, asset := range a.Assets {
		trimmed := strings.TrimSpace(asset)
		if trimmed == "" {
			return newFieldError("Agent.Assets", "不能包含空条目")
		}
		if _, dup := seen[trimmed]; dup {
			return newFieldError("Agent.Assets", fmt.Sprintf("重复资源: %s", trimmed))
		}
		seen[trimmed] = struct{}{}
	}
	return nil
}

func (s StorageConfig) validate() error {
	d, ok := cache.ResolveDriver(s.Driver)
	if !ok {
		return newFieldError("Storage.Driver", "仅支持 "+strings.Join(cache.DriverNames(), "|"))
	}
	switch d.Name {
	case "fs", "leveldb":
		if strings.TrimSpace(s.Path) == "" {
			return newFieldError("Storage.Path", "不能为空")
		}
	case "redis":
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return newFieldError(sectionField("Storage.Redis", "Addr"), "不能为空")
		}
		if s.Redis.DB < 0 {
			return newFieldError(sectionField("Storage.Redis", "DB"), "不能为负数")
		}
	case "s3":
		if strings.TrimSpace(s.S3.Bucket) == "" {
			return newFieldError(sectionField("Storage.S3", "Bucket"), "不能为空")
		}
		if (s.S3.AccessKey == "") != (s.S3.SecretKey == "") {
			return newFieldError(sectionField("Storage.S3", "AccessKey/SecretKey"), "必须同时提供或同时留空")
		}
		if s.S3.Endpoint != "" {
			if err := validateOrigin(s.S3.Endpoint); err != nil {
				return fmt.Errorf("%s: %w", sectionField("Storage.S3", "Endpoint"), err)
			}
		}
	}
	return nil
}

func validateOrigin(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
