package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/annonay-escalade/offline-agent/internal/cache"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	Origin            string   `mapstructure:"Origin"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	ClientIdleTimeout Duration `mapstructure:"ClientIdleTimeout"`
	MetricsExporter   string   `mapstructure:"MetricsExporter"`
}

// AgentConfig 描述缓存代际与预热资源。GenerationTag/Assets 留空时使用编译期默认值。
type AgentConfig struct {
	GenerationTag        string   `mapstructure:"GenerationTag"`
	Assets               []string `mapstructure:"Assets"`
	AssetManifest        string   `mapstructure:"AssetManifest"`
	SkipWaitingOnInstall bool     `mapstructure:"SkipWaitingOnInstall"`
}

// RedisConfig 对应 [Storage.Redis]。
type RedisConfig struct {
	Addr     string `mapstructure:"Addr"`
	Password string `mapstructure:"Password"`
	DB       int    `mapstructure:"DB"`
	Prefix   string `mapstructure:"Prefix"`
}

// S3Config 对应 [Storage.S3]。
type S3Config struct {
	Endpoint     string `mapstructure:"Endpoint"`
	Region       string `mapstructure:"Region"`
	Bucket       string `mapstructure:"Bucket"`
	AccessKey    string `mapstructure:"AccessKey"`
	SecretKey    string `mapstructure:"SecretKey"`
	Prefix       string `mapstructure:"Prefix"`
	UsePathStyle bool   `mapstructure:"UsePathStyle"`
}

// StorageConfig 选择缓存驱动及其参数。
type StorageConfig struct {
	Driver string      `mapstructure:"Driver"`
	Path   string      `mapstructure:"Path"`
	Redis  RedisConfig `mapstructure:"Redis"`
	S3     S3Config    `mapstructure:"S3"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Agent   AgentConfig   `mapstructure:"Agent"`
	Storage StorageConfig `mapstructure:"Storage"`
}

// OriginURL 返回以 "/" 结尾的源站基准地址，资源与拦截请求都相对它解析。
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(c.Global.Origin))
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		if u.RawPath != "" {
			u.RawPath += "/"
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// CacheOptions 将存储配置转换为缓存驱动参数。
func (s StorageConfig) CacheOptions() cache.Options {
	return cache.Options{
		Driver: s.Driver,
		Path:   s.Path,
		Redis: cache.RedisOptions{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		},
		S3: cache.S3Options{
			Endpoint:     s.S3.Endpoint,
			Region:       s.S3.Region,
			Bucket:       s.S3.Bucket,
			AccessKey:    s.S3.AccessKey,
			SecretKey:    s.S3.SecretKey,
			Prefix:       s.S3.Prefix,
			UsePathStyle: s.S3.UsePathStyle,
		},
	}
}
