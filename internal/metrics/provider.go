package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/annonay-escalade/offline-agent"

// Exporters 列出支持的导出器名称。
var Exporters = []string{"none", "stdout", "prometheus"}

// Provider 持有 MeterProvider 与对应的 Recorder，进程退出前需调用 Shutdown。
type Provider struct {
	Recorder

	exporter string
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// New 根据导出器名称创建 Provider；stdout 导出器写入 os.Stdout。
func New(ctx context.Context, exporter string) (*Provider, error) {
	return newProvider(ctx, exporter, os.Stdout)
}

func newProvider(_ context.Context, exporter string, out io.Writer) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(exporter))
	if name == "" {
		name = "none"
	}

	var (
		reader  sdkmetric.Reader
		handler http.Handler
	)
	switch name {
	case "none":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("create stdout metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case "prometheus":
		// 每个 Provider 使用独立 registry，避免重复注册到全局 DefaultRegisterer。
		registry := prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		reader = exp
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", exporter)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := newRecorder(mp.Meter(meterName))
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	return &Provider{
		Recorder: rec,
		exporter: name,
		provider: mp,
		handler:  handler,
	}, nil
}

// Exporter 返回实际使用的导出器名称。
func (p *Provider) Exporter() string {
	return p.exporter
}

// Handler 返回 Prometheus 抓取端点；非 prometheus 导出器时为 nil。
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown 刷新并关闭导出器。
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
