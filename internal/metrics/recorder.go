package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 拦截来源标签取值。
const (
	SourceCache       = "hit"
	SourceNetwork     = "miss"
	SourcePassthrough = "passthrough"
)

// Recorder 记录代理生命周期中的关键计数，实现必须可并发调用且不得 panic。
type Recorder interface {
	// Intercepted 记录一次请求拦截，source 取 SourceCache/SourceNetwork/SourcePassthrough。
	Intercepted(ctx context.Context, source string, err error)
	// Provisioned 记录一次缓存预热的结果。
	Provisioned(ctx context.Context, generation string, err error)
	// Reaped 记录一次旧分区删除的结果。
	Reaped(ctx context.Context, region string, err error)
	// Message 记录一次外部消息，recognized 表示是否为已知指令。
	Message(ctx context.Context, recognized bool)
}

type otelRecorder struct {
	intercepts metric.Int64Counter
	failures   metric.Int64Counter
	provisions metric.Int64Counter
	reaps      metric.Int64Counter
	messages   metric.Int64Counter
}

func newRecorder(meter metric.Meter) (*otelRecorder, error) {
	intercepts, err := meter.Int64Counter(
		"agent.intercept.total",
		metric.WithDescription("Total number of intercepted requests"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"agent.intercept.errors",
		metric.WithDescription("Intercepted requests that could be served neither from cache nor network"),
	)
	if err != nil {
		return nil, err
	}

	provisions, err := meter.Int64Counter(
		"agent.provision.total",
		metric.WithDescription("Cache provisioning attempts by result"),
	)
	if err != nil {
		return nil, err
	}

	reaps, err := meter.Int64Counter(
		"agent.reap.total",
		metric.WithDescription("Stale region deletions by result"),
	)
	if err != nil {
		return nil, err
	}

	messages, err := meter.Int64Counter(
		"agent.message.total",
		metric.WithDescription("External messages received by the agent"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		intercepts: intercepts,
		failures:   failures,
		provisions: provisions,
		reaps:      reaps,
		messages:   messages,
	}, nil
}

func (r *otelRecorder) Intercepted(ctx context.Context, source string, err error) {
	opt := metric.WithAttributes(attribute.String("source", source))
	r.intercepts.Add(ctx, 1, opt)
	if err != nil {
		r.failures.Add(ctx, 1, opt)
	}
}

func (r *otelRecorder) Provisioned(ctx context.Context, generation string, err error) {
	r.provisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("generation", generation),
		attribute.String("result", result(err)),
	))
}

func (r *otelRecorder) Reaped(ctx context.Context, _ string, err error) {
	r.reaps.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result(err))))
}

func (r *otelRecorder) Message(ctx context.Context, recognized bool) {
	r.messages.Add(ctx, 1, metric.WithAttributes(attribute.Bool("recognized", recognized)))
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Noop 返回丢弃所有记录的 Recorder。
func Noop() Recorder {
	return noopRecorder{}
}

type noopRecorder struct{}

func (noopRecorder) Intercepted(context.Context, string, error) {}
func (noopRecorder) Provisioned(context.Context, string, error) {}
func (noopRecorder) Reaped(context.Context, string, error)      {}
func (noopRecorder) Message(context.Context, bool)              {}
