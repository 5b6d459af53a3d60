package agent

import (
	"context"
	"encoding/json"

	"github.com/annonay-escalade/offline-agent/internal/logging"
)

// MessageSkipWaiting 是唯一被识别的消息类型。
const MessageSkipWaiting = "SKIP_WAITING"

type message struct {
	Type string `json:"type"`
}

// Message 处理 message 事件：data 为 {"type":"SKIP_WAITING"} 时请求跳过等待，
// 其他任何内容（包括非 JSON）都静默忽略。返回值表示消息是否被识别。
func (a *Agent) Message(ctx context.Context, scope Scope, data []byte) bool {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageSkipWaiting {
		a.metrics.Message(ctx, false)
		return false
	}
	a.metrics.Message(ctx, true)
	a.logger.WithFields(logging.AgentFields("message", a.id, a.cfg.GenerationTag)).
		WithField("type", msg.Type).Info("skip waiting requested")

	if scope != nil {
		if err := scope.SkipWaiting(ctx); err != nil {
			a.logger.WithFields(logging.AgentFields("message", a.id, a.cfg.GenerationTag)).
				WithError(err).Warn("skip waiting request rejected")
		}
	}
	return true
}
