package host

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Touch 记录客户端活动；新客户端由当前激活代理控制。空 id 视为匿名客户端，不做跟踪。
func (h *Host) Touch(clientID string) {
	h.touch(clientID)
}

func (h *Host) touch(clientID string) *worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clientID == "" {
		return h.active
	}
	c, ok := h.clients[clientID]
	if !ok {
		c = &client{controller: h.active}
		h.clients[clientID] = c
	}
	c.lastSeen = h.now()
	return c.controller
}

// Release 移除客户端（例如页面关闭），可能触发等待中代理的激活。
func (h *Host) Release(ctx context.Context, clientID string) error {
	h.mu.Lock()
	_, ok := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return h.promoteWaiting(ctx)
}

// Sweep 移除超过 idle 未活动的客户端并返回移除数量。
func (h *Host) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	cutoff := h.now().Add(-idle)

	h.mu.Lock()
	removed := 0
	for id, c := range h.clients {
		if c.lastSeen.Before(cutoff) {
			delete(h.clients, id)
			removed++
		}
	}
	h.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	h.logger.WithFields(logrus.Fields{"action": "sweep", "clients": removed}).Debug("expired idle clients")
	return removed, h.promoteWaiting(ctx)
}

// Controller 返回控制该客户端的代理 id，未受控或未知客户端返回空串。
func (h *Host) Controller(clientID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok || c.controller == nil {
		return ""
	}
	return c.controller.agent.ID()
}
