package host

import "github.com/annonay-escalade/offline-agent/internal/agent"

// AgentStatus 是单个槽位的快照。
type AgentStatus struct {
	ID          string      `json:"id"`
	Generation  string      `json:"generation"`
	State       agent.State `json:"state"`
	Clients     int         `json:"clients"`
	SkipWaiting bool        `json:"skip_waiting,omitempty"`
}

// Status 是宿主槽位与客户端数量的快照。
type Status struct {
	Installing *AgentStatus `json:"installing,omitempty"`
	Waiting    *AgentStatus `json:"waiting,omitempty"`
	Active     *AgentStatus `json:"active,omitempty"`
	Clients    int          `json:"clients"`
}

// Status 返回当前快照。
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		Installing: h.describeLocked(h.installing),
		Waiting:    h.describeLocked(h.waiting),
		Active:     h.describeLocked(h.active),
		Clients:    len(h.clients),
	}
}

// Active 返回当前激活代理，没有时返回 nil。
func (h *Host) Active() *agent.Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return nil
	}
	return h.active.agent
}

func (h *Host) describeLocked(w *worker) *AgentStatus {
	if w == nil {
		return nil
	}
	return &AgentStatus{
		ID:          w.agent.ID(),
		Generation:  w.agent.Generation(),
		State:       w.agent.State(),
		Clients:     h.controlledLocked(w),
		SkipWaiting: w.skipWaiting,
	}
}
