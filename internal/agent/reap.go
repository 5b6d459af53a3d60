package agent

import (
	"context"
	"sync"

	"github.com/annonay-escalade/offline-agent/internal/logging"
)

// Activate 处理 activate 事件：并发删除名称不等于当前代际的分区，随后接管客户端。
// 单个分区删除失败只记录日志，不会使激活失败；残留分区会在下一次激活时再次尝试删除。
func (a *Agent) Activate(ctx context.Context, scope Scope) error {
	if err := a.transition(StateActivating, StateInstalled); err != nil {
		return err
	}
	tag := a.cfg.GenerationTag
	a.logger.WithFields(logging.AgentFields("activate", a.id, tag)).Info("activating")

	a.reap(ctx)

	a.setState(StateActivated)
	a.logger.WithFields(logging.AgentFields("activate", a.id, tag)).Info("activated successfully")

	if scope != nil {
		if err := scope.Claim(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) reap(ctx context.Context) {
	tag := a.cfg.GenerationTag
	names, err := a.store.Names(ctx)
	if err != nil {
		a.logger.WithFields(logging.AgentFields("reap", a.id, tag)).
			WithError(err).Warn("list cache regions failed")
		return
	}

	var wg sync.WaitGroup
	for _, name := range names {
		if name == tag {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fields := logging.AgentFields("reap", a.id, tag)
			fields["region"] = name
			a.logger.WithFields(fields).Info("clearing old cache")

			_, err := a.store.Remove(ctx, name)
			a.metrics.Reaped(ctx, name, err)
			if err != nil {
				a.logger.WithFields(fields).WithError(err).Warn("clear old cache failed")
			}
		}()
	}
	wg.Wait()
}
