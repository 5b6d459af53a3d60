package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AgentFields 提供生命周期事件日志的公共字段。
func AgentFields(action, agentID, generation string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"agent_id":   agentID,
		"generation": generation,
	}
}

// RequestFields 提供拦截请求日志的公共字段。
func RequestFields(method, url, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":    method,
		"url":       url,
		"source":    source,
		"cache_hit": cacheHit,
	}
}
