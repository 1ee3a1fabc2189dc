package alerting

import (
	"context"
	"strings"
	"time"

	xerrors "AuraMCP/internal/errors"
	"AuraMCP/internal/events"
	"AuraMCP/internal/tx"
	"AuraMCP/pkg/logger"
)

// Watch 消费生命周期事件并把需要告警的事件转发给调度器。
// 通道关闭或 ctx 取消时返回，适合放在独立协程中运行。
func Watch(ctx context.Context, ch <-chan events.Event, dispatcher Dispatcher) {
	if ch == nil || dispatcher == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			alert, need := toAlert(event)
			if !need {
				continue
			}
			if err := dispatcher.Notify(ctx, alert); err != nil {
				logger.L().Warn("发送告警失败", "type", event.Type, "error", err)
			}
		}
	}
}

// toAlert 判断事件是否需要告警并转换格式。
// 守卫拦截与紧急停止需要告警，正常提交与付费要求不需要。
func toAlert(event events.Event) (Event, bool) {
	switch event.Type {
	case events.TypeGuardViolation, events.TypeEmergencyStop:
		return Event{
			Code:       tx.CodeGuardViolation,
			Message:    "交易被守卫拦截: " + strings.Join(event.TriggeredGuards, ", "),
			Severity:   severityOf(event),
			IntentID:   event.IntentID,
			Guards:     event.TriggeredGuards,
			OccurredAt: time.Unix(event.OccurredAt, 0),
		}, true
	default:
		return Event{}, false
	}
}

// severityOf 紧急停止升级为 critical，普通守卫拦截为 warning。
func severityOf(event events.Event) xerrors.Severity {
	if event.Type == events.TypeEmergencyStop {
		return xerrors.SeverityCritical
	}
	for _, guard := range event.TriggeredGuards {
		if guard == "emergency_stop" {
			return xerrors.SeverityCritical
		}
	}
	return xerrors.SeverityWarning
}
