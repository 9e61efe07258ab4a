// Package consumer 消费团购生命周期事件并下发用户通知。
// 通知是尽力而为的：解析失败记日志后吞掉，不让坏消息卡住分区。
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	groupdomain "github.com/wyfcoding/groupbuy/internal/group/domain"
	orderdomain "github.com/wyfcoding/groupbuy/internal/order/domain"
)

type NotificationHandler struct {
	logger *slog.Logger
}

func NewNotificationHandler(logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{logger: logger}
}

func (h *NotificationHandler) Handle(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case orderdomain.TopicOrderPaid:
		var event orderdomain.OrderPaidEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			h.logger.ErrorContext(ctx, "failed to unmarshal order paid event", "error", err)
			return nil
		}
		h.logger.InfoContext(ctx, "notify: order paid",
			"user_id", event.UserID, "order_id", event.OrderID,
			"lot_id", event.LotID, "amount", event.Amount)
	case groupdomain.TopicGroupSettled:
		var event groupdomain.GroupSettledEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			h.logger.ErrorContext(ctx, "failed to unmarshal group settled event", "error", err)
			return nil
		}
		h.logger.InfoContext(ctx, "notify: group settled",
			"group_id", event.GroupID, "lot_id", event.LotID,
			"seller_id", event.SellerID, "members", event.MemberCount)
	case groupdomain.TopicGroupRefunded:
		var event groupdomain.GroupRefundedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			h.logger.ErrorContext(ctx, "failed to unmarshal group refunded event", "error", err)
			return nil
		}
		h.logger.InfoContext(ctx, "notify: group refunded",
			"group_id", event.GroupID, "lot_id", event.LotID,
			"members", event.MemberCount)
	default:
		h.logger.WarnContext(ctx, "unknown notification topic", "topic", msg.Topic)
	}
	return nil
}
