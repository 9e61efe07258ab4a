// Package application 订单应用服务。
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/groupbuy/internal/order/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// OrderService 订单服务。
// 状态推进方法都是幂等的：目标状态已达成时直接返回成功。
type OrderService struct {
	orders    domain.OrderRepository
	publisher domain.EventPublisher
}

// NewOrderService 创建订单服务
func NewOrderService(orders domain.OrderRepository, publisher domain.EventPublisher) *OrderService {
	return &OrderService{orders: orders, publisher: publisher}
}

// CreateParams 建单参数
type CreateParams struct {
	UserID           string
	LotID            string
	Round            int64
	Quantity         int64
	Amount           decimal.Decimal
	IdempotencyKey   string
	ReservationToken string
}

// Create 创建订单，订单号形如 ORD-<snowflake>。
func (s *OrderService) Create(ctx context.Context, params CreateParams) (*domain.Order, error) {
	order := &domain.Order{
		OrderID:          fmt.Sprintf("ORD-%d", idgen.GenID()),
		UserID:           params.UserID,
		LotID:            params.LotID,
		Round:            params.Round,
		Quantity:         params.Quantity,
		Amount:           params.Amount,
		Status:           domain.StatusCreated,
		IdempotencyKey:   params.IdempotencyKey,
		ReservationToken: params.ReservationToken,
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// MarkPaid 订单转已支付并发布支付事件。
func (s *OrderService) MarkPaid(ctx context.Context, orderID, paymentEntryID string) (*domain.Order, error) {
	order, err := s.mustGet(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.StatusPaid {
		return order, nil
	}
	if err := order.MarkPaid(paymentEntryID); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, err
	}

	event := &domain.OrderPaidEvent{
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		LotID:          order.LotID,
		Round:          order.Round,
		Quantity:       order.Quantity,
		Amount:         order.Amount.String(),
		PaymentEntryID: order.PaymentEntryID,
		OccurredOn:     time.Now(),
	}
	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		logging.Error(ctx, "failed to publish order paid event", "order_id", order.OrderID, "error", err)
	}
	return order, nil
}

// Complete 成团结算后关单。
func (s *OrderService) Complete(ctx context.Context, orderID string) error {
	order, err := s.mustGet(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == domain.StatusCompleted {
		return nil
	}
	if err := order.Complete(); err != nil {
		return err
	}
	return s.orders.Save(ctx, order)
}

// Refund 退款关单，退款流水号来自钱包侧。
func (s *OrderService) Refund(ctx context.Context, orderID, refundEntryID string) error {
	order, err := s.mustGet(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == domain.StatusRefunded {
		return nil
	}
	if err := order.Refund(refundEntryID); err != nil {
		return err
	}
	return s.orders.Save(ctx, order)
}

// Cancel 支付前取消。
func (s *OrderService) Cancel(ctx context.Context, orderID string) error {
	order, err := s.mustGet(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == domain.StatusCancelled {
		return nil
	}
	if err := order.Cancel(); err != nil {
		return err
	}
	return s.orders.Save(ctx, order)
}

// GetOrder 获取订单
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.mustGet(ctx, orderID)
}

// GetByIdempotencyKey 按幂等键查订单，未命中返回 nil。
func (s *OrderService) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return s.orders.GetByIdempotencyKey(ctx, key)
}

// ListUserOrders 分页列举用户订单
func (s *OrderService) ListUserOrders(ctx context.Context, userID string, page, size int) ([]*domain.Order, int64, error) {
	return s.orders.ListByUser(ctx, userID, page, size)
}

func (s *OrderService) mustGet(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}
