// Package domain 夺宝订单领域模型。
// 订单的每次资金变动都锚定一条账本流水，状态迁移必须带上对应流水号。
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrOrderNotFound 订单不存在。
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOrderTransition 非法订单状态迁移。
	ErrInvalidOrderTransition = errors.New("invalid order state transition")
	// ErrMissingLedgerAnchor 状态迁移缺少账本流水锚点。
	ErrMissingLedgerAnchor = errors.New("order transition requires a ledger entry reference")
)

// OrderStatus 订单状态
type OrderStatus string

const (
	// StatusCreated 已创建未支付
	StatusCreated OrderStatus = "CREATED"
	// StatusPaid 已支付，资金在托管中
	StatusPaid OrderStatus = "PAID"
	// StatusCompleted 成团结算完成（终态）
	StatusCompleted OrderStatus = "COMPLETED"
	// StatusCancelled 支付前取消（终态）
	StatusCancelled OrderStatus = "CANCELLED"
	// StatusRefunded 已退款（终态）
	StatusRefunded OrderStatus = "REFUNDED"
)

// Order 夺宝订单实体
type Order struct {
	gorm.Model
	// 订单 ID (业务主键)
	OrderID string `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null" json:"order_id"`
	// 买家用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 商品 ID
	LotID string `gorm:"column:lot_id;type:varchar(32);index;not null" json:"lot_id"`
	// 所属轮次
	Round int64 `gorm:"column:round;not null" json:"round"`
	// 购买份数
	Quantity int64 `gorm:"column:quantity;not null" json:"quantity"`
	// 订单总额 = 单价 * 份数
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null" json:"amount"`
	// 订单状态
	Status OrderStatus `gorm:"column:status;type:varchar(20);default:'CREATED';not null" json:"status"`
	// 结算口径幂等键，重放同键请求返回同一订单
	IdempotencyKey string `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex;not null" json:"idempotency_key"`
	// 份额预留令牌
	ReservationToken string `gorm:"column:reservation_token;type:varchar(32);not null" json:"reservation_token"`
	// 扣款流水号，MarkPaid 时写入
	PaymentEntryID string `gorm:"column:payment_entry_id;type:varchar(32)" json:"payment_entry_id"`
	// 退款流水号，退款/取消时写入
	RefundEntryID string `gorm:"column:refund_entry_id;type:varchar(32)" json:"refund_entry_id"`
}

// MarkPaid 标记已支付，要求带扣款流水号。
func (o *Order) MarkPaid(paymentEntryID string) error {
	if o.Status != StatusCreated {
		return ErrInvalidOrderTransition
	}
	if paymentEntryID == "" {
		return ErrMissingLedgerAnchor
	}
	o.Status = StatusPaid
	o.PaymentEntryID = paymentEntryID
	return nil
}

// Complete 成团结算完成，仅 PAID 可达。
func (o *Order) Complete() error {
	if o.Status != StatusPaid {
		return ErrInvalidOrderTransition
	}
	o.Status = StatusCompleted
	return nil
}

// Cancel 支付前取消，仅 CREATED 可达。
func (o *Order) Cancel() error {
	if o.Status != StatusCreated {
		return ErrInvalidOrderTransition
	}
	o.Status = StatusCancelled
	return nil
}

// Refund 退款，仅 PAID 可达，要求带退款流水号。
func (o *Order) Refund(refundEntryID string) error {
	if o.Status != StatusPaid {
		return ErrInvalidOrderTransition
	}
	if refundEntryID == "" {
		return ErrMissingLedgerAnchor
	}
	o.Status = StatusRefunded
	o.RefundEntryID = refundEntryID
	return nil
}

// IsTerminal 是否处于终态
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Save 保存订单
	Save(ctx context.Context, order *Order) error
	// Get 获取订单
	Get(ctx context.Context, orderID string) (*Order, error)
	// GetByIdempotencyKey 按幂等键查订单，结算重放入口
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// ListByUser 分页列举用户订单
	ListByUser(ctx context.Context, userID string, page, size int) ([]*Order, int64, error)
	// ListByLotRound 列举某商品某轮次的订单
	ListByLotRound(ctx context.Context, lotID string, round int64) ([]*Order, error)
}
