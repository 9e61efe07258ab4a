// Package mysql 提供了订单仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/groupbuy/internal/order/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderPO 订单数据库模型，映射 orders 表。
type OrderPO struct {
	gorm.Model
	OrderID          string `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null;comment:订单唯一标识"`
	UserID           string `gorm:"column:user_id;type:varchar(32);index;not null;comment:买家用户ID"`
	LotID            string `gorm:"column:lot_id;type:varchar(32);index:idx_lot_round_status;not null;comment:商品ID"`
	Round            int64  `gorm:"column:round;index:idx_lot_round_status;not null;comment:轮次"`
	Quantity         int64  `gorm:"column:quantity;not null;comment:购买份数"`
	Amount           string `gorm:"column:amount;type:decimal(32,18);not null;comment:订单总额"`
	Status           string `gorm:"column:status;type:varchar(20);index:idx_lot_round_status;default:'CREATED';not null;comment:订单状态"`
	IdempotencyKey   string `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex;not null;comment:幂等键"`
	ReservationToken string `gorm:"column:reservation_token;type:varchar(32);not null;comment:份额预留令牌"`
	PaymentEntryID   string `gorm:"column:payment_entry_id;type:varchar(32);comment:扣款流水号"`
	RefundEntryID    string `gorm:"column:refund_entry_id;type:varchar(32);comment:退款流水号"`
}

// TableName 指定表名
func (OrderPO) TableName() string {
	return "orders"
}

// orderRepositoryImpl 是 domain.OrderRepository 接口的 GORM 实现。
type orderRepositoryImpl struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &orderRepositoryImpl{db: db}
}

// Save 实现 domain.OrderRepository.Save
func (r *orderRepositoryImpl) Save(ctx context.Context, order *domain.Order) error {
	po := toOrderPO(order)
	err := r.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "payment_entry_id", "refund_entry_id"}),
	}).Create(po).Error
	if err != nil {
		logging.Error(ctx, "order_repository.save failed", "order_id", order.OrderID, "error", err)
		return fmt.Errorf("failed to save order: %w", err)
	}
	order.Model = po.Model
	return nil
}

// Get 实现 domain.OrderRepository.Get
func (r *orderRepositoryImpl) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var po OrderPO
	if err := r.getDB(ctx).WithContext(ctx).Where("order_id = ?", orderID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "order_repository.get failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return toOrder(&po), nil
}

// GetByIdempotencyKey 实现 domain.OrderRepository.GetByIdempotencyKey
func (r *orderRepositoryImpl) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var po OrderPO
	if err := r.getDB(ctx).WithContext(ctx).Where("idempotency_key = ?", key).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order by idempotency key: %w", err)
	}
	return toOrder(&po), nil
}

// ListByUser 实现 domain.OrderRepository.ListByUser
func (r *orderRepositoryImpl) ListByUser(ctx context.Context, userID string, page, size int) ([]*domain.Order, int64, error) {
	db := r.getDB(ctx).WithContext(ctx).Model(&OrderPO{}).Where("user_id = ?", userID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var pos []OrderPO
	err := db.Order("created_at desc").
		Limit(size).
		Offset((page - 1) * size).
		Find(&pos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(pos))
	for i := range pos {
		orders = append(orders, toOrder(&pos[i]))
	}
	return orders, total, nil
}

// ListByLotRound 实现 domain.OrderRepository.ListByLotRound
func (r *orderRepositoryImpl) ListByLotRound(ctx context.Context, lotID string, round int64) ([]*domain.Order, error) {
	var pos []OrderPO
	err := r.getDB(ctx).WithContext(ctx).
		Where("lot_id = ? AND round = ?", lotID, round).
		Order("created_at asc").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by lot round: %w", err)
	}
	orders := make([]*domain.Order, 0, len(pos))
	for i := range pos {
		orders = append(orders, toOrder(&pos[i]))
	}
	return orders, nil
}

func (r *orderRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

func toOrderPO(order *domain.Order) *OrderPO {
	return &OrderPO{
		Model:            order.Model,
		OrderID:          order.OrderID,
		UserID:           order.UserID,
		LotID:            order.LotID,
		Round:            order.Round,
		Quantity:         order.Quantity,
		Amount:           order.Amount.String(),
		Status:           string(order.Status),
		IdempotencyKey:   order.IdempotencyKey,
		ReservationToken: order.ReservationToken,
		PaymentEntryID:   order.PaymentEntryID,
		RefundEntryID:    order.RefundEntryID,
	}
}

func toOrder(po *OrderPO) *domain.Order {
	amount, err := decimal.NewFromString(po.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	return &domain.Order{
		Model:            po.Model,
		OrderID:          po.OrderID,
		UserID:           po.UserID,
		LotID:            po.LotID,
		Round:            po.Round,
		Quantity:         po.Quantity,
		Amount:           amount,
		Status:           domain.OrderStatus(po.Status),
		IdempotencyKey:   po.IdempotencyKey,
		ReservationToken: po.ReservationToken,
		PaymentEntryID:   po.PaymentEntryID,
		RefundEntryID:    po.RefundEntryID,
	}
}
