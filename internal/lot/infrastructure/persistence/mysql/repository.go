// Package mysql 提供了商品与预留仓储接口的 MySQL GORM 实现。
// 超卖防护依赖单条条件 UPDATE 的原子性，不依赖应用层锁。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/groupbuy/internal/lot/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LotPO 商品数据库模型，映射 lots 表。
type LotPO struct {
	gorm.Model
	LotID            string `gorm:"column:lot_id;type:varchar(32);uniqueIndex;not null;comment:商品唯一标识"`
	Title            string `gorm:"column:title;type:varchar(255);not null;comment:商品标题"`
	SellerID         string `gorm:"column:seller_id;type:varchar(32);index;not null;comment:卖家用户ID"`
	TotalShares      int64  `gorm:"column:total_shares;not null;comment:总份额"`
	SoldShares       int64  `gorm:"column:sold_shares;default:0;not null;comment:已售份额"`
	MinTriggerShares int64  `gorm:"column:min_trigger_shares;not null;comment:成团触发份额"`
	UnitPrice        string `gorm:"column:unit_price;type:decimal(32,18);not null;comment:单份价格"`
	Round            int64  `gorm:"column:round;default:1;not null;comment:当前轮次"`
	LotteryTime      *int64 `gorm:"column:lottery_time;comment:开奖时间(Unix秒)"`
	LotteryMode      string `gorm:"column:lottery_mode;type:varchar(20);default:'CAPACITY';not null;comment:开奖模式"`
}

// TableName 指定表名
func (LotPO) TableName() string {
	return "lots"
}

// ReservationPO 预留记录数据库模型，映射 lot_reservations 表。
type ReservationPO struct {
	gorm.Model
	Token    string `gorm:"column:token;type:varchar(32);uniqueIndex;not null;comment:预留令牌"`
	LotID    string `gorm:"column:lot_id;type:varchar(32);index;not null;comment:商品ID"`
	Round    int64  `gorm:"column:round;not null;comment:预留时轮次"`
	Quantity int64  `gorm:"column:quantity;not null;comment:预留份数"`
	Released bool   `gorm:"column:released;default:false;not null;comment:是否已释放"`
}

// TableName 指定表名
func (ReservationPO) TableName() string {
	return "lot_reservations"
}

// lotRepositoryImpl 是 domain.LotRepository 接口的 GORM 实现。
type lotRepositoryImpl struct {
	db *gorm.DB
}

// NewLotRepository 创建商品仓储实例
func NewLotRepository(db *gorm.DB) domain.LotRepository {
	return &lotRepositoryImpl{db: db}
}

// Transact 实现 domain.LotRepository.Transact
// 事务经由 contextx 下发，fn 内的仓储调用自动落在同一事务上。
func (r *lotRepositoryImpl) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.getDB(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// Save 实现 domain.LotRepository.Save
func (r *lotRepositoryImpl) Save(ctx context.Context, lot *domain.Lot) error {
	po := toLotPO(lot)
	err := r.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lot_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "total_shares", "min_trigger_shares", "unit_price", "lottery_time", "lottery_mode"}),
	}).Create(po).Error
	if err != nil {
		logging.Error(ctx, "lot_repository.save failed", "lot_id", lot.LotID, "error", err)
		return fmt.Errorf("failed to save lot: %w", err)
	}
	lot.Model = po.Model
	return nil
}

// Get 实现 domain.LotRepository.Get
func (r *lotRepositoryImpl) Get(ctx context.Context, lotID string) (*domain.Lot, error) {
	var po LotPO
	if err := r.getDB(ctx).WithContext(ctx).Where("lot_id = ?", lotID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "lot_repository.get failed", "lot_id", lotID, "error", err)
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	return toLot(&po), nil
}

// TryReserveShares 单条条件 UPDATE 实现原子预留：
// 影响行数为 0 即容量不足。
func (r *lotRepositoryImpl) TryReserveShares(ctx context.Context, lotID string, quantity int64) (bool, error) {
	result := r.getDB(ctx).WithContext(ctx).Model(&LotPO{}).
		Where("lot_id = ? AND sold_shares + ? <= total_shares", lotID, quantity).
		Update("sold_shares", gorm.Expr("sold_shares + ?", quantity))
	if result.Error != nil {
		logging.Error(ctx, "lot_repository.try_reserve failed", "lot_id", lotID, "error", result.Error)
		return false, fmt.Errorf("failed to reserve shares: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReleaseShares 条件回退计数；轮次已切换时不再回退（新一轮计数与旧预留无关）。
func (r *lotRepositoryImpl) ReleaseShares(ctx context.Context, lotID string, round, quantity int64) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&LotPO{}).
		Where("lot_id = ? AND round = ? AND sold_shares >= ?", lotID, round, quantity).
		Update("sold_shares", gorm.Expr("sold_shares - ?", quantity))
	if result.Error != nil {
		logging.Error(ctx, "lot_repository.release failed", "lot_id", lotID, "error", result.Error)
		return fmt.Errorf("failed to release shares: %w", result.Error)
	}
	return nil
}

// AdvanceRound 实现 domain.LotRepository.AdvanceRound
func (r *lotRepositoryImpl) AdvanceRound(ctx context.Context, lotID string, fromRound int64) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&LotPO{}).
		Where("lot_id = ? AND round = ?", lotID, fromRound).
		Updates(map[string]any{
			"round":       gorm.Expr("round + 1"),
			"sold_shares": 0,
		})
	if result.Error != nil {
		logging.Error(ctx, "lot_repository.advance_round failed", "lot_id", lotID, "error", result.Error)
		return fmt.Errorf("failed to advance round: %w", result.Error)
	}
	return nil
}

func (r *lotRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// reservationRepositoryImpl 是 domain.ReservationRepository 接口的 GORM 实现。
type reservationRepositoryImpl struct {
	db *gorm.DB
}

// NewReservationRepository 创建预留仓储实例
func NewReservationRepository(db *gorm.DB) domain.ReservationRepository {
	return &reservationRepositoryImpl{db: db}
}

// Save 实现 domain.ReservationRepository.Save
func (r *reservationRepositoryImpl) Save(ctx context.Context, reservation *domain.Reservation) error {
	po := &ReservationPO{
		Model:    reservation.Model,
		Token:    reservation.Token,
		LotID:    reservation.LotID,
		Round:    reservation.Round,
		Quantity: reservation.Quantity,
		Released: reservation.Released,
	}
	if err := r.getDB(ctx).WithContext(ctx).Create(po).Error; err != nil {
		logging.Error(ctx, "reservation_repository.save failed", "token", reservation.Token, "error", err)
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	reservation.Model = po.Model
	return nil
}

// Get 实现 domain.ReservationRepository.Get
func (r *reservationRepositoryImpl) Get(ctx context.Context, token string) (*domain.Reservation, error) {
	var po ReservationPO
	if err := r.getDB(ctx).WithContext(ctx).Where("token = ?", token).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &domain.Reservation{
		Model:    po.Model,
		Token:    po.Token,
		LotID:    po.LotID,
		Round:    po.Round,
		Quantity: po.Quantity,
		Released: po.Released,
	}, nil
}

// MarkReleased 条件置位实现 Token 幂等。
func (r *reservationRepositoryImpl) MarkReleased(ctx context.Context, token string) (bool, error) {
	result := r.getDB(ctx).WithContext(ctx).Model(&ReservationPO{}).
		Where("token = ? AND released = ?", token, false).
		Update("released", true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark reservation released: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *reservationRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

func toLotPO(lot *domain.Lot) *LotPO {
	po := &LotPO{
		Model:            lot.Model,
		LotID:            lot.LotID,
		Title:            lot.Title,
		SellerID:         lot.SellerID,
		TotalShares:      lot.TotalShares,
		SoldShares:       lot.SoldShares,
		MinTriggerShares: lot.MinTriggerShares,
		UnitPrice:        lot.UnitPrice.String(),
		Round:            lot.Round,
		LotteryMode:      string(lot.LotteryMode),
	}
	if !lot.LotteryTime.IsZero() {
		ts := lot.LotteryTime.Unix()
		po.LotteryTime = &ts
	}
	return po
}

func toLot(po *LotPO) *domain.Lot {
	price, err := decimal.NewFromString(po.UnitPrice)
	if err != nil {
		price = decimal.Zero
	}
	lot := &domain.Lot{
		Model:            po.Model,
		LotID:            po.LotID,
		Title:            po.Title,
		SellerID:         po.SellerID,
		TotalShares:      po.TotalShares,
		SoldShares:       po.SoldShares,
		MinTriggerShares: po.MinTriggerShares,
		UnitPrice:        price,
		Round:            po.Round,
		LotteryMode:      domain.LotteryMode(po.LotteryMode),
	}
	if po.LotteryTime != nil {
		lot.LotteryTime = time.Unix(*po.LotteryTime, 0)
	}
	return lot
}
