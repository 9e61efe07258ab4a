// Package domain 夺宝商品（Lot）与份额计数的领域模型。
// 份额容量是这里的唯一事实来源：sold_shares 只能经由条件更新的
// Reserve/Release 变动，任何组件都不允许直接改写。
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrLotNotFound 商品不存在。
	ErrLotNotFound = errors.New("lot not found")
	// ErrCapacityExceeded 预留份额会超出总份额，拒绝整笔请求（不做部分预留）。
	ErrCapacityExceeded = errors.New("lot capacity exceeded")
	// ErrReservationNotFound 预留记录不存在。
	ErrReservationNotFound = errors.New("reservation not found")
)

// LotteryMode 开奖模式（由商品目录协作方定义，引擎只透传）
type LotteryMode string

const (
	// LotteryModeCapacity 满员即成团，无额外抽奖环节
	LotteryModeCapacity LotteryMode = "CAPACITY"
	// LotteryModeTimed 到点开奖
	LotteryModeTimed LotteryMode = "TIMED"
)

// Lot 夺宝商品实体
// 除 SoldShares 与 Round 外的字段由商品目录协作方维护，引擎视为只读。
type Lot struct {
	gorm.Model
	// 商品 ID (业务主键)
	LotID string `gorm:"column:lot_id;type:varchar(32);uniqueIndex;not null" json:"lot_id"`
	// 商品标题
	Title string `gorm:"column:title;type:varchar(255);not null" json:"title"`
	// 卖家用户 ID（成团后托管资金释放到该用户钱包）
	SellerID string `gorm:"column:seller_id;type:varchar(32);index;not null" json:"seller_id"`
	// 总份额（本轮上架份数）
	TotalShares int64 `gorm:"column:total_shares;not null" json:"total_shares"`
	// 已售份额，只能由 Reserve/Release 条件更新
	SoldShares int64 `gorm:"column:sold_shares;default:0;not null" json:"sold_shares"`
	// 成团触发份额，<= TotalShares
	MinTriggerShares int64 `gorm:"column:min_trigger_shares;not null" json:"min_trigger_shares"`
	// 单份价格
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:decimal(32,18);not null" json:"unit_price"`
	// 当前轮次，从 1 开始
	Round int64 `gorm:"column:round;default:1;not null" json:"round"`
	// 开奖/到期时间：本轮在该时刻前未触发成团则过期
	LotteryTime time.Time `gorm:"column:lottery_time" json:"lottery_time"`
	// 开奖模式
	LotteryMode LotteryMode `gorm:"column:lottery_mode;type:varchar(20);default:'CAPACITY';not null" json:"lottery_mode"`
}

// Reservation 份额预留记录。
// Token 是补偿（Release）的幂等锚点：同一 Token 释放多次只生效一次。
type Reservation struct {
	gorm.Model
	// 预留令牌 (业务主键)
	Token string `gorm:"column:token;type:varchar(32);uniqueIndex;not null" json:"token"`
	// 商品 ID
	LotID string `gorm:"column:lot_id;type:varchar(32);index;not null" json:"lot_id"`
	// 预留时所属轮次
	Round int64 `gorm:"column:round;not null" json:"round"`
	// 预留份数
	Quantity int64 `gorm:"column:quantity;not null" json:"quantity"`
	// 是否已释放
	Released bool `gorm:"column:released;default:false;not null" json:"released"`
}

// LotRepository 商品仓储接口
type LotRepository interface {
	// Transact 在单个事务内执行 fn：fn 中经由 ctx 发起的商品与预留
	// 写操作要么全部生效要么全部回滚。
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	// Save 保存商品（目录协作方写入，测试与开发态使用）
	Save(ctx context.Context, lot *Lot) error
	// Get 获取商品
	Get(ctx context.Context, lotID string) (*Lot, error)
	// TryReserveShares 条件更新："sold_shares += quantity 仅当结果 <= total_shares"。
	// 返回 false 表示容量不足，一份都不会被占用。
	TryReserveShares(ctx context.Context, lotID string, quantity int64) (bool, error)
	// ReleaseShares 条件回退："sold_shares -= quantity 仅当轮次仍为 round"。
	ReleaseShares(ctx context.Context, lotID string, round, quantity int64) error
	// AdvanceRound 结束本轮：round+1 且 sold_shares 归零。
	AdvanceRound(ctx context.Context, lotID string, fromRound int64) error
}

// ReservationRepository 预留记录仓储接口
type ReservationRepository interface {
	// Save 保存预留记录
	Save(ctx context.Context, r *Reservation) error
	// Get 获取预留记录
	Get(ctx context.Context, token string) (*Reservation, error)
	// MarkReleased 条件置位：released false -> true；已释放返回 false。
	MarkReleased(ctx context.Context, token string) (bool, error)
}
