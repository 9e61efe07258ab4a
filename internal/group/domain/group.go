// Package domain 拼团（Group）状态机领域模型。
// 状态迁移全部经由 TransitionTo 收口，非法迁移一律拒绝。
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrGroupNotFound 团不存在。
	ErrGroupNotFound = errors.New("group not found")
	// ErrInvalidStateTransition 非法状态迁移。
	ErrInvalidStateTransition = errors.New("invalid group state transition")
	// ErrGroupNotJoinable 团已不可加入（非 FORMING）。
	ErrGroupNotJoinable = errors.New("group is not joinable")
	// ErrMemberNotFound 成员不存在。
	ErrMemberNotFound = errors.New("group member not found")
)

// GroupStatus 团状态
type GroupStatus string

const (
	// StatusForming 组团中，可加入可退出
	StatusForming GroupStatus = "FORMING"
	// StatusFulfilling 已触发成团，等待结算
	StatusFulfilling GroupStatus = "FULFILLING"
	// StatusExpired 到期未触发，等待退款
	StatusExpired GroupStatus = "EXPIRED"
	// StatusSettled 结算完成（终态）
	StatusSettled GroupStatus = "SETTLED"
	// StatusSettlementFailed 结算失败，留待人工介入（终态）
	StatusSettlementFailed GroupStatus = "SETTLEMENT_FAILED"
	// StatusRefunded 退款完成（终态）
	StatusRefunded GroupStatus = "REFUNDED"
)

// transitions 合法迁移表，未列出的组合一律非法。
var transitions = map[GroupStatus][]GroupStatus{
	StatusForming:    {StatusFulfilling, StatusExpired},
	StatusFulfilling: {StatusSettled, StatusSettlementFailed},
	StatusExpired:    {StatusRefunded},
}

// Group 拼团聚合根。
// 一个团绑定某商品的某一轮次，同一轮次下最多一个活跃团。
type Group struct {
	gorm.Model
	// 团 ID (业务主键)
	GroupID string `gorm:"column:group_id;type:varchar(32);uniqueIndex;not null" json:"group_id"`
	// 商品 ID
	LotID string `gorm:"column:lot_id;type:varchar(32);index:idx_lot_round;not null" json:"lot_id"`
	// 轮次
	Round int64 `gorm:"column:round;index:idx_lot_round;not null" json:"round"`
	// 当前状态
	Status GroupStatus `gorm:"column:status;type:varchar(20);default:'FORMING';not null" json:"status"`
	// 累计预留份额
	SharesReserved int64 `gorm:"column:shares_reserved;default:0;not null" json:"shares_reserved"`
	// 成团触发份额（建团时从商品快照）
	TriggerShares int64 `gorm:"column:trigger_shares;not null" json:"trigger_shares"`
	// 到期时间：此前未触发成团则过期
	ExpiresAt time.Time `gorm:"column:expires_at;index;not null" json:"expires_at"`
}

// CanTransition 判断迁移是否合法
func (g *Group) CanTransition(to GroupStatus) bool {
	for _, next := range transitions[g.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo 执行状态迁移，非法迁移返回 ErrInvalidStateTransition。
func (g *Group) TransitionTo(to GroupStatus) error {
	if !g.CanTransition(to) {
		return ErrInvalidStateTransition
	}
	g.Status = to
	return nil
}

// IsTerminal 是否处于终态
func (g *Group) IsTerminal() bool {
	return len(transitions[g.Status]) == 0
}

// Triggered 累计份额是否已达成团线
func (g *Group) Triggered() bool {
	return g.SharesReserved >= g.TriggerShares
}

// GroupMember 团成员，一笔已支付订单对应一条成员记录。
type GroupMember struct {
	gorm.Model
	// 所属团 ID
	GroupID string `gorm:"column:group_id;type:varchar(32);index;not null" json:"group_id"`
	// 成员用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 对应订单 ID，同一订单只会出现一次
	OrderID string `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null" json:"order_id"`
	// 持有份数
	Quantity int64 `gorm:"column:quantity;not null" json:"quantity"`
	// 份额预留令牌
	ReservationToken string `gorm:"column:reservation_token;type:varchar(32);not null" json:"reservation_token"`
}

// GroupRepository 拼团仓储接口
type GroupRepository interface {
	// Save 保存团（新建或更新状态/计数）
	Save(ctx context.Context, group *Group) error
	// Get 获取团
	Get(ctx context.Context, groupID string) (*Group, error)
	// GetActiveByLotRound 获取商品某轮次的活跃（FORMING/FULFILLING）团
	GetActiveByLotRound(ctx context.Context, lotID string, round int64) (*Group, error)
	// ListByStatus 按状态列举，结算巡检使用
	ListByStatus(ctx context.Context, status GroupStatus, limit int) ([]*Group, error)
	// ListExpiredForming 列举已过 expires_at 仍在 FORMING 的团
	ListExpiredForming(ctx context.Context, now time.Time, limit int) ([]*Group, error)
	// ExecSerialized 对单个团串行执行 fn，保证加入/触发/过期判定不交错
	ExecSerialized(ctx context.Context, groupID string, fn func(ctx context.Context) error) error
}

// GroupMemberRepository 团成员仓储接口
type GroupMemberRepository interface {
	// Save 保存成员
	Save(ctx context.Context, member *GroupMember) error
	// ListByGroup 列举团成员
	ListByGroup(ctx context.Context, groupID string) ([]*GroupMember, error)
	// GetByOrder 按订单查成员
	GetByOrder(ctx context.Context, orderID string) (*GroupMember, error)
	// Remove 移除成员（FORMING 期退出）
	Remove(ctx context.Context, groupID, orderID string) error
}
