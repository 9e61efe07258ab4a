package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind 账本条目类型
type EntryKind string

const (
	// EntryKindDebit 购买扣款
	EntryKindDebit EntryKind = "DEBIT"
	// EntryKindCredit 普通入账（充值等）
	EntryKindCredit EntryKind = "CREDIT"
	// EntryKindRefund 退款，逐笔冲销对应的扣款
	EntryKindRefund EntryKind = "REFUND"
	// EntryKindEscrowRelease 团购成团后托管资金释放给卖家
	EntryKindEscrowRelease EntryKind = "ESCROW_RELEASE"
)

// LedgerEntry 账本条目，只追加、不修改、不删除。
// Amount 与 CoinAmount 均带符号：扣款为负、入账为正，
// 缓存余额恒等于对应字段的全量求和。
type LedgerEntry struct {
	// 条目 ID (业务主键)
	EntryID string `gorm:"column:entry_id;type:varchar(32);uniqueIndex;not null" json:"entry_id"`
	// 所属钱包 ID
	WalletID string `gorm:"column:wallet_id;type:varchar(32);index:idx_wallet_idem,priority:1;not null" json:"wallet_id"`
	// 真实余额变动（带符号）
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null" json:"amount"`
	// 金币余额变动（带符号）
	CoinAmount decimal.Decimal `gorm:"column:coin_amount;type:decimal(32,18);default:0;not null" json:"coin_amount"`
	// 条目类型
	Kind EntryKind `gorm:"column:kind;type:varchar(20);not null" json:"kind"`
	// 关联订单 ID
	RelatedOrderID string `gorm:"column:related_order_id;type:varchar(32);index" json:"related_order_id"`
	// 幂等键，同一钱包下唯一；重复提交返回既有条目而不是再次记账
	IdempotencyKey string `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex:idx_wallet_idem,priority:2;not null" json:"idempotency_key"`
	// 创建时间
	CreatedAt time.Time `gorm:"column:created_at;index;not null" json:"created_at"`
}

// Offset 构造一条与本条目金额正好相反的冲销记录（用于退款）。
func (e *LedgerEntry) Offset(entryID, idempotencyKey string) *LedgerEntry {
	return &LedgerEntry{
		EntryID:        entryID,
		WalletID:       e.WalletID,
		Amount:         e.Amount.Neg(),
		CoinAmount:     e.CoinAmount.Neg(),
		Kind:           EntryKindRefund,
		RelatedOrderID: e.RelatedOrderID,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now(),
	}
}

// LedgerRepository 账本仓储接口。实现只允许追加与查询。
type LedgerRepository interface {
	// Append 追加账本条目
	Append(ctx context.Context, entry *LedgerEntry) error
	// FindByIdempotencyKey 按 (walletID, idempotencyKey) 查找既有条目，不存在返回 nil
	FindByIdempotencyKey(ctx context.Context, walletID, idempotencyKey string) (*LedgerEntry, error)
	// FindDebitByOrder 查找某订单在该钱包上的扣款条目，不存在返回 nil
	FindDebitByOrder(ctx context.Context, walletID, orderID string) (*LedgerEntry, error)
	// ListByWallet 分页获取钱包流水
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*LedgerEntry, int64, error)
	// SumByWallet 汇总钱包全部条目的真实余额与金币余额变动
	SumByWallet(ctx context.Context, walletID string) (real, coin decimal.Decimal, err error)
}
