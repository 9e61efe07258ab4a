// Package domain 钱包服务的领域模型。
// 账本（Ledger）是余额的唯一事实来源，钱包上的余额字段只是由账本推导出的缓存投影。
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrWalletNotFound 钱包不存在。
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInsufficientFunds 可用余额（真实余额 + 金币余额）不足以完成扣款。
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLedgerCorrupted 缓存余额与账本汇总不一致且无法自动修复，
	// 该钱包的一切资金变动被冻结，等待人工对账。
	ErrLedgerCorrupted = errors.New("wallet ledger corrupted, mutations halted")
	// ErrWalletHalted 钱包处于冻结对账状态，拒绝资金变动。
	ErrWalletHalted = errors.New("wallet halted pending manual reconciliation")
	// ErrNoDebitToRefund 退款目标订单在该钱包上没有对应的扣款记录。
	ErrNoDebitToRefund = errors.New("no debit found to refund")
)

// WalletStatus 钱包状态
type WalletStatus string

const (
	// WalletStatusNormal 正常可用。
	WalletStatusNormal WalletStatus = "NORMAL"
	// WalletStatusHalted 账本对不平，停止一切资金变动直至人工处理。
	WalletStatusHalted WalletStatus = "HALTED"
)

// Wallet 钱包实体
// 余额字段是账本的缓存投影，只能经由账本追加操作同步变更，任何代码路径
// 都不允许在没有对应账本记录的情况下改写余额。
type Wallet struct {
	gorm.Model
	// 钱包 ID (业务主键)，全局唯一
	WalletID string `gorm:"column:wallet_id;type:varchar(32);uniqueIndex;not null" json:"wallet_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);uniqueIndex;not null" json:"user_id"`
	// 真实余额（充值货币）
	RealBalance decimal.Decimal `gorm:"column:real_balance;type:decimal(32,18);default:0;not null" json:"real_balance"`
	// 金币余额（平台赠送货币，扣款时排在真实余额之后）
	CoinBalance decimal.Decimal `gorm:"column:coin_balance;type:decimal(32,18);default:0;not null" json:"coin_balance"`
	// 冻结余额
	FrozenBalance decimal.Decimal `gorm:"column:frozen_balance;type:decimal(32,18);default:0;not null" json:"frozen_balance"`
	// 钱包状态
	Status WalletStatus `gorm:"column:status;type:varchar(20);default:'NORMAL';not null" json:"status"`
}

// NewWallet 创建空钱包
func NewWallet(walletID, userID string) *Wallet {
	return &Wallet{
		WalletID:      walletID,
		UserID:        userID,
		RealBalance:   decimal.Zero,
		CoinBalance:   decimal.Zero,
		FrozenBalance: decimal.Zero,
		Status:        WalletStatusNormal,
	}
}

// Available 当前可用于扣款的总额度。
func (w *Wallet) Available() decimal.Decimal {
	return w.RealBalance.Add(w.CoinBalance)
}

// SplitDebit 按扣款顺序（先真实余额后金币）拆分一笔扣款。
// 余额不足时返回 ErrInsufficientFunds，不做部分扣款。
func (w *Wallet) SplitDebit(amount decimal.Decimal) (real, coin decimal.Decimal, err error) {
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Zero, decimal.Zero, errors.New("debit amount must be positive")
	}
	if w.Available().LessThan(amount) {
		return decimal.Zero, decimal.Zero, ErrInsufficientFunds
	}
	real = decimal.Min(w.RealBalance, amount)
	coin = amount.Sub(real)
	return real, coin, nil
}

// Apply 将一条账本记录的影响同步到缓存余额。
func (w *Wallet) Apply(entry *LedgerEntry) {
	w.RealBalance = w.RealBalance.Add(entry.Amount)
	w.CoinBalance = w.CoinBalance.Add(entry.CoinAmount)
}

// WalletRepository 钱包仓储接口
type WalletRepository interface {
	// Save 保存或更新钱包
	Save(ctx context.Context, wallet *Wallet) error
	// Get 根据钱包 ID 获取钱包
	Get(ctx context.Context, walletID string) (*Wallet, error)
	// GetByUser 根据用户 ID 获取钱包
	GetByUser(ctx context.Context, userID string) (*Wallet, error)
	// ExecSerialized 以钱包为粒度串行执行 fn：同一钱包上的资金变动互斥，
	// 不同钱包完全并行。MySQL 实现基于事务 + 行锁，内存实现基于逐钱包互斥锁。
	ExecSerialized(ctx context.Context, walletID string, fn func(ctx context.Context) error) error
}
