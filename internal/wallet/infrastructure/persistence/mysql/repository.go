// Package mysql 提供了钱包与账本仓储接口的 MySQL GORM 实现。
// 同一钱包的资金变动通过 "事务 + 钱包行锁" 串行化，账本追加与缓存余额
// 更新落在同一个事务里。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/groupbuy/internal/wallet/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletPO 钱包数据库模型，映射 wallets 表。
type WalletPO struct {
	gorm.Model
	WalletID      string `gorm:"column:wallet_id;type:varchar(32);uniqueIndex;not null;comment:钱包唯一标识"`
	UserID        string `gorm:"column:user_id;type:varchar(32);uniqueIndex;not null;comment:所属用户ID"`
	RealBalance   string `gorm:"column:real_balance;type:decimal(32,18);default:'0';not null;comment:真实余额缓存"`
	CoinBalance   string `gorm:"column:coin_balance;type:decimal(32,18);default:'0';not null;comment:金币余额缓存"`
	FrozenBalance string `gorm:"column:frozen_balance;type:decimal(32,18);default:'0';not null;comment:冻结余额"`
	Status        string `gorm:"column:status;type:varchar(20);default:'NORMAL';not null;comment:钱包状态"`
}

// TableName 指定表名
func (WalletPO) TableName() string {
	return "wallets"
}

// LedgerEntryPO 账本条目数据库模型，映射 wallet_ledger_entries 表。
// (wallet_id, idempotency_key) 唯一索引是幂等扣款的数据库兜底。
type LedgerEntryPO struct {
	gorm.Model
	EntryID        string `gorm:"column:entry_id;type:varchar(32);uniqueIndex;not null;comment:条目唯一标识"`
	WalletID       string `gorm:"column:wallet_id;type:varchar(32);uniqueIndex:idx_wallet_idem,priority:1;not null;comment:所属钱包ID"`
	Amount         string `gorm:"column:amount;type:decimal(32,18);not null;comment:真实余额变动(带符号)"`
	CoinAmount     string `gorm:"column:coin_amount;type:decimal(32,18);default:'0';not null;comment:金币余额变动(带符号)"`
	Kind           string `gorm:"column:kind;type:varchar(20);not null;comment:条目类型"`
	RelatedOrderID string `gorm:"column:related_order_id;type:varchar(32);index;comment:关联订单ID"`
	IdempotencyKey string `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex:idx_wallet_idem,priority:2;not null;comment:幂等键"`
}

// TableName 指定表名
func (LedgerEntryPO) TableName() string {
	return "wallet_ledger_entries"
}

// walletRepositoryImpl 是 domain.WalletRepository 接口的 GORM 实现。
type walletRepositoryImpl struct {
	db *gorm.DB
}

// NewWalletRepository 创建钱包仓储实例
func NewWalletRepository(db *gorm.DB) domain.WalletRepository {
	return &walletRepositoryImpl{db: db}
}

// ExecSerialized 实现钱包级临界区：开事务并对钱包行加排他锁，
// 事务内的仓储调用通过 contextx 透传同一个 tx。
func (r *walletRepositoryImpl) ExecSerialized(ctx context.Context, walletID string, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var po WalletPO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_id = ?", walletID).
			First(&po).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to lock wallet %s: %w", walletID, err)
		}
		return fn(contextx.WithTx(ctx, tx))
	})
}

// Save 实现 domain.WalletRepository.Save
func (r *walletRepositoryImpl) Save(ctx context.Context, wallet *domain.Wallet) error {
	po := &WalletPO{
		Model:         wallet.Model,
		WalletID:      wallet.WalletID,
		UserID:        wallet.UserID,
		RealBalance:   wallet.RealBalance.String(),
		CoinBalance:   wallet.CoinBalance.String(),
		FrozenBalance: wallet.FrozenBalance.String(),
		Status:        string(wallet.Status),
	}

	err := r.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"real_balance", "coin_balance", "frozen_balance", "status"}),
	}).Create(po).Error
	if err != nil {
		logging.Error(ctx, "wallet_repository.save failed", "wallet_id", wallet.WalletID, "error", err)
		return fmt.Errorf("failed to save wallet: %w", err)
	}

	wallet.Model = po.Model
	return nil
}

// Get 实现 domain.WalletRepository.Get
func (r *walletRepositoryImpl) Get(ctx context.Context, walletID string) (*domain.Wallet, error) {
	var po WalletPO
	if err := r.getDB(ctx).WithContext(ctx).Where("wallet_id = ?", walletID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "wallet_repository.get failed", "wallet_id", walletID, "error", err)
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return toWallet(&po), nil
}

// GetByUser 实现 domain.WalletRepository.GetByUser
func (r *walletRepositoryImpl) GetByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	var po WalletPO
	if err := r.getDB(ctx).WithContext(ctx).Where("user_id = ?", userID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "wallet_repository.get_by_user failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get wallet by user: %w", err)
	}
	return toWallet(&po), nil
}

func (r *walletRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

func toWallet(po *WalletPO) *domain.Wallet {
	return &domain.Wallet{
		Model:         po.Model,
		WalletID:      po.WalletID,
		UserID:        po.UserID,
		RealBalance:   mustDecimal(po.RealBalance),
		CoinBalance:   mustDecimal(po.CoinBalance),
		FrozenBalance: mustDecimal(po.FrozenBalance),
		Status:        domain.WalletStatus(po.Status),
	}
}

// ledgerRepositoryImpl 是 domain.LedgerRepository 接口的 GORM 实现。
type ledgerRepositoryImpl struct {
	db *gorm.DB
}

// NewLedgerRepository 创建账本仓储实例
func NewLedgerRepository(db *gorm.DB) domain.LedgerRepository {
	return &ledgerRepositoryImpl{db: db}
}

// Append 实现 domain.LedgerRepository.Append，只插入、不冲突更新。
func (r *ledgerRepositoryImpl) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	po := &LedgerEntryPO{
		EntryID:        entry.EntryID,
		WalletID:       entry.WalletID,
		Amount:         entry.Amount.String(),
		CoinAmount:     entry.CoinAmount.String(),
		Kind:           string(entry.Kind),
		RelatedOrderID: entry.RelatedOrderID,
		IdempotencyKey: entry.IdempotencyKey,
	}
	if err := r.getDB(ctx).WithContext(ctx).Create(po).Error; err != nil {
		logging.Error(ctx, "ledger_repository.append failed", "wallet_id", entry.WalletID, "error", err)
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	entry.CreatedAt = po.CreatedAt
	return nil
}

// FindByIdempotencyKey 实现 domain.LedgerRepository.FindByIdempotencyKey
func (r *ledgerRepositoryImpl) FindByIdempotencyKey(ctx context.Context, walletID, idempotencyKey string) (*domain.LedgerEntry, error) {
	var po LedgerEntryPO
	err := r.getDB(ctx).WithContext(ctx).
		Where("wallet_id = ? AND idempotency_key = ?", walletID, idempotencyKey).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find ledger entry by idempotency key: %w", err)
	}
	return toEntry(&po), nil
}

// FindDebitByOrder 实现 domain.LedgerRepository.FindDebitByOrder
func (r *ledgerRepositoryImpl) FindDebitByOrder(ctx context.Context, walletID, orderID string) (*domain.LedgerEntry, error) {
	var po LedgerEntryPO
	err := r.getDB(ctx).WithContext(ctx).
		Where("wallet_id = ? AND related_order_id = ? AND kind = ?", walletID, orderID, string(domain.EntryKindDebit)).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find debit by order: %w", err)
	}
	return toEntry(&po), nil
}

// ListByWallet 实现 domain.LedgerRepository.ListByWallet
func (r *ledgerRepositoryImpl) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*domain.LedgerEntry, int64, error) {
	var pos []LedgerEntryPO
	var total int64
	db := r.getDB(ctx).WithContext(ctx).Model(&LedgerEntryPO{}).Where("wallet_id = ?", walletID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("created_at desc").Limit(limit).Offset(offset).Find(&pos).Error; err != nil {
		logging.Error(ctx, "ledger_repository.list_by_wallet failed", "wallet_id", walletID, "error", err)
		return nil, 0, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	entries := make([]*domain.LedgerEntry, len(pos))
	for i := range pos {
		entries[i] = toEntry(&pos[i])
	}
	return entries, total, nil
}

// SumByWallet 实现 domain.LedgerRepository.SumByWallet
func (r *ledgerRepositoryImpl) SumByWallet(ctx context.Context, walletID string) (decimal.Decimal, decimal.Decimal, error) {
	var row struct {
		Real string
		Coin string
	}
	err := r.getDB(ctx).WithContext(ctx).Model(&LedgerEntryPO{}).
		Select("COALESCE(SUM(amount), 0) AS `real`, COALESCE(SUM(coin_amount), 0) AS coin").
		Where("wallet_id = ?", walletID).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return mustDecimal(row.Real), mustDecimal(row.Coin), nil
}

func (r *ledgerRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

func toEntry(po *LedgerEntryPO) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		EntryID:        po.EntryID,
		WalletID:       po.WalletID,
		Amount:         mustDecimal(po.Amount),
		CoinAmount:     mustDecimal(po.CoinAmount),
		Kind:           domain.EntryKind(po.Kind),
		RelatedOrderID: po.RelatedOrderID,
		IdempotencyKey: po.IdempotencyKey,
		CreatedAt:      po.CreatedAt,
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
