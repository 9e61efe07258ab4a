// Package memory 提供了钱包与账本仓储的内存实现，用于单元测试与本地开发。
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/groupbuy/internal/wallet/domain"
)

// WalletRepository 内存钱包仓储。同一钱包的临界区由逐钱包互斥锁保证。
type WalletRepository struct {
	mu      sync.Mutex
	wallets map[string]*domain.Wallet
	byUser  map[string]string
	locks   map[string]*sync.Mutex
}

// NewWalletRepository 创建内存钱包仓储
func NewWalletRepository() *WalletRepository {
	return &WalletRepository{
		wallets: make(map[string]*domain.Wallet),
		byUser:  make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// ExecSerialized 同一钱包串行，不同钱包并行。
func (r *WalletRepository) ExecSerialized(ctx context.Context, walletID string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	lock, ok := r.locks[walletID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[walletID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

// Save 保存或更新钱包
func (r *WalletRepository) Save(_ context.Context, wallet *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *wallet
	r.wallets[wallet.WalletID] = &cp
	r.byUser[wallet.UserID] = wallet.WalletID
	return nil
}

// Get 获取钱包
func (r *WalletRepository) Get(_ context.Context, walletID string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// GetByUser 按用户获取钱包
func (r *WalletRepository) GetByUser(_ context.Context, userID string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUser[userID]
	if !ok {
		return nil, nil
	}
	cp := *r.wallets[id]
	return &cp, nil
}

// LedgerRepository 内存账本仓储，只追加。
type LedgerRepository struct {
	mu      sync.Mutex
	entries []*domain.LedgerEntry
	byKey   map[string]*domain.LedgerEntry
}

// NewLedgerRepository 创建内存账本仓储
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{byKey: make(map[string]*domain.LedgerEntry)}
}

func idemKey(walletID, key string) string {
	return walletID + "|" + key
}

// Append 追加条目，(walletID, idempotencyKey) 冲突时报错。
func (r *LedgerRepository) Append(_ context.Context, entry *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := idemKey(entry.WalletID, entry.IdempotencyKey)
	if _, exists := r.byKey[k]; exists {
		return fmt.Errorf("duplicate ledger entry for key %s", entry.IdempotencyKey)
	}
	cp := *entry
	r.entries = append(r.entries, &cp)
	r.byKey[k] = &cp
	return nil
}

// FindByIdempotencyKey 按幂等键查找
func (r *LedgerRepository) FindByIdempotencyKey(_ context.Context, walletID, idempotencyKey string) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byKey[idemKey(walletID, idempotencyKey)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

// FindDebitByOrder 查找订单对应的扣款条目
func (r *LedgerRepository) FindDebitByOrder(_ context.Context, walletID, orderID string) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.WalletID == walletID && e.RelatedOrderID == orderID && e.Kind == domain.EntryKindDebit {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// ListByWallet 分页获取流水（插入序倒排）
func (r *LedgerRepository) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]*domain.LedgerEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*domain.LedgerEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].WalletID == walletID {
			all = append(all, r.entries[i])
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*domain.LedgerEntry, 0, end-offset)
	for _, e := range all[offset:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out, total, nil
}

// SumByWallet 汇总钱包全部条目
func (r *LedgerRepository) SumByWallet(_ context.Context, walletID string) (decimal.Decimal, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	real, coin := decimal.Zero, decimal.Zero
	for _, e := range r.entries {
		if e.WalletID == walletID {
			real = real.Add(e.Amount)
			coin = coin.Add(e.CoinAmount)
		}
	}
	return real, coin, nil
}
