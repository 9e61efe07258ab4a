// Package application 钱包服务应用层。
// 所有资金变动都走 "同一临界区内追加账本 + 同步缓存余额" 的路径，
// 幂等键保证重试与至少一次投递的安全。
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/groupbuy/internal/wallet/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// WalletService 钱包应用服务
type WalletService struct {
	wallets domain.WalletRepository
	ledger  domain.LedgerRepository
}

// NewWalletService 创建钱包应用服务
func NewWalletService(wallets domain.WalletRepository, ledger domain.LedgerRepository) *WalletService {
	return &WalletService{wallets: wallets, ledger: ledger}
}

// EnsureWallet 获取用户钱包，不存在则创建（注册即开钱包由外部协作方负责，
// 这里兜底首次触达时的懒创建）。
func (s *WalletService) EnsureWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	wallet, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet = domain.NewWallet(fmt.Sprintf("WAL-%d", idgen.GenID()), userID)
	if err := s.wallets.Save(ctx, wallet); err != nil {
		return nil, err
	}
	logging.Info(ctx, "wallet created", "wallet_id", wallet.WalletID, "user_id", userID)
	return wallet, nil
}

// Debit 扣款。
// 幂等：同一 (walletID, idempotencyKey) 重复调用返回首次生成的条目，不重复扣款。
// 余额检查与账本追加、缓存余额更新在同一个钱包临界区内完成。
func (s *WalletService) Debit(ctx context.Context, walletID string, amount decimal.Decimal, idempotencyKey, relatedOrderID string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry

	err := s.wallets.ExecSerialized(ctx, walletID, func(ctx context.Context) error {
		existing, err := s.ledger.FindByIdempotencyKey(ctx, walletID, idempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		wallet, err := s.mustGetMutable(ctx, walletID)
		if err != nil {
			return err
		}

		real, coin, err := wallet.SplitDebit(amount)
		if err != nil {
			return err
		}

		entry = &domain.LedgerEntry{
			EntryID:        fmt.Sprintf("LGR-%d", idgen.GenID()),
			WalletID:       walletID,
			Amount:         real.Neg(),
			CoinAmount:     coin.Neg(),
			Kind:           domain.EntryKindDebit,
			RelatedOrderID: relatedOrderID,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      time.Now(),
		}
		if err := s.ledger.Append(ctx, entry); err != nil {
			return err
		}
		wallet.Apply(entry)
		return s.wallets.Save(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit 入账（充值、人工调账）。与 Debit 对称且同样幂等。
func (s *WalletService) Credit(ctx context.Context, walletID string, amount decimal.Decimal, idempotencyKey, relatedOrderID string) (*domain.LedgerEntry, error) {
	return s.credit(ctx, walletID, amount, idempotencyKey, relatedOrderID, domain.EntryKindCredit)
}

// ReleaseEscrow 成团结算时向卖家钱包释放托管资金。
func (s *WalletService) ReleaseEscrow(ctx context.Context, walletID string, amount decimal.Decimal, idempotencyKey, relatedOrderID string) (*domain.LedgerEntry, error) {
	return s.credit(ctx, walletID, amount, idempotencyKey, relatedOrderID, domain.EntryKindEscrowRelease)
}

func (s *WalletService) credit(ctx context.Context, walletID string, amount decimal.Decimal, idempotencyKey, relatedOrderID string, kind domain.EntryKind) (*domain.LedgerEntry, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	var entry *domain.LedgerEntry
	err := s.wallets.ExecSerialized(ctx, walletID, func(ctx context.Context) error {
		existing, err := s.ledger.FindByIdempotencyKey(ctx, walletID, idempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		wallet, err := s.mustGetMutable(ctx, walletID)
		if err != nil {
			return err
		}

		entry = &domain.LedgerEntry{
			EntryID:        fmt.Sprintf("LGR-%d", idgen.GenID()),
			WalletID:       walletID,
			Amount:         amount,
			CoinAmount:     decimal.Zero,
			Kind:           kind,
			RelatedOrderID: relatedOrderID,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      time.Now(),
		}
		if err := s.ledger.Append(ctx, entry); err != nil {
			return err
		}
		wallet.Apply(entry)
		return s.wallets.Save(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RefundOrder 按订单冲销原扣款：退款条目与原 DEBIT 金额正好相反，
// 真实余额与金币余额分别原路退回。幂等键通常取 "refund:<orderID>"。
func (s *WalletService) RefundOrder(ctx context.Context, walletID, relatedOrderID, idempotencyKey string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry

	err := s.wallets.ExecSerialized(ctx, walletID, func(ctx context.Context) error {
		existing, err := s.ledger.FindByIdempotencyKey(ctx, walletID, idempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		debit, err := s.ledger.FindDebitByOrder(ctx, walletID, relatedOrderID)
		if err != nil {
			return err
		}
		if debit == nil {
			return fmt.Errorf("order %s on wallet %s: %w", relatedOrderID, walletID, domain.ErrNoDebitToRefund)
		}

		wallet, err := s.mustGetMutable(ctx, walletID)
		if err != nil {
			return err
		}

		entry = debit.Offset(fmt.Sprintf("LGR-%d", idgen.GenID()), idempotencyKey)
		if err := s.ledger.Append(ctx, entry); err != nil {
			return err
		}
		wallet.Apply(entry)
		return s.wallets.Save(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Reconcile 读修复：以账本汇总重算缓存余额。
// 余额为负等无法解释的状态视为账本损坏，冻结钱包并返回 ErrLedgerCorrupted，
// 绝不改写账本历史。
func (s *WalletService) Reconcile(ctx context.Context, walletID string) error {
	return s.wallets.ExecSerialized(ctx, walletID, func(ctx context.Context) error {
		wallet, err := s.wallets.Get(ctx, walletID)
		if err != nil {
			return err
		}
		if wallet == nil {
			return domain.ErrWalletNotFound
		}

		real, coin, err := s.ledger.SumByWallet(ctx, walletID)
		if err != nil {
			return err
		}

		if real.IsNegative() || coin.IsNegative() {
			wallet.Status = domain.WalletStatusHalted
			if saveErr := s.wallets.Save(ctx, wallet); saveErr != nil {
				return saveErr
			}
			logging.Error(ctx, "wallet ledger corrupted, halting mutations",
				"wallet_id", walletID, "ledger_real", real.String(), "ledger_coin", coin.String())
			return domain.ErrLedgerCorrupted
		}

		if !wallet.RealBalance.Equal(real) || !wallet.CoinBalance.Equal(coin) {
			logging.Warn(ctx, "wallet balance drift repaired from ledger",
				"wallet_id", walletID,
				"cached_real", wallet.RealBalance.String(), "ledger_real", real.String(),
				"cached_coin", wallet.CoinBalance.String(), "ledger_coin", coin.String())
			wallet.RealBalance = real
			wallet.CoinBalance = coin
			return s.wallets.Save(ctx, wallet)
		}
		return nil
	})
}

// GetWallet 获取钱包信息
func (s *WalletService) GetWallet(ctx context.Context, walletID string) (*WalletDTO, error) {
	wallet, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}
	return toWalletDTO(wallet), nil
}

// GetWalletByUser 按用户获取钱包信息
func (s *WalletService) GetWalletByUser(ctx context.Context, userID string) (*WalletDTO, error) {
	wallet, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}
	return toWalletDTO(wallet), nil
}

// LedgerHistory 分页查询钱包流水
func (s *WalletService) LedgerHistory(ctx context.Context, walletID string, limit, offset int) ([]*LedgerEntryDTO, int64, error) {
	entries, total, err := s.ledger.ListByWallet(ctx, walletID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]*LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	return dtos, total, nil
}

// mustGetMutable 在临界区内取出钱包并校验可变更状态。
func (s *WalletService) mustGetMutable(ctx context.Context, walletID string) (*domain.Wallet, error) {
	wallet, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}
	if wallet.Status == domain.WalletStatusHalted {
		return nil, domain.ErrWalletHalted
	}
	return wallet, nil
}
