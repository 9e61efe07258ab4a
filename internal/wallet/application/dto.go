package application

import "github.com/wyfcoding/groupbuy/internal/wallet/domain"

// WalletDTO 钱包视图
type WalletDTO struct {
	WalletID      string `json:"wallet_id"`
	UserID        string `json:"user_id"`
	RealBalance   string `json:"real_balance"`
	CoinBalance   string `json:"coin_balance"`
	FrozenBalance string `json:"frozen_balance"`
	Status        string `json:"status"`
}

// LedgerEntryDTO 账本条目视图
type LedgerEntryDTO struct {
	EntryID        string `json:"entry_id"`
	WalletID       string `json:"wallet_id"`
	Amount         string `json:"amount"`
	CoinAmount     string `json:"coin_amount"`
	Kind           string `json:"kind"`
	RelatedOrderID string `json:"related_order_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedAt      int64  `json:"created_at"`
}

func toWalletDTO(w *domain.Wallet) *WalletDTO {
	return &WalletDTO{
		WalletID:      w.WalletID,
		UserID:        w.UserID,
		RealBalance:   w.RealBalance.String(),
		CoinBalance:   w.CoinBalance.String(),
		FrozenBalance: w.FrozenBalance.String(),
		Status:        string(w.Status),
	}
}

func toLedgerEntryDTO(e *domain.LedgerEntry) *LedgerEntryDTO {
	return &LedgerEntryDTO{
		EntryID:        e.EntryID,
		WalletID:       e.WalletID,
		Amount:         e.Amount.String(),
		CoinAmount:     e.CoinAmount.String(),
		Kind:           string(e.Kind),
		RelatedOrderID: e.RelatedOrderID,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt.Unix(),
	}
}
