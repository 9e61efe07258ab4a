package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	groupapp "github.com/wyfcoding/groupbuy/internal/group/application"
	lotapp "github.com/wyfcoding/groupbuy/internal/lot/application"
	lotdomain "github.com/wyfcoding/groupbuy/internal/lot/domain"
	orderapp "github.com/wyfcoding/groupbuy/internal/order/application"
	orderdomain "github.com/wyfcoding/groupbuy/internal/order/domain"
	walletapp "github.com/wyfcoding/groupbuy/internal/wallet/application"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/retry"
	transaction "github.com/wyfcoding/pkg/saga"
)

// checkoutState 在各步骤间传递的可变状态。
type checkoutState struct {
	params      CheckoutParams
	lot         *lotdomain.Lot
	walletID    string
	amount      decimal.Decimal
	reservation *lotdomain.Reservation
	order       *orderdomain.Order
	debited     bool
}

// reserveSharesStep 预留份额。补偿释放预留（按 Token 幂等）。
type reserveSharesStep struct {
	transaction.BaseStep
	shares *lotapp.ShareCounterService
	state  *checkoutState
}

func newReserveSharesStep(shares *lotapp.ShareCounterService, state *checkoutState) *reserveSharesStep {
	return &reserveSharesStep{
		BaseStep: transaction.BaseStep{StepName: "reserve_shares"},
		shares:   shares,
		state:    state,
	}
}

func (s *reserveSharesStep) Execute(ctx context.Context) error {
	// 续跑中断的结算时预留已存在，本步只在补偿时负责释放它
	if s.state.reservation != nil {
		return nil
	}
	reservation, err := s.shares.Reserve(ctx, s.state.params.LotID, s.state.params.Quantity)
	if err != nil {
		return err
	}
	s.state.reservation = reservation
	return nil
}

func (s *reserveSharesStep) Compensate(ctx context.Context) error {
	if s.state.reservation == nil {
		return nil
	}
	return s.shares.Release(ctx, s.state.reservation.Token)
}

// createOrderStep 建单。补偿取消订单，已被退款关单时跳过。
type createOrderStep struct {
	transaction.BaseStep
	orders *orderapp.OrderService
	state  *checkoutState
}

func newCreateOrderStep(orders *orderapp.OrderService, state *checkoutState) *createOrderStep {
	return &createOrderStep{
		BaseStep: transaction.BaseStep{StepName: "create_order"},
		orders:   orders,
		state:    state,
	}
}

func (s *createOrderStep) Execute(ctx context.Context) error {
	if s.state.order != nil {
		return nil
	}
	order, err := s.orders.Create(ctx, orderapp.CreateParams{
		UserID:           s.state.params.UserID,
		LotID:            s.state.params.LotID,
		Round:            s.state.reservation.Round,
		Quantity:         s.state.params.Quantity,
		Amount:           s.state.amount,
		IdempotencyKey:   s.state.params.IdempotencyKey,
		ReservationToken: s.state.reservation.Token,
	})
	if err != nil {
		return err
	}
	s.state.order = order
	return nil
}

func (s *createOrderStep) Compensate(ctx context.Context) error {
	if s.state.order == nil {
		return nil
	}
	current, err := s.orders.GetOrder(ctx, s.state.order.OrderID)
	if err != nil {
		return err
	}
	if current.IsTerminal() {
		return nil
	}
	return s.orders.Cancel(ctx, s.state.order.OrderID)
}

// chargeWalletStep 扣款并标记订单已支付。
// 扣款以结算幂等键入账，瞬时故障下重试不会重复扣。
// 补偿先退款再以退款流水关单。
type chargeWalletStep struct {
	transaction.BaseStep
	wallets *walletapp.WalletService
	orders  *orderapp.OrderService
	state   *checkoutState
}

func newChargeWalletStep(wallets *walletapp.WalletService, orders *orderapp.OrderService, state *checkoutState) *chargeWalletStep {
	return &chargeWalletStep{
		BaseStep: transaction.BaseStep{StepName: "charge_wallet"},
		wallets:  wallets,
		orders:   orders,
		state:    state,
	}
}

func (s *chargeWalletStep) Execute(ctx context.Context) error {
	var entryID string
	err := retry.If(ctx, func() error {
		entry, err := s.wallets.Debit(ctx, s.state.walletID, s.state.amount,
			s.state.params.IdempotencyKey, s.state.order.OrderID)
		if err != nil {
			return err
		}
		entryID = entry.EntryID
		return nil
	}, isTransient, retry.DefaultRetryConfig())
	if err != nil {
		return err
	}
	s.state.debited = true

	if _, err := s.orders.MarkPaid(ctx, s.state.order.OrderID, entryID); err != nil {
		// 协调器只补偿此前成功的步骤，本步已落账的扣款必须在返回前就地冲正
		refundErr := retry.If(ctx, func() error {
			_, rerr := s.wallets.RefundOrder(ctx, s.state.walletID, s.state.order.OrderID,
				fmt.Sprintf("refund:%s", s.state.order.OrderID))
			return rerr
		}, isTransient, retry.DefaultRetryConfig())
		if refundErr != nil {
			logging.Error(ctx, "failed to reverse debit after payment anchoring failed",
				"order_id", s.state.order.OrderID, "entry_id", entryID, "error", refundErr)
			return err
		}
		s.state.debited = false
		return err
	}
	return nil
}

func (s *chargeWalletStep) Compensate(ctx context.Context) error {
	if !s.state.debited {
		return nil
	}
	refund, err := s.wallets.RefundOrder(ctx, s.state.walletID, s.state.order.OrderID,
		fmt.Sprintf("refund:%s", s.state.order.OrderID))
	if err != nil {
		return err
	}
	if err := s.orders.Refund(ctx, s.state.order.OrderID, refund.EntryID); err != nil {
		logging.Error(ctx, "failed to close order after refund",
			"order_id", s.state.order.OrderID, "error", err)
		return err
	}
	return nil
}

// joinGroupStep 入团。最后一步，无补偿。
type joinGroupStep struct {
	transaction.BaseStep
	groups *groupapp.GroupService
	state  *checkoutState
}

func newJoinGroupStep(groups *groupapp.GroupService, state *checkoutState) *joinGroupStep {
	return &joinGroupStep{
		BaseStep: transaction.BaseStep{StepName: "join_group"},
		groups:   groups,
		state:    state,
	}
}

func (s *joinGroupStep) Execute(ctx context.Context) error {
	_, err := s.groups.Join(ctx, groupapp.JoinParams{
		LotID:            s.state.lot.LotID,
		Round:            s.state.reservation.Round,
		TriggerShares:    s.state.lot.MinTriggerShares,
		ExpiresAt:        s.state.lot.LotteryTime,
		UserID:           s.state.params.UserID,
		OrderID:          s.state.order.OrderID,
		Quantity:         s.state.params.Quantity,
		ReservationToken: s.state.reservation.Token,
	})
	return err
}

func (s *joinGroupStep) Compensate(ctx context.Context) error {
	return nil
}
