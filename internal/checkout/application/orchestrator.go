// Package application 结算编排：预留份额、钱包扣款、建单与入团
// 作为一条 Saga 执行，任一步失败按相反顺序补偿。
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	groupapp "github.com/wyfcoding/groupbuy/internal/group/application"
	groupdomain "github.com/wyfcoding/groupbuy/internal/group/domain"
	lotapp "github.com/wyfcoding/groupbuy/internal/lot/application"
	lotdomain "github.com/wyfcoding/groupbuy/internal/lot/domain"
	orderapp "github.com/wyfcoding/groupbuy/internal/order/application"
	orderdomain "github.com/wyfcoding/groupbuy/internal/order/domain"
	walletapp "github.com/wyfcoding/groupbuy/internal/wallet/application"
	walletdomain "github.com/wyfcoding/groupbuy/internal/wallet/domain"
	"github.com/wyfcoding/pkg/logging"
	transaction "github.com/wyfcoding/pkg/saga"
)

// ErrInvalidQuantity 购买份数非法。
var ErrInvalidQuantity = errors.New("checkout quantity must be positive")

// ErrCheckoutFailed 该幂等键对应的结算已失败终结，重放不会复活它。
var ErrCheckoutFailed = errors.New("checkout already failed, retry with a new idempotency key")

// CheckoutParams 结算请求
type CheckoutParams struct {
	UserID         string
	LotID          string
	Quantity       int64
	IdempotencyKey string
}

// Orchestrator 结算编排器。
// 幂等：同一 IdempotencyKey 的重放直接返回首次创建的订单。
type Orchestrator struct {
	shares  *lotapp.ShareCounterService
	wallets *walletapp.WalletService
	orders  *orderapp.OrderService
	groups  *groupapp.GroupService
}

// NewOrchestrator 创建结算编排器
func NewOrchestrator(
	shares *lotapp.ShareCounterService,
	wallets *walletapp.WalletService,
	orders *orderapp.OrderService,
	groups *groupapp.GroupService,
) *Orchestrator {
	return &Orchestrator{shares: shares, wallets: wallets, orders: orders, groups: groups}
}

// Checkout 执行一次购买结算，成功返回已支付订单。
func (o *Orchestrator) Checkout(ctx context.Context, params CheckoutParams) (*orderdomain.Order, error) {
	if params.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if params.IdempotencyKey == "" {
		return nil, fmt.Errorf("checkout idempotency key is required")
	}

	// 重放检测：已支付及之后的订单按成功重放；已取消的结算不会复活；
	// 停在 CREATED 的订单说明上次中断，带着既有订单与预留续跑
	existing, err := o.orders.GetByIdempotencyKey(ctx, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	var resumed *orderdomain.Order
	if existing != nil {
		switch existing.Status {
		case orderdomain.StatusCancelled:
			return nil, ErrCheckoutFailed
		case orderdomain.StatusCreated:
			resumed = existing
			params.LotID = resumed.LotID
			params.Quantity = resumed.Quantity
		default:
			return existing, nil
		}
	}

	lot, err := o.shares.GetLot(ctx, params.LotID)
	if err != nil {
		return nil, err
	}
	if resumed != nil && lot.Round != resumed.Round {
		return nil, o.abandonStaleOrder(ctx, resumed)
	}

	wallet, err := o.wallets.EnsureWallet(ctx, params.UserID)
	if err != nil {
		return nil, err
	}

	state := &checkoutState{
		params:   params,
		lot:      lot,
		walletID: wallet.WalletID,
		amount:   lot.UnitPrice.Mul(decimal.NewFromInt(params.Quantity)),
	}
	if resumed != nil {
		state.order = resumed
		state.amount = resumed.Amount
		state.reservation = &lotdomain.Reservation{
			Token:    resumed.ReservationToken,
			LotID:    resumed.LotID,
			Round:    resumed.Round,
			Quantity: resumed.Quantity,
		}
	}

	saga := transaction.NewCoordinator().
		AddStep(newReserveSharesStep(o.shares, state)).
		AddStep(newCreateOrderStep(o.orders, state)).
		AddStep(newChargeWalletStep(o.wallets, o.orders, state)).
		AddStep(newJoinGroupStep(o.groups, state))

	if err := saga.Execute(ctx); err != nil {
		logging.Warn(ctx, "checkout saga failed",
			"user_id", params.UserID, "lot_id", params.LotID,
			"idempotency_key", params.IdempotencyKey, "error", err)
		return nil, unwrapBusinessError(err)
	}

	return o.orders.GetOrder(ctx, state.order.OrderID)
}

// abandonStaleOrder 清理轮次已推进的残单：旧轮预留的释放由轮次守护
// 自然作废，若上次中断前扣款已落账则原路退回，最后关单并按失败终结。
func (o *Orchestrator) abandonStaleOrder(ctx context.Context, order *orderdomain.Order) error {
	wallet, err := o.wallets.GetWalletByUser(ctx, order.UserID)
	if err != nil {
		return err
	}
	if _, err := o.wallets.RefundOrder(ctx, wallet.WalletID, order.OrderID,
		fmt.Sprintf("refund:%s", order.OrderID)); err != nil && !errors.Is(err, walletdomain.ErrNoDebitToRefund) {
		return err
	}
	if err := o.orders.Cancel(ctx, order.OrderID); err != nil {
		return err
	}
	logging.Warn(ctx, "abandoned stale checkout order",
		"order_id", order.OrderID, "lot_id", order.LotID, "round", order.Round)
	return ErrCheckoutFailed
}

// Cancel 成团前退出：退团、释放份额并原路退款。
// 仅 FORMING 期的团允许退出；重复调用返回既有的已退款订单。
// 中途失败后重试安全：退团、释放与退款各自幂等。
func (o *Orchestrator) Cancel(ctx context.Context, userID, orderID string) (*orderdomain.Order, error) {
	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, orderdomain.ErrOrderNotFound
	}
	if order.Status == orderdomain.StatusRefunded || order.Status == orderdomain.StatusCancelled {
		return order, nil
	}
	if order.Status != orderdomain.StatusPaid {
		return nil, orderdomain.ErrInvalidOrderTransition
	}

	// 上次取消若在退团后中断，成员记录已不存在，直接续走释放与退款
	member, err := o.groups.MemberByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if member != nil {
		if err := o.groups.Leave(ctx, member.GroupID, orderID); err != nil {
			return nil, unwrapBusinessError(err)
		}
	}

	if order.ReservationToken != "" {
		if err := o.shares.Release(ctx, order.ReservationToken); err != nil {
			return nil, err
		}
	}

	wallet, err := o.wallets.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	entry, err := o.wallets.RefundOrder(ctx, wallet.WalletID, orderID, "refund:"+orderID)
	if err != nil {
		return nil, unwrapBusinessError(err)
	}
	if err := o.orders.Refund(ctx, orderID, entry.EntryID); err != nil {
		return nil, err
	}
	return o.orders.GetOrder(ctx, orderID)
}

// 业务侧关心的失败原因，Saga 包装后仍按原因分类。
var businessErrors = []error{
	lotdomain.ErrLotNotFound,
	lotdomain.ErrCapacityExceeded,
	walletdomain.ErrInsufficientFunds,
	walletdomain.ErrWalletHalted,
	groupdomain.ErrGroupNotJoinable,
}

func unwrapBusinessError(err error) error {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return target
		}
	}
	return err
}

// isTransient 判定是否可重试：业务性失败不重试。
func isTransient(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return false
		}
	}
	return !errors.Is(err, walletdomain.ErrWalletNotFound)
}
