package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	groupapp "github.com/wyfcoding/groupbuy/internal/group/application"
	groupdomain "github.com/wyfcoding/groupbuy/internal/group/domain"
	groupmem "github.com/wyfcoding/groupbuy/internal/group/infrastructure/persistence/memory"
	lotapp "github.com/wyfcoding/groupbuy/internal/lot/application"
	lotdomain "github.com/wyfcoding/groupbuy/internal/lot/domain"
	lotmem "github.com/wyfcoding/groupbuy/internal/lot/infrastructure/persistence/memory"
	orderapp "github.com/wyfcoding/groupbuy/internal/order/application"
	orderdomain "github.com/wyfcoding/groupbuy/internal/order/domain"
	ordermem "github.com/wyfcoding/groupbuy/internal/order/infrastructure/persistence/memory"
	walletapp "github.com/wyfcoding/groupbuy/internal/wallet/application"
	walletdomain "github.com/wyfcoding/groupbuy/internal/wallet/domain"
	walletmem "github.com/wyfcoding/groupbuy/internal/wallet/infrastructure/persistence/memory"
)

type fixture struct {
	orchestrator *Orchestrator
	shares       *lotapp.ShareCounterService
	wallets      *walletapp.WalletService
	orders       *orderapp.OrderService
	groups       *groupapp.GroupService
	lots         *lotmem.LotRepository
	ledger       *walletmem.LedgerRepository
	groupRepo    *groupmem.GroupRepository
}

func newFixture(t *testing.T, totalShares, triggerShares int64) *fixture {
	t.Helper()
	return newFixtureWithOrderRepo(t, totalShares, triggerShares, ordermem.NewOrderRepository())
}

func newFixtureWithOrderRepo(t *testing.T, totalShares, triggerShares int64, orderRepo orderdomain.OrderRepository) *fixture {
	t.Helper()

	lots := lotmem.NewLotRepository()
	shares := lotapp.NewShareCounterService(lots, lotmem.NewReservationRepository())

	ledger := walletmem.NewLedgerRepository()
	wallets := walletapp.NewWalletService(walletmem.NewWalletRepository(), ledger)

	orders := orderapp.NewOrderService(orderRepo, ordermem.NewEventRecorder())

	groupRepo := groupmem.NewGroupRepository()
	groups := groupapp.NewGroupService(groupRepo, groupmem.NewGroupMemberRepository())

	require.NoError(t, lots.Save(context.Background(), &lotdomain.Lot{
		LotID:            "LOT-1",
		Title:            "盲盒手办",
		SellerID:         "U-seller",
		TotalShares:      totalShares,
		MinTriggerShares: triggerShares,
		UnitPrice:        decimal.NewFromInt(10),
		Round:            1,
		LotteryTime:      time.Now().Add(time.Hour),
		LotteryMode:      lotdomain.LotteryModeCapacity,
	}))

	return &fixture{
		orchestrator: NewOrchestrator(shares, wallets, orders, groups),
		shares:       shares,
		wallets:      wallets,
		orders:       orders,
		groups:       groups,
		lots:         lots,
		ledger:       ledger,
		groupRepo:    groupRepo,
	}
}

func (f *fixture) fund(t *testing.T, userID string, amount int64) string {
	t.Helper()
	wallet, err := f.wallets.EnsureWallet(context.Background(), userID)
	require.NoError(t, err)
	_, err = f.wallets.Credit(context.Background(), wallet.WalletID,
		decimal.NewFromInt(amount), "fund:"+userID, "")
	require.NoError(t, err)
	return wallet.WalletID
}

func TestCheckoutHappyPath(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	order, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 3, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, order.Status)
	assert.Equal(t, "30", order.Amount.String())
	assert.NotEmpty(t, order.PaymentEntryID)

	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "70", wallet.RealBalance)

	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), lot.SoldShares)

	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, groupdomain.StatusForming, group.Status)
	assert.Equal(t, int64(3), group.SharesReserved)
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	first, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)

	second, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	// 只扣了一次款，只占了一次份额
	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "80", wallet.RealBalance)

	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lot.SoldShares)

	entries, total, err := f.wallets.LedgerHistory(ctx, walletID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "one credit plus one debit")
	assert.Len(t, entries, 2)
}

func TestCheckoutResumesInterruptedSaga(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	// 模拟上次结算在扣款前中断：预留与订单已落库，订单停在 CREATED
	reservation, err := f.shares.Reserve(ctx, "LOT-1", 2)
	require.NoError(t, err)
	stale, err := f.orders.Create(ctx, orderapp.CreateParams{
		UserID:           "U-1",
		LotID:            "LOT-1",
		Round:            reservation.Round,
		Quantity:         2,
		Amount:           decimal.NewFromInt(20),
		IdempotencyKey:   "chk-1",
		ReservationToken: reservation.Token,
	})
	require.NoError(t, err)

	order, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)
	assert.Equal(t, stale.OrderID, order.OrderID, "resume keeps the original order")
	assert.Equal(t, orderdomain.StatusPaid, order.Status)

	// 续跑不会重复占份额或重复扣款
	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lot.SoldShares)
	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "80", wallet.RealBalance)

	member, err := f.groups.MemberByOrder(ctx, order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, member)
}

func TestCheckoutResumeDoesNotDoubleCharge(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	// 模拟中断点在扣款与支付锚定之间：扣款已按结算键落账
	reservation, err := f.shares.Reserve(ctx, "LOT-1", 2)
	require.NoError(t, err)
	stale, err := f.orders.Create(ctx, orderapp.CreateParams{
		UserID:           "U-1",
		LotID:            "LOT-1",
		Round:            reservation.Round,
		Quantity:         2,
		Amount:           decimal.NewFromInt(20),
		IdempotencyKey:   "chk-1",
		ReservationToken: reservation.Token,
	})
	require.NoError(t, err)
	_, err = f.wallets.Debit(ctx, walletID, decimal.NewFromInt(20), "chk-1", stale.OrderID)
	require.NoError(t, err)

	order, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, order.Status)

	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "80", wallet.RealBalance, "the landed debit is reused, not repeated")
}

func TestCheckoutReplayOfFailedCheckoutErrors(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 5)

	_, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.ErrorIs(t, err, walletdomain.ErrInsufficientFunds)

	// 失败终结的结算不会被同键重放复活，也不会再动钱包
	_, err = f.wallets.Credit(ctx, walletID, decimal.NewFromInt(100), "fund:more", "")
	require.NoError(t, err)
	_, err = f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	assert.ErrorIs(t, err, ErrCheckoutFailed)

	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "105", wallet.RealBalance)
}

func TestCheckoutResumeAfterRoundAdvance(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	f.fund(t, "U-1", 100)

	reservation, err := f.shares.Reserve(ctx, "LOT-1", 2)
	require.NoError(t, err)
	stale, err := f.orders.Create(ctx, orderapp.CreateParams{
		UserID:           "U-1",
		LotID:            "LOT-1",
		Round:            reservation.Round,
		Quantity:         2,
		Amount:           decimal.NewFromInt(20),
		IdempotencyKey:   "chk-1",
		ReservationToken: reservation.Token,
	})
	require.NoError(t, err)
	require.NoError(t, f.shares.StartNextRound(ctx, "LOT-1", 1))

	// 轮次已推进，残单无法续跑：关单并按失败终结
	_, err = f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	assert.ErrorIs(t, err, ErrCheckoutFailed)

	order, err := f.orders.GetOrder(ctx, stale.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCancelled, order.Status)
}

func TestCheckoutInsufficientFundsCompensates(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	f.fund(t, "U-poor", 5)

	_, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-poor", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-poor",
	})
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientFunds)

	// 补偿后份额计数回到原位
	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lot.SoldShares)

	// 订单被取消而不是悬挂在 CREATED
	order, err := f.orders.GetByIdempotencyKey(ctx, "chk-poor")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, orderdomain.StatusCancelled, order.Status)
}

func TestCheckoutCapacityExceeded(t *testing.T) {
	f := newFixture(t, 5, 5)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 1000)

	_, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 6, IdempotencyKey: "chk-big",
	})
	assert.ErrorIs(t, err, lotdomain.ErrCapacityExceeded)

	// 容量不足在扣款前失败，钱包分文未动
	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "1000", wallet.RealBalance)
}

func TestCheckoutTriggersGroup(t *testing.T) {
	f := newFixture(t, 100, 4)
	ctx := context.Background()
	f.fund(t, "U-1", 100)
	f.fund(t, "U-2", 100)

	_, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)
	_, err = f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-2", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-2",
	})
	require.NoError(t, err)

	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, groupdomain.StatusFulfilling, group.Status)
}

// paidSaveFailRepo 在订单以 PAID 状态落库时注入一次失败。
type paidSaveFailRepo struct {
	*ordermem.OrderRepository
	failures int
}

func (r *paidSaveFailRepo) Save(ctx context.Context, order *orderdomain.Order) error {
	if order.Status == orderdomain.StatusPaid && r.failures > 0 {
		r.failures--
		return assert.AnError
	}
	return r.OrderRepository.Save(ctx, order)
}

func TestCheckoutRefundsWhenPaymentAnchorFails(t *testing.T) {
	repo := &paidSaveFailRepo{OrderRepository: ordermem.NewOrderRepository(), failures: 1}
	f := newFixtureWithOrderRepo(t, 100, 50, repo)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	_, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 3, IdempotencyKey: "chk-1",
	})
	require.Error(t, err)

	// 扣款已落账但支付锚定失败：钱必须整体退回，不能悬在账上
	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "100", wallet.RealBalance)

	order, err := f.orders.GetByIdempotencyKey(ctx, "chk-1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, orderdomain.StatusCancelled, order.Status)

	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lot.SoldShares)

	// 账本留痕：充值、扣款、冲销各一条
	entries, total, err := f.wallets.LedgerHistory(ctx, walletID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, entries, 3)
}

func TestCheckoutRejectedAfterGroupLocks(t *testing.T) {
	f := newFixture(t, 100, 2)
	ctx := context.Background()
	f.fund(t, "U-1", 100)
	lateWalletID := f.fund(t, "U-late", 100)

	_, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)

	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)
	require.Equal(t, groupdomain.StatusFulfilling, group.Status)

	// 成团后迟到的结算被整体补偿：钱包原样、份额回退、订单退款关闭
	_, err = f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-late", LotID: "LOT-1", Quantity: 1, IdempotencyKey: "chk-late",
	})
	assert.ErrorIs(t, err, groupdomain.ErrGroupNotJoinable)

	wallet, err := f.wallets.GetWallet(ctx, lateWalletID)
	require.NoError(t, err)
	assert.Equal(t, "100", wallet.RealBalance)

	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lot.SoldShares)

	lateOrder, err := f.orders.GetByIdempotencyKey(ctx, "chk-late")
	require.NoError(t, err)
	require.NotNil(t, lateOrder)
	assert.Equal(t, orderdomain.StatusRefunded, lateOrder.Status)

	members, err := f.groups.ListMembers(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestCancelRefundsAndReleasesShares(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	order, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 3, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)

	cancelled, err := f.orchestrator.Cancel(ctx, "U-1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusRefunded, cancelled.Status)
	assert.NotEmpty(t, cancelled.RefundEntryID)

	// 退款原路退回，份额计数归零，团内不再有该成员
	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "100", wallet.RealBalance)

	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lot.SoldShares)

	member, err := f.groups.MemberByOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Nil(t, member)

	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, int64(0), group.SharesReserved)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	order, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)

	first, err := f.orchestrator.Cancel(ctx, "U-1", order.OrderID)
	require.NoError(t, err)
	second, err := f.orchestrator.Cancel(ctx, "U-1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, first.RefundEntryID, second.RefundEntryID)

	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "100", wallet.RealBalance)
}

func TestCancelRejectedAfterGroupTriggers(t *testing.T) {
	f := newFixture(t, 100, 2)
	ctx := context.Background()
	walletID := f.fund(t, "U-1", 100)

	order, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 2, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)

	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)
	require.Equal(t, groupdomain.StatusFulfilling, group.Status)

	_, err = f.orchestrator.Cancel(ctx, "U-1", order.OrderID)
	assert.ErrorIs(t, err, groupdomain.ErrGroupNotJoinable)

	// 拒绝退出后资金与份额保持不变
	wallet, err := f.wallets.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, "80", wallet.RealBalance)
	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lot.SoldShares)
}

func TestCancelRejectsForeignOrder(t *testing.T) {
	f := newFixture(t, 100, 50)
	ctx := context.Background()
	f.fund(t, "U-1", 100)

	order, err := f.orchestrator.Checkout(ctx, CheckoutParams{
		UserID: "U-1", LotID: "LOT-1", Quantity: 1, IdempotencyKey: "chk-1",
	})
	require.NoError(t, err)

	_, err = f.orchestrator.Cancel(ctx, "U-other", order.OrderID)
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestConcurrentCheckoutNeverOversells(t *testing.T) {
	const total = 10
	f := newFixture(t, total, total)
	ctx := context.Background()

	const buyers = 16
	for i := 0; i < buyers; i++ {
		f.fund(t, fmt.Sprintf("U-%d", i), 100)
	}

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orchestrator.Checkout(ctx, CheckoutParams{
				UserID:         fmt.Sprintf("U-%d", i),
				LotID:          "LOT-1",
				Quantity:       1,
				IdempotencyKey: fmt.Sprintf("chk-%d", i),
			})
			if err == nil {
				succeeded.Add(1)
			} else {
				assert.ErrorIs(t, err, lotdomain.ErrCapacityExceeded)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(total), succeeded.Load())
	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(total), lot.SoldShares)
}
