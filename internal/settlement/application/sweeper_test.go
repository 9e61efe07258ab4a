package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	checkoutapp "github.com/wyfcoding/groupbuy/internal/checkout/application"
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
	walletmem "github.com/wyfcoding/groupbuy/internal/wallet/infrastructure/persistence/memory"
	"github.com/wyfcoding/pkg/lock"
)

// localLock 进程内租约实现，测试用。
type localLock struct {
	mu     sync.Mutex
	held   map[string]string
	refuse bool
	seq    int
}

func newLocalLock() *localLock {
	return &localLock{held: make(map[string]string)}
}

func (l *localLock) Lock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refuse {
		return "", lock.ErrLockFailed
	}
	if _, ok := l.held[key]; ok {
		return "", lock.ErrLockFailed
	}
	l.seq++
	token := fmt.Sprintf("tok-%d", l.seq)
	l.held[key] = token
	return token, nil
}

func (l *localLock) TryLock(ctx context.Context, key string, ttl, _ time.Duration) (string, error) {
	return l.Lock(ctx, key, ttl)
}

func (l *localLock) LockWithWatchdog(ctx context.Context, key string, ttl time.Duration) (string, func(), error) {
	token, err := l.Lock(ctx, key, ttl)
	return token, func() {}, err
}

func (l *localLock) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

type fixture struct {
	sweeper      *Sweeper
	orchestrator *checkoutapp.Orchestrator
	wallets      *walletapp.WalletService
	orders       *orderapp.OrderService
	lots         *lotmem.LotRepository
	groupRepo    *groupmem.GroupRepository
	recorder     *groupmem.EventRecorder
	locker       *localLock
}

func newFixture(t *testing.T, totalShares, triggerShares int64, lotteryTime time.Time) *fixture {
	t.Helper()

	lots := lotmem.NewLotRepository()
	shares := lotapp.NewShareCounterService(lots, lotmem.NewReservationRepository())
	wallets := walletapp.NewWalletService(walletmem.NewWalletRepository(), walletmem.NewLedgerRepository())
	orders := orderapp.NewOrderService(ordermem.NewOrderRepository(), ordermem.NewEventRecorder())
	groupRepo := groupmem.NewGroupRepository()
	memberRepo := groupmem.NewGroupMemberRepository()
	groups := groupapp.NewGroupService(groupRepo, memberRepo)
	recorder := groupmem.NewEventRecorder()
	locker := newLocalLock()

	require.NoError(t, lots.Save(context.Background(), &lotdomain.Lot{
		LotID:            "LOT-1",
		Title:            "限量球鞋",
		SellerID:         "U-seller",
		TotalShares:      totalShares,
		MinTriggerShares: triggerShares,
		UnitPrice:        decimal.NewFromInt(10),
		Round:            1,
		LotteryTime:      lotteryTime,
		LotteryMode:      lotdomain.LotteryModeCapacity,
	}))

	sweeper := NewSweeper(groups, groupRepo, memberRepo, orders, wallets, shares,
		recorder, locker, Config{Interval: time.Minute, LeaseTTL: time.Minute, BatchSize: 10})

	return &fixture{
		sweeper:      sweeper,
		orchestrator: checkoutapp.NewOrchestrator(shares, wallets, orders, groups),
		wallets:      wallets,
		orders:       orders,
		lots:         lots,
		groupRepo:    groupRepo,
		recorder:     recorder,
		locker:       locker,
	}
}

func (f *fixture) buy(t *testing.T, userID string, quantity int64) *orderdomain.Order {
	t.Helper()
	ctx := context.Background()
	wallet, err := f.wallets.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	_, err = f.wallets.Credit(ctx, wallet.WalletID, decimal.NewFromInt(1000), "fund:"+userID, "")
	require.NoError(t, err)

	order, err := f.orchestrator.Checkout(ctx, checkoutapp.CheckoutParams{
		UserID:         userID,
		LotID:          "LOT-1",
		Quantity:       quantity,
		IdempotencyKey: "chk-" + userID,
	})
	require.NoError(t, err)
	return order
}

func TestSweepSettlesFulfilledGroup(t *testing.T) {
	f := newFixture(t, 50, 50, time.Now().Add(time.Hour))
	ctx := context.Background()

	var orders []*orderdomain.Order
	for i := 0; i < 5; i++ {
		orders = append(orders, f.buy(t, fmt.Sprintf("U-%d", i), 10))
	}

	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)
	require.Equal(t, groupdomain.StatusFulfilling, group.Status)

	require.NoError(t, f.sweeper.SweepOnce(ctx))

	// 全部订单关闭，卖家收到全额托管释放
	for _, order := range orders {
		got, err := f.orders.GetOrder(ctx, order.OrderID)
		require.NoError(t, err)
		assert.Equal(t, orderdomain.StatusCompleted, got.Status)
	}
	seller, err := f.wallets.GetWalletByUser(ctx, "U-seller")
	require.NoError(t, err)
	assert.Equal(t, "500", seller.RealBalance)

	settled, err := f.groupRepo.Get(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, groupdomain.StatusSettled, settled.Status)

	// 轮次切换，新一轮计数清零
	lot, err := f.lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lot.Round)
	assert.Equal(t, int64(0), lot.SoldShares)

	require.Len(t, f.recorder.SettledEvents(), 1)
	assert.Equal(t, "500", f.recorder.SettledEvents()[0].GrossAmount)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t, 50, 50, time.Now().Add(time.Hour))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.buy(t, fmt.Sprintf("U-%d", i), 10)
	}

	require.NoError(t, f.sweeper.SweepOnce(ctx))
	require.NoError(t, f.sweeper.SweepOnce(ctx))
	require.NoError(t, f.sweeper.SweepOnce(ctx))

	// 重扫不会重复给卖家打款
	seller, err := f.wallets.GetWalletByUser(ctx, "U-seller")
	require.NoError(t, err)
	assert.Equal(t, "500", seller.RealBalance)
	assert.Len(t, f.recorder.SettledEvents(), 1)
}

func TestSweepRefundsExpiredGroup(t *testing.T) {
	f := newFixture(t, 50, 50, time.Now().Add(-time.Minute))
	ctx := context.Background()

	// 只卖出 30 份，未达 50 的成团线
	var orders []*orderdomain.Order
	for i := 0; i < 3; i++ {
		orders = append(orders, f.buy(t, fmt.Sprintf("U-%d", i), 10))
	}

	require.NoError(t, f.sweeper.SweepOnce(ctx))

	// 每个买家原路退回，余额与入金持平
	for i := 0; i < 3; i++ {
		wallet, err := f.wallets.GetWalletByUser(ctx, fmt.Sprintf("U-%d", i))
		require.NoError(t, err)
		assert.Equal(t, "1000", wallet.RealBalance)
	}
	for _, order := range orders {
		got, err := f.orders.GetOrder(ctx, order.OrderID)
		require.NoError(t, err)
		assert.Equal(t, orderdomain.StatusRefunded, got.Status)
		assert.NotEmpty(t, got.RefundEntryID)
	}

	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)
	assert.Nil(t, group, "no active group remains for the round")

	refunded := f.recorder.RefundedEvents()
	require.Len(t, refunded, 1)
	assert.Equal(t, 3, refunded[0].MemberCount)

	// 卖家分文未得
	_, err = f.wallets.GetWalletByUser(ctx, "U-seller")
	assert.Error(t, err)
}

func TestSweepExpiryTriggerTieBreak(t *testing.T) {
	// 到期时刚好达线：成团结算而不是退款
	f := newFixture(t, 50, 30, time.Now().Add(-time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.buy(t, fmt.Sprintf("U-%d", i), 10)
	}

	require.NoError(t, f.sweeper.SweepOnce(ctx))

	seller, err := f.wallets.GetWalletByUser(ctx, "U-seller")
	require.NoError(t, err)
	assert.Equal(t, "300", seller.RealBalance)
	assert.Empty(t, f.recorder.RefundedEvents())
}

func TestSweepSkipsLeasedGroups(t *testing.T) {
	f := newFixture(t, 50, 50, time.Now().Add(time.Hour))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.buy(t, fmt.Sprintf("U-%d", i), 10)
	}
	group, err := f.groupRepo.GetActiveByLotRound(ctx, "LOT-1", 1)
	require.NoError(t, err)

	// 另一实例持有租约，本实例本轮跳过该团
	f.locker.refuse = true
	require.NoError(t, f.sweeper.SweepOnce(ctx))

	current, err := f.groupRepo.Get(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, groupdomain.StatusFulfilling, current.Status)
	assert.Empty(t, f.recorder.SettledEvents())

	// 租约可得后结算如常
	f.locker.refuse = false
	require.NoError(t, f.sweeper.SweepOnce(ctx))
	current, err = f.groupRepo.Get(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, groupdomain.StatusSettled, current.Status)
}
