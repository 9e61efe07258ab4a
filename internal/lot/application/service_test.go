package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/groupbuy/internal/lot/domain"
	"github.com/wyfcoding/groupbuy/internal/lot/infrastructure/persistence/memory"
)

func newTestService(t *testing.T, totalShares int64) (*ShareCounterService, *memory.LotRepository) {
	t.Helper()
	lots := memory.NewLotRepository()
	reservations := memory.NewReservationRepository()
	svc := NewShareCounterService(lots, reservations)

	err := lots.Save(context.Background(), &domain.Lot{
		LotID:            "LOT-1",
		Title:            "测试商品",
		SellerID:         "U-seller",
		TotalShares:      totalShares,
		MinTriggerShares: totalShares,
		UnitPrice:        decimal.NewFromInt(10),
		Round:            1,
		LotteryMode:      domain.LotteryModeCapacity,
	})
	require.NoError(t, err)
	return svc, lots
}

func TestReserveAndRelease(t *testing.T) {
	svc, lots := newTestService(t, 10)
	ctx := context.Background()

	r1, err := svc.Reserve(ctx, "LOT-1", 4)
	require.NoError(t, err)
	assert.NotEmpty(t, r1.Token)
	assert.Equal(t, int64(1), r1.Round)

	lot, err := lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), lot.SoldShares)

	require.NoError(t, svc.Release(ctx, r1.Token))
	lot, err = lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lot.SoldShares)
}

func TestReserveRejectsOverCapacity(t *testing.T) {
	svc, lots := newTestService(t, 10)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "LOT-1", 8)
	require.NoError(t, err)

	// 剩余 2 份，请求 3 份必须整笔拒绝
	_, err = svc.Reserve(ctx, "LOT-1", 3)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	lot, err := lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), lot.SoldShares)

	// 正好填满可以成功
	_, err = svc.Reserve(ctx, "LOT-1", 2)
	require.NoError(t, err)
}

func TestReserveValidation(t *testing.T) {
	svc, _ := newTestService(t, 10)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "LOT-1", 0)
	assert.Error(t, err)

	_, err = svc.Reserve(ctx, "LOT-404", 1)
	assert.ErrorIs(t, err, domain.ErrLotNotFound)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	const total = 50
	svc, lots := newTestService(t, total)
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(ctx, "LOT-1", 1); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(total), succeeded.Load())
	lot, err := lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(total), lot.SoldShares)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, lots := newTestService(t, 10)
	ctx := context.Background()

	r, err := svc.Reserve(ctx, "LOT-1", 5)
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, r.Token))
	require.NoError(t, svc.Release(ctx, r.Token))
	require.NoError(t, svc.Release(ctx, r.Token))

	lot, err := lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lot.SoldShares)
}

// flakyReleaseLots 注入一次计数回退失败，其余委托进程内实现。
type flakyReleaseLots struct {
	*memory.LotRepository
	failures int
}

func (r *flakyReleaseLots) ReleaseShares(ctx context.Context, lotID string, round, quantity int64) error {
	if r.failures > 0 {
		r.failures--
		return assert.AnError
	}
	return r.LotRepository.ReleaseShares(ctx, lotID, round, quantity)
}

func TestReleaseRetryAfterFailureCompletes(t *testing.T) {
	lots := &flakyReleaseLots{LotRepository: memory.NewLotRepository(), failures: 1}
	reservations := memory.NewReservationRepository()
	svc := NewShareCounterService(lots, reservations)
	ctx := context.Background()

	require.NoError(t, lots.Save(ctx, &domain.Lot{
		LotID:       "LOT-1",
		TotalShares: 10,
		UnitPrice:   decimal.NewFromInt(10),
		Round:       1,
	}))
	r, err := svc.Reserve(ctx, "LOT-1", 5)
	require.NoError(t, err)

	// 计数回退失败时令牌不能被消费，否则重放永远无法补齐回退
	require.Error(t, svc.Release(ctx, r.Token))
	reservation, err := reservations.Get(ctx, r.Token)
	require.NoError(t, err)
	assert.False(t, reservation.Released)

	require.NoError(t, svc.Release(ctx, r.Token))
	lot, err := lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lot.SoldShares)

	// 补齐之后重复释放仍是幂等空操作
	require.NoError(t, svc.Release(ctx, r.Token))
	lot, err = lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lot.SoldShares)
}

func TestReleaseUnknownToken(t *testing.T) {
	svc, _ := newTestService(t, 10)
	err := svc.Release(context.Background(), "RSV-404")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestReleaseAfterRoundAdvanceIsNoop(t *testing.T) {
	svc, lots := newTestService(t, 10)
	ctx := context.Background()

	r, err := svc.Reserve(ctx, "LOT-1", 5)
	require.NoError(t, err)

	require.NoError(t, svc.StartNextRound(ctx, "LOT-1", 1))

	// 旧轮次的释放不能扰动新一轮的计数
	require.NoError(t, svc.Release(ctx, r.Token))
	lot, err := lots.Get(ctx, "LOT-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), lot.Round)
	assert.Equal(t, int64(0), lot.SoldShares)
}
