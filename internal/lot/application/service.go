// Package application 份额计数应用服务。
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/groupbuy/internal/lot/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// ShareCounterService 份额计数服务：预留与释放都是全有或全无，
// 并发下所有成功预留之和不会超过 total_shares。
type ShareCounterService struct {
	lots         domain.LotRepository
	reservations domain.ReservationRepository
}

// NewShareCounterService 创建份额计数服务
func NewShareCounterService(lots domain.LotRepository, reservations domain.ReservationRepository) *ShareCounterService {
	return &ShareCounterService{lots: lots, reservations: reservations}
}

// Reserve 预留份额。
// 底层是一次条件更新，超卖直接失败 ErrCapacityExceeded。
func (s *ShareCounterService) Reserve(ctx context.Context, lotID string, quantity int64) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("reserve quantity must be positive, got %d", quantity)
	}

	lot, err := s.lots.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, domain.ErrLotNotFound
	}

	ok, err := s.lots.TryReserveShares(ctx, lotID, quantity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrCapacityExceeded
	}

	reservation := &domain.Reservation{
		Token:    fmt.Sprintf("RSV-%d", idgen.GenID()),
		LotID:    lotID,
		Round:    lot.Round,
		Quantity: quantity,
	}
	if err := s.reservations.Save(ctx, reservation); err != nil {
		// 预留记录落库失败时回退计数，避免占着份额却无人认领
		if relErr := s.lots.ReleaseShares(ctx, lotID, lot.Round, quantity); relErr != nil {
			logging.Error(ctx, "failed to roll back reservation counter",
				"lot_id", lotID, "quantity", quantity, "error", relErr)
		}
		return nil, err
	}
	return reservation, nil
}

// errAlreadyReleased 事务内发现令牌已被并发消费，整体回滚后按幂等成功处理。
var errAlreadyReleased = errors.New("reservation already released")

// Release 释放预留，按 Token 幂等：重复释放无额外效果。
// 计数回退与令牌消费在同一事务内完成，且令牌消费在后：
// 事务中断时令牌未被消费，重放会补齐计数回退。
func (s *ShareCounterService) Release(ctx context.Context, token string) error {
	reservation, err := s.reservations.Get(ctx, token)
	if err != nil {
		return err
	}
	if reservation == nil {
		return domain.ErrReservationNotFound
	}
	if reservation.Released {
		return nil
	}

	err = s.lots.Transact(ctx, func(ctx context.Context) error {
		if err := s.lots.ReleaseShares(ctx, reservation.LotID, reservation.Round, reservation.Quantity); err != nil {
			return err
		}
		first, err := s.reservations.MarkReleased(ctx, token)
		if err != nil {
			return err
		}
		if !first {
			return errAlreadyReleased
		}
		return nil
	})
	if errors.Is(err, errAlreadyReleased) {
		return nil
	}
	return err
}

// GetLot 获取商品（目录读侧）
func (s *ShareCounterService) GetLot(ctx context.Context, lotID string) (*domain.Lot, error) {
	lot, err := s.lots.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, domain.ErrLotNotFound
	}
	return lot, nil
}

// StartNextRound 结束指定轮次并开启下一轮（由结算完成后驱动）。
func (s *ShareCounterService) StartNextRound(ctx context.Context, lotID string, fromRound int64) error {
	return s.lots.AdvanceRound(ctx, lotID, fromRound)
}
