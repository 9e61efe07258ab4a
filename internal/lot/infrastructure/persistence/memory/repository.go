// Package memory 提供商品与预留仓储的进程内实现，用于单元测试与本地开发。
// 所有条件更新在互斥锁内完成，语义与 MySQL 实现的原子 UPDATE 对齐。
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyfcoding/groupbuy/internal/lot/domain"
)

// LotRepository 进程内商品仓储。
type LotRepository struct {
	mu   sync.Mutex
	lots map[string]*domain.Lot
}

// NewLotRepository 创建进程内商品仓储
func NewLotRepository() *LotRepository {
	return &LotRepository{lots: make(map[string]*domain.Lot)}
}

// Transact 实现 domain.LotRepository.Transact
// 进程内操作不会部分失败，直接透传执行。
func (r *LotRepository) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Save 实现 domain.LotRepository.Save
func (r *LotRepository) Save(_ context.Context, lot *domain.Lot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *lot
	r.lots[lot.LotID] = &cp
	return nil
}

// Get 实现 domain.LotRepository.Get
func (r *LotRepository) Get(_ context.Context, lotID string) (*domain.Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok {
		return nil, nil
	}
	cp := *lot
	return &cp, nil
}

// TryReserveShares 实现 domain.LotRepository.TryReserveShares
func (r *LotRepository) TryReserveShares(_ context.Context, lotID string, quantity int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok {
		return false, nil
	}
	if lot.SoldShares+quantity > lot.TotalShares {
		return false, nil
	}
	lot.SoldShares += quantity
	return true, nil
}

// ReleaseShares 实现 domain.LotRepository.ReleaseShares
func (r *LotRepository) ReleaseShares(_ context.Context, lotID string, round, quantity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok || lot.Round != round || lot.SoldShares < quantity {
		return nil
	}
	lot.SoldShares -= quantity
	return nil
}

// AdvanceRound 实现 domain.LotRepository.AdvanceRound
func (r *LotRepository) AdvanceRound(_ context.Context, lotID string, fromRound int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok || lot.Round != fromRound {
		return nil
	}
	lot.Round++
	lot.SoldShares = 0
	return nil
}

// ReservationRepository 进程内预留仓储。
type ReservationRepository struct {
	mu           sync.Mutex
	reservations map[string]*domain.Reservation
}

// NewReservationRepository 创建进程内预留仓储
func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{reservations: make(map[string]*domain.Reservation)}
}

// Save 实现 domain.ReservationRepository.Save
func (r *ReservationRepository) Save(_ context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[reservation.Token]; ok {
		return fmt.Errorf("duplicate reservation token: %s", reservation.Token)
	}
	cp := *reservation
	r.reservations[reservation.Token] = &cp
	return nil
}

// Get 实现 domain.ReservationRepository.Get
func (r *ReservationRepository) Get(_ context.Context, token string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reservation, ok := r.reservations[token]
	if !ok {
		return nil, nil
	}
	cp := *reservation
	return &cp, nil
}

// MarkReleased 实现 domain.ReservationRepository.MarkReleased
func (r *ReservationRepository) MarkReleased(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reservation, ok := r.reservations[token]
	if !ok || reservation.Released {
		return false, nil
	}
	reservation.Released = true
	return true, nil
}
