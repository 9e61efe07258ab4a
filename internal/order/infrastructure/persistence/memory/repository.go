// Package memory 提供订单仓储的进程内实现，用于单元测试与本地开发。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wyfcoding/groupbuy/internal/order/domain"
)

// OrderRepository 进程内订单仓储。
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	byKey  map[string]string
}

// NewOrderRepository 创建进程内订单仓储
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*domain.Order),
		byKey:  make(map[string]string),
	}
}

// Save 实现 domain.OrderRepository.Save
func (r *OrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existingID, ok := r.byKey[order.IdempotencyKey]; ok && existingID != order.OrderID {
		return fmt.Errorf("duplicate idempotency key: %s", order.IdempotencyKey)
	}
	cp := *order
	r.orders[order.OrderID] = &cp
	r.byKey[order.IdempotencyKey] = order.OrderID
	return nil
}

// Get 实现 domain.OrderRepository.Get
func (r *OrderRepository) Get(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

// GetByIdempotencyKey 实现 domain.OrderRepository.GetByIdempotencyKey
func (r *OrderRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orderID, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *r.orders[orderID]
	return &cp, nil
}

// ListByUser 实现 domain.OrderRepository.ListByUser
func (r *OrderRepository) ListByUser(_ context.Context, userID string, page, size int) ([]*domain.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			cp := *order
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	total := int64(len(out))
	start := (page - 1) * size
	if start >= len(out) {
		return nil, total, nil
	}
	end := start + size
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

// ListByLotRound 实现 domain.OrderRepository.ListByLotRound
func (r *OrderRepository) ListByLotRound(_ context.Context, lotID string, round int64) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, order := range r.orders {
		if order.LotID == lotID && order.Round == round {
			cp := *order
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}
