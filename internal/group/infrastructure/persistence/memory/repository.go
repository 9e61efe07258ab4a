// Package memory 提供拼团与成员仓储的进程内实现，用于单元测试与本地开发。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/groupbuy/internal/group/domain"
)

// GroupRepository 进程内拼团仓储。
type GroupRepository struct {
	mu     sync.Mutex
	groups map[string]*domain.Group

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewGroupRepository 创建进程内拼团仓储
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{
		groups: make(map[string]*domain.Group),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Save 实现 domain.GroupRepository.Save
func (r *GroupRepository) Save(_ context.Context, group *domain.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[group.GroupID]; !ok {
		for _, g := range r.groups {
			if g.LotID == group.LotID && g.Round == group.Round {
				return fmt.Errorf("duplicate group for lot %s round %d", group.LotID, group.Round)
			}
		}
	}
	cp := *group
	r.groups[group.GroupID] = &cp
	return nil
}

// Get 实现 domain.GroupRepository.Get
func (r *GroupRepository) Get(_ context.Context, groupID string) (*domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[groupID]
	if !ok {
		return nil, nil
	}
	cp := *group
	return &cp, nil
}

// GetActiveByLotRound 实现 domain.GroupRepository.GetActiveByLotRound
func (r *GroupRepository) GetActiveByLotRound(_ context.Context, lotID string, round int64) (*domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, group := range r.groups {
		if group.LotID == lotID && group.Round == round &&
			(group.Status == domain.StatusForming || group.Status == domain.StatusFulfilling) {
			cp := *group
			return &cp, nil
		}
	}
	return nil, nil
}

// ListByStatus 实现 domain.GroupRepository.ListByStatus
func (r *GroupRepository) ListByStatus(_ context.Context, status domain.GroupStatus, limit int) ([]*domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Group
	for _, group := range r.groups {
		if group.Status == status {
			cp := *group
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpiredForming 实现 domain.GroupRepository.ListExpiredForming
func (r *GroupRepository) ListExpiredForming(_ context.Context, now time.Time, limit int) ([]*domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Group
	for _, group := range r.groups {
		if group.Status == domain.StatusForming && !now.Before(group.ExpiresAt) {
			cp := *group
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExecSerialized 按团持锁执行 fn。
func (r *GroupRepository) ExecSerialized(ctx context.Context, groupID string, fn func(ctx context.Context) error) error {
	r.lockMu.Lock()
	lock, ok := r.locks[groupID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[groupID] = lock
	}
	r.lockMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

// GroupMemberRepository 进程内团成员仓储。
type GroupMemberRepository struct {
	mu      sync.Mutex
	byOrder map[string]*domain.GroupMember
}

// NewGroupMemberRepository 创建进程内团成员仓储
func NewGroupMemberRepository() *GroupMemberRepository {
	return &GroupMemberRepository{byOrder: make(map[string]*domain.GroupMember)}
}

// Save 实现 domain.GroupMemberRepository.Save
func (r *GroupMemberRepository) Save(_ context.Context, member *domain.GroupMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[member.OrderID]; ok {
		return fmt.Errorf("duplicate member for order %s", member.OrderID)
	}
	cp := *member
	r.byOrder[member.OrderID] = &cp
	return nil
}

// ListByGroup 实现 domain.GroupMemberRepository.ListByGroup
func (r *GroupMemberRepository) ListByGroup(_ context.Context, groupID string) ([]*domain.GroupMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.GroupMember
	for _, member := range r.byOrder {
		if member.GroupID == groupID {
			cp := *member
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// GetByOrder 实现 domain.GroupMemberRepository.GetByOrder
func (r *GroupMemberRepository) GetByOrder(_ context.Context, orderID string) (*domain.GroupMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.byOrder[orderID]
	if !ok {
		return nil, nil
	}
	cp := *member
	return &cp, nil
}

// Remove 实现 domain.GroupMemberRepository.Remove
func (r *GroupMemberRepository) Remove(_ context.Context, groupID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.byOrder[orderID]
	if ok && member.GroupID == groupID {
		delete(r.byOrder, orderID)
	}
	return nil
}
