// Package application 拼团应用服务。
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/groupbuy/internal/group/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// GroupService 拼团服务：建团、入团、退团与到期判定。
// 对同一个团的写操作经由 ExecSerialized 串行化。
type GroupService struct {
	groups  domain.GroupRepository
	members domain.GroupMemberRepository
}

// NewGroupService 创建拼团服务
func NewGroupService(groups domain.GroupRepository, members domain.GroupMemberRepository) *GroupService {
	return &GroupService{groups: groups, members: members}
}

// JoinParams 入团参数。触发线与到期时间由调用方从商品快照带入。
type JoinParams struct {
	LotID            string
	Round            int64
	TriggerShares    int64
	ExpiresAt        time.Time
	UserID           string
	OrderID          string
	Quantity         int64
	ReservationToken string
}

// Join 将一笔已支付订单计入当轮的团，必要时先建团。
// 仅 FORMING 期可入团：累计份额达到触发线转入 FULFILLING 的瞬间
// 成员集即冻结，结算侧据此快照付款，不存在结算中途混入的成员。
func (s *GroupService) Join(ctx context.Context, params JoinParams) (*domain.Group, error) {
	group, err := s.ensureGroup(ctx, params)
	if err != nil {
		return nil, err
	}

	err = s.groups.ExecSerialized(ctx, group.GroupID, func(ctx context.Context) error {
		current, err := s.groups.Get(ctx, group.GroupID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrGroupNotFound
		}
		if current.Status != domain.StatusForming {
			return domain.ErrGroupNotJoinable
		}

		member := &domain.GroupMember{
			GroupID:          current.GroupID,
			UserID:           params.UserID,
			OrderID:          params.OrderID,
			Quantity:         params.Quantity,
			ReservationToken: params.ReservationToken,
		}
		if err := s.members.Save(ctx, member); err != nil {
			return err
		}

		current.SharesReserved += params.Quantity
		if current.Status == domain.StatusForming && current.Triggered() {
			if err := current.TransitionTo(domain.StatusFulfilling); err != nil {
				return err
			}
			logging.Info(ctx, "group reached trigger threshold",
				"group_id", current.GroupID, "lot_id", current.LotID,
				"shares_reserved", current.SharesReserved)
		}
		if err := s.groups.Save(ctx, current); err != nil {
			return err
		}
		group = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// ensureGroup 获取当轮活跃团，不存在则建团。
// (lot_id, round) 唯一约束兜底并发建团：插入冲突时回读既有团。
func (s *GroupService) ensureGroup(ctx context.Context, params JoinParams) (*domain.Group, error) {
	group, err := s.groups.GetActiveByLotRound(ctx, params.LotID, params.Round)
	if err != nil {
		return nil, err
	}
	if group != nil {
		return group, nil
	}

	group = &domain.Group{
		GroupID:       fmt.Sprintf("GRP-%d", idgen.GenID()),
		LotID:         params.LotID,
		Round:         params.Round,
		Status:        domain.StatusForming,
		TriggerShares: params.TriggerShares,
		ExpiresAt:     params.ExpiresAt,
	}
	if err := s.groups.Save(ctx, group); err != nil {
		existing, getErr := s.groups.GetActiveByLotRound(ctx, params.LotID, params.Round)
		if getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return group, nil
}

// Leave 退团，仅 FORMING 期允许。
// 订单侧的退款与份额释放由调用方编排，这里只维护团内计数。
func (s *GroupService) Leave(ctx context.Context, groupID, orderID string) error {
	return s.groups.ExecSerialized(ctx, groupID, func(ctx context.Context) error {
		group, err := s.groups.Get(ctx, groupID)
		if err != nil {
			return err
		}
		if group == nil {
			return domain.ErrGroupNotFound
		}
		if group.Status != domain.StatusForming {
			return domain.ErrGroupNotJoinable
		}

		member, err := s.members.GetByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if member == nil || member.GroupID != groupID {
			return domain.ErrMemberNotFound
		}
		if err := s.members.Remove(ctx, groupID, orderID); err != nil {
			return err
		}

		group.SharesReserved -= member.Quantity
		return s.groups.Save(ctx, group)
	})
}

// MarkExpired 到期判定。
// 到期与触发同时成立时触发优先：已达线的团转 FULFILLING 而不是过期。
func (s *GroupService) MarkExpired(ctx context.Context, groupID string, now time.Time) (domain.GroupStatus, error) {
	var status domain.GroupStatus
	err := s.groups.ExecSerialized(ctx, groupID, func(ctx context.Context) error {
		group, err := s.groups.Get(ctx, groupID)
		if err != nil {
			return err
		}
		if group == nil {
			return domain.ErrGroupNotFound
		}
		status = group.Status
		if group.Status != domain.StatusForming {
			return nil
		}

		if group.Triggered() {
			if err := group.TransitionTo(domain.StatusFulfilling); err != nil {
				return err
			}
		} else if !now.Before(group.ExpiresAt) {
			if err := group.TransitionTo(domain.StatusExpired); err != nil {
				return err
			}
		} else {
			return nil
		}
		if err := s.groups.Save(ctx, group); err != nil {
			return err
		}
		status = group.Status
		return nil
	})
	return status, err
}

// GetGroup 获取团详情
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, domain.ErrGroupNotFound
	}
	return group, nil
}

// ListMembers 列举团成员
func (s *GroupService) ListMembers(ctx context.Context, groupID string) ([]*domain.GroupMember, error) {
	return s.members.ListByGroup(ctx, groupID)
}

// MemberByOrder 按订单号查团成员，未入团返回 nil。
func (s *GroupService) MemberByOrder(ctx context.Context, orderID string) (*domain.GroupMember, error) {
	return s.members.GetByOrder(ctx, orderID)
}
