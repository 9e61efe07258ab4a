// Package mysql 提供拼团与成员仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/groupbuy/internal/group/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GroupPO 拼团数据库模型，映射 groups 表。
// (lot_id, round) 唯一：一个轮次只允许一个团，并发建团由约束兜底。
type GroupPO struct {
	gorm.Model
	GroupID        string    `gorm:"column:group_id;type:varchar(32);uniqueIndex;not null;comment:团唯一标识"`
	LotID          string    `gorm:"column:lot_id;type:varchar(32);uniqueIndex:idx_lot_round;not null;comment:商品ID"`
	Round          int64     `gorm:"column:round;uniqueIndex:idx_lot_round;not null;comment:轮次"`
	Status         string    `gorm:"column:status;type:varchar(20);default:'FORMING';not null;comment:团状态"`
	SharesReserved int64     `gorm:"column:shares_reserved;default:0;not null;comment:累计预留份额"`
	TriggerShares  int64     `gorm:"column:trigger_shares;not null;comment:成团触发份额"`
	ExpiresAt      time.Time `gorm:"column:expires_at;index;not null;comment:到期时间"`
}

// TableName 指定表名
func (GroupPO) TableName() string {
	return "buy_groups"
}

// GroupMemberPO 团成员数据库模型，映射 buy_group_members 表。
type GroupMemberPO struct {
	gorm.Model
	GroupID          string `gorm:"column:group_id;type:varchar(32);index;not null;comment:团ID"`
	UserID           string `gorm:"column:user_id;type:varchar(32);index;not null;comment:用户ID"`
	OrderID          string `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null;comment:订单ID"`
	Quantity         int64  `gorm:"column:quantity;not null;comment:持有份数"`
	ReservationToken string `gorm:"column:reservation_token;type:varchar(32);not null;comment:份额预留令牌"`
}

// TableName 指定表名
func (GroupMemberPO) TableName() string {
	return "buy_group_members"
}

// groupRepositoryImpl 是 domain.GroupRepository 接口的 GORM 实现。
type groupRepositoryImpl struct {
	db *gorm.DB
}

// NewGroupRepository 创建拼团仓储实例
func NewGroupRepository(db *gorm.DB) domain.GroupRepository {
	return &groupRepositoryImpl{db: db}
}

// Save 实现 domain.GroupRepository.Save
func (r *groupRepositoryImpl) Save(ctx context.Context, group *domain.Group) error {
	po := toGroupPO(group)
	err := r.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "shares_reserved"}),
	}).Create(po).Error
	if err != nil {
		logging.Error(ctx, "group_repository.save failed", "group_id", group.GroupID, "error", err)
		return fmt.Errorf("failed to save group: %w", err)
	}
	group.Model = po.Model
	return nil
}

// Get 实现 domain.GroupRepository.Get
func (r *groupRepositoryImpl) Get(ctx context.Context, groupID string) (*domain.Group, error) {
	var po GroupPO
	if err := r.getDB(ctx).WithContext(ctx).Where("group_id = ?", groupID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "group_repository.get failed", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return toGroup(&po), nil
}

// GetActiveByLotRound 实现 domain.GroupRepository.GetActiveByLotRound
func (r *groupRepositoryImpl) GetActiveByLotRound(ctx context.Context, lotID string, round int64) (*domain.Group, error) {
	var po GroupPO
	err := r.getDB(ctx).WithContext(ctx).
		Where("lot_id = ? AND round = ? AND status IN ?", lotID, round,
			[]string{string(domain.StatusForming), string(domain.StatusFulfilling)}).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active group: %w", err)
	}
	return toGroup(&po), nil
}

// ListByStatus 实现 domain.GroupRepository.ListByStatus
func (r *groupRepositoryImpl) ListByStatus(ctx context.Context, status domain.GroupStatus, limit int) ([]*domain.Group, error) {
	var pos []GroupPO
	err := r.getDB(ctx).WithContext(ctx).
		Where("status = ?", string(status)).
		Order("updated_at asc").
		Limit(limit).
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list groups by status: %w", err)
	}
	groups := make([]*domain.Group, 0, len(pos))
	for i := range pos {
		groups = append(groups, toGroup(&pos[i]))
	}
	return groups, nil
}

// ListExpiredForming 实现 domain.GroupRepository.ListExpiredForming
func (r *groupRepositoryImpl) ListExpiredForming(ctx context.Context, now time.Time, limit int) ([]*domain.Group, error) {
	var pos []GroupPO
	err := r.getDB(ctx).WithContext(ctx).
		Where("status = ? AND expires_at <= ?", string(domain.StatusForming), now).
		Order("expires_at asc").
		Limit(limit).
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired groups: %w", err)
	}
	groups := make([]*domain.Group, 0, len(pos))
	for i := range pos {
		groups = append(groups, toGroup(&pos[i]))
	}
	return groups, nil
}

// ExecSerialized 事务内对团行加排他锁后执行 fn，事务经由 contextx 下传。
func (r *groupRepositoryImpl) ExecSerialized(ctx context.Context, groupID string, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var po GroupPO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("group_id = ?", groupID).
			First(&po).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to lock group row: %w", err)
		}
		return fn(contextx.WithTx(ctx, tx))
	})
}

func (r *groupRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// groupMemberRepositoryImpl 是 domain.GroupMemberRepository 接口的 GORM 实现。
type groupMemberRepositoryImpl struct {
	db *gorm.DB
}

// NewGroupMemberRepository 创建团成员仓储实例
func NewGroupMemberRepository(db *gorm.DB) domain.GroupMemberRepository {
	return &groupMemberRepositoryImpl{db: db}
}

// Save 实现 domain.GroupMemberRepository.Save
func (r *groupMemberRepositoryImpl) Save(ctx context.Context, member *domain.GroupMember) error {
	po := &GroupMemberPO{
		Model:            member.Model,
		GroupID:          member.GroupID,
		UserID:           member.UserID,
		OrderID:          member.OrderID,
		Quantity:         member.Quantity,
		ReservationToken: member.ReservationToken,
	}
	if err := r.getDB(ctx).WithContext(ctx).Create(po).Error; err != nil {
		logging.Error(ctx, "group_member_repository.save failed", "order_id", member.OrderID, "error", err)
		return fmt.Errorf("failed to save group member: %w", err)
	}
	member.Model = po.Model
	return nil
}

// ListByGroup 实现 domain.GroupMemberRepository.ListByGroup
func (r *groupMemberRepositoryImpl) ListByGroup(ctx context.Context, groupID string) ([]*domain.GroupMember, error) {
	var pos []GroupMemberPO
	err := r.getDB(ctx).WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at asc").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	members := make([]*domain.GroupMember, 0, len(pos))
	for i := range pos {
		members = append(members, toMember(&pos[i]))
	}
	return members, nil
}

// GetByOrder 实现 domain.GroupMemberRepository.GetByOrder
func (r *groupMemberRepositoryImpl) GetByOrder(ctx context.Context, orderID string) (*domain.GroupMember, error) {
	var po GroupMemberPO
	if err := r.getDB(ctx).WithContext(ctx).Where("order_id = ?", orderID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group member: %w", err)
	}
	return toMember(&po), nil
}

// Remove 实现 domain.GroupMemberRepository.Remove
func (r *groupMemberRepositoryImpl) Remove(ctx context.Context, groupID, orderID string) error {
	err := r.getDB(ctx).WithContext(ctx).
		Where("group_id = ? AND order_id = ?", groupID, orderID).
		Delete(&GroupMemberPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return nil
}

func (r *groupMemberRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

func toGroupPO(group *domain.Group) *GroupPO {
	return &GroupPO{
		Model:          group.Model,
		GroupID:        group.GroupID,
		LotID:          group.LotID,
		Round:          group.Round,
		Status:         string(group.Status),
		SharesReserved: group.SharesReserved,
		TriggerShares:  group.TriggerShares,
		ExpiresAt:      group.ExpiresAt,
	}
}

func toGroup(po *GroupPO) *domain.Group {
	return &domain.Group{
		Model:          po.Model,
		GroupID:        po.GroupID,
		LotID:          po.LotID,
		Round:          po.Round,
		Status:         domain.GroupStatus(po.Status),
		SharesReserved: po.SharesReserved,
		TriggerShares:  po.TriggerShares,
		ExpiresAt:      po.ExpiresAt,
	}
}

func toMember(po *GroupMemberPO) *domain.GroupMember {
	return &domain.GroupMember{
		Model:            po.Model,
		GroupID:          po.GroupID,
		UserID:           po.UserID,
		OrderID:          po.OrderID,
		Quantity:         po.Quantity,
		ReservationToken: po.ReservationToken,
	}
}
